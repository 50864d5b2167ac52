package miner

import "testing"

func TestZeroBits(t *testing.T) {
	tests := []struct {
		target string
		want   int
	}{
		{"00FFFFFF", 8},
		{"000FFFFF", 12},
		{"0000FFFF", 16},
		{"00007FFF", 17},
		{"FFFFFFFF", 0},
		{"7FFFFFFF", 1},
		{"00000000", 32},
	}
	for _, tc := range tests {
		got, err := ZeroBits(tc.target)
		if err != nil {
			t.Errorf("ZeroBits(%q): unexpected error %v", tc.target, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ZeroBits(%q) = %d, want %d", tc.target, got, tc.want)
		}
	}
}

func TestZeroBits_RejectsBadTargets(t *testing.T) {
	if _, err := ZeroBits(""); err == nil {
		t.Error("expected error for empty target")
	}
	if _, err := ZeroBits("zzzz"); err == nil {
		t.Error("expected error for non-hex target")
	}
	if _, err := ZeroBits("0F0"); err == nil {
		t.Error("expected error for odd-length target")
	}
}

func TestHashMeetsTarget(t *testing.T) {
	tests := []struct {
		name     string
		hash     []byte
		zeroBits int
		want     bool
	}{
		{"24-bit hash meets 24", []byte{0x00, 0x00, 0x00, 0xFF}, 24, true},
		{"24-bit hash meets 16", []byte{0x00, 0x00, 0x00, 0xFF}, 16, true},
		{"24-bit hash meets 17", []byte{0x00, 0x00, 0x00, 0xFF}, 17, true},
		{"24-bit hash fails 25", []byte{0x00, 0x00, 0x00, 0xFF}, 25, false},
		{"17-bit hash meets 17", []byte{0x00, 0x00, 0x7F, 0xFF}, 17, true},
		{"17-bit hash fails 18", []byte{0x00, 0x00, 0x7F, 0xFF}, 18, false},
		{"25-bit hash meets 25", []byte{0x00, 0x00, 0x00, 0x7F}, 25, true},
		{"25-bit hash fails 26", []byte{0x00, 0x00, 0x00, 0x7F}, 26, false},
		{"zero bits always passes", []byte{0xFF}, 0, true},
		{"hash shorter than full bytes", []byte{0x00, 0x00}, 24, false},
		{"exact full-byte boundary, no partial byte left", []byte{0x00, 0x00}, 16, true},
		{"partial byte required but hash ends", []byte{0x00, 0x00}, 17, false},
	}
	for _, tc := range tests {
		if got := HashMeetsTarget(tc.hash, tc.zeroBits); got != tc.want {
			t.Errorf("%s: HashMeetsTarget = %v, want %v", tc.name, got, tc.want)
		}
	}
}
