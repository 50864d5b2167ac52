package miner

import (
	"encoding/hex"
	"fmt"
	"math/bits"
)

// ZeroBits converts a hex-encoded difficulty target into the number of
// leading zero bits a hash must carry to be accepted. Full zero bytes
// contribute 8 bits each; the first non-zero byte contributes its own
// leading-zero count and ends the scan.
//
// An empty or malformed target is a misconfiguration, not an
// "always satisfied" rule, so it is surfaced as an error.
func ZeroBits(targetHex string) (int, error) {
	if targetHex == "" {
		return 0, fmt.Errorf("empty difficulty target")
	}
	target, err := hex.DecodeString(targetHex)
	if err != nil {
		return 0, fmt.Errorf("malformed difficulty target %q: %w", targetHex, err)
	}

	zeroBits := 0
	for _, b := range target {
		if b == 0x00 {
			zeroBits += 8
			continue
		}
		zeroBits += bits.LeadingZeros8(b)
		break
	}
	return zeroBits, nil
}

// HashMeetsTarget reports whether hash has at least zeroBits leading
// zero bits. A partial byte is tested by masking its top remaining bits.
func HashMeetsTarget(hash []byte, zeroBits int) bool {
	fullBytes := zeroBits / 8
	remaining := zeroBits % 8

	if len(hash) < fullBytes {
		return false
	}
	for _, b := range hash[:fullBytes] {
		if b != 0 {
			return false
		}
	}

	if remaining == 0 {
		return true
	}
	if len(hash) == fullBytes {
		return false
	}
	mask := byte(0xFF << (8 - remaining))
	return hash[fullBytes]&mask == 0
}
