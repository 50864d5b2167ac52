package backoff

import (
	"context"
	"testing"
	"time"
)

func TestNext_GrowsAndCaps(t *testing.T) {
	b := New(5*time.Millisecond, 40*time.Millisecond, 2.0)

	want := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond, // capped
		40 * time.Millisecond,
	}

	prev := time.Duration(0)
	for i, w := range want {
		got := b.Next()
		if got != w {
			t.Errorf("attempt %d: delay = %v, want %v", i, got, w)
		}
		if got < prev {
			t.Errorf("attempt %d: delay decreased without Reset (%v < %v)", i, got, prev)
		}
		prev = got
		if err := b.Sleep(context.Background()); err != nil {
			t.Fatalf("Sleep: %v", err)
		}
	}
}

func TestReset_ReturnsToBase(t *testing.T) {
	b := New(time.Millisecond, time.Second, 2.0)
	for i := 0; i < 4; i++ {
		_ = b.Sleep(context.Background())
	}
	if b.Next() == time.Millisecond {
		t.Fatal("expected advanced delay before Reset")
	}

	b.Reset()
	if got := b.Next(); got != time.Millisecond {
		t.Errorf("delay after Reset = %v, want %v", got, time.Millisecond)
	}
	if b.Attempts() != 0 {
		t.Errorf("attempts after Reset = %d, want 0", b.Attempts())
	}
}

func TestSleep_CancelledContext(t *testing.T) {
	b := New(time.Hour, time.Hour, 2.0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := b.Sleep(ctx)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep did not return promptly on cancellation")
	}
}
