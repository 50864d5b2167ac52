// Package backoff implements the exponential retry policy used by every
// loop that has to tolerate a flaky coordinator without busy-waiting.
package backoff

import (
	"context"
	"math"
	"time"
)

// Backoff is mutable retry state. One instance belongs to exactly one
// logical retry loop; it is not safe to share across goroutines.
type Backoff struct {
	base       time.Duration
	cap        time.Duration
	multiplier float64
	attempts   int
}

// New returns a Backoff starting at base, advancing by multiplier per
// failure, and never sleeping longer than cap.
func New(base, cap time.Duration, multiplier float64) *Backoff {
	return &Backoff{base: base, cap: cap, multiplier: multiplier}
}

// Reset zeroes the attempt counter so the next Sleep waits base again.
// Call it after any success.
func (b *Backoff) Reset() {
	b.attempts = 0
}

// Next returns the delay the following Sleep would use, without side
// effects.
func (b *Backoff) Next() time.Duration {
	d := time.Duration(float64(b.base) * math.Pow(b.multiplier, float64(b.attempts)))
	if d > b.cap || d <= 0 {
		return b.cap
	}
	return d
}

// Sleep blocks for the current delay and advances the attempt counter.
// It returns early with ctx.Err() if the context is cancelled.
func (b *Backoff) Sleep(ctx context.Context) error {
	d := b.Next()
	b.attempts++

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Attempts reports how many times Sleep has run since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}
