package common

import (
	"context"
	"math/rand/v2"
	"time"
)

const waitScale = 250 * time.Millisecond // scale factor for backoff timing

// Backoff implements an exponential backoff strategy with jitter.
type Backoff struct {
	n       int // number of consecutive failures
	maxWait time.Duration
}

func NewBackoff(maxWait time.Duration) *Backoff {
	return &Backoff{
		maxWait: maxWait,
	}
}

// Next records another failure and returns how long to wait before trying again:
// waitScale * n^2 capped at maxWait, with 80-120% jitter.
func (b *Backoff) Next() time.Duration {
	b.n++
	wait := min(waitScale*time.Duration(b.n*b.n), b.maxWait)
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(wait) * jitter)
}

// Wait waits for the next backoff duration or until the context is done.
func (b *Backoff) Wait(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Failures returns the number of consecutive failures recorded since the last Reset.
func (b *Backoff) Failures() int {
	return b.n
}

// Reset resets the backoff counter.
func (b *Backoff) Reset() {
	b.n = 0
}
