package ingestion

import (
	"context"
	"time"
)

// Backoff returns the wait before the next status query, given how many queries were made.
type Backoff interface {
	Delay(attempt int) time.Duration
	// MaxDelay is the longest wait Delay can return.
	MaxDelay() time.Duration
}

// LeaseTTLFor sizes a poll lease so it outlives the longest sleep plus a query round trip.
func LeaseTTLFor(b Backoff) time.Duration {
	return 2*b.MaxDelay() + time.Minute
}

type FixedBackoff struct {
	Interval time.Duration
}

func (b FixedBackoff) Delay(int) time.Duration {
	return b.Interval
}

func (b FixedBackoff) MaxDelay() time.Duration {
	return b.Interval
}

// CappedExponentialBackoff doubles Base per attempt up to Max. No jitter.
type CappedExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b CappedExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

func (b CappedExponentialBackoff) MaxDelay() time.Duration {
	if b.Base > b.Max {
		return b.Base
	}
	return b.Max
}

// NewBackoff maps the POLL_BACKOFF setting to a strategy. Unknown names fall back to fixed.
func NewBackoff(kind string, base, max time.Duration) Backoff {
	if kind == "exponential" {
		return CappedExponentialBackoff{Base: base, Max: max}
	}
	return FixedBackoff{Interval: base}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
