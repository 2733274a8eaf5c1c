package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy computes the delay before retry attempt n as
// min(initial * multiplier^(n-1), max), plus uniform jitter up to
// Jitter*delay. It carries no per-call state; attempt counters live with
// the operation that retries.
type Policy struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64 // fraction of the computed delay, [0, 1]
	MaxAttempts int

	randFn func() float64 // test seam, defaults to rand.Float64
}

// DefaultPolicy mirrors the collection retry defaults: 1s initial, doubled
// per attempt, capped at 30s, five attempts.
func DefaultPolicy() Policy {
	return Policy{
		Initial:     time.Second,
		Max:         30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
		MaxAttempts: 5,
	}
}

// DelayFor returns the backoff delay before attempt n (1-based).
func (p Policy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	max := p.Max
	if max <= 0 || max < initial {
		max = initial
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if delay > float64(max) {
		delay = float64(max)
	}

	if p.Jitter > 0 {
		randFn := p.randFn
		if randFn == nil {
			randFn = rand.Float64
		}
		delay += delay * p.Jitter * randFn()
	}

	return time.Duration(delay)
}

// Attempts returns the configured attempt budget, defaulting to 1.
func (p Policy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
