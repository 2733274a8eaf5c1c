package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/pwmpw/uniswap-relay/internal/metrics"
	"github.com/pwmpw/uniswap-relay/internal/retry"
	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket rate limiter for subgraph calls. Pollers
// hitting the same upstream share one instance; token accounting is handled
// atomically by x/time/rate.
type Limiter struct {
	limiter *rate.Limiter
	source  string
	maxWait time.Duration
}

// NewLimiter creates a rate limiter that allows rps requests per second with
// a burst capacity of burst tokens. maxWait bounds how long a caller may
// block for a token; zero means wait indefinitely (until ctx is done).
func NewLimiter(rps float64, burst int, maxWait time.Duration, source string) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		source:  source,
		maxWait: maxWait,
	}
}

// Wait blocks until the limiter allows one event, or ctx is done, or the
// configured maximum wait elapses. Exceeding the maximum wait is a transient
// condition: the cycle retries, it does not fail terminally.
// Uses Reserve() to guarantee exactly one token is consumed per call.
func (l *Limiter) Wait(ctx context.Context) error {
	r := l.limiter.Reserve()
	if !r.OK() {
		return retry.Terminal(fmt.Errorf("rate: cannot reserve token"))
	}

	delay := r.Delay()
	if delay == 0 {
		return nil
	}

	if l.maxWait > 0 && delay > l.maxWait {
		r.Cancel()
		return retry.Transient(fmt.Errorf("rate-limit wait %s exceeds budget %s", delay, l.maxWait))
	}

	metrics.RateLimitWaits.WithLabelValues(l.source).Inc()
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// Tokens returns the number of tokens currently available.
func (l *Limiter) Tokens() float64 {
	return l.limiter.Tokens()
}
