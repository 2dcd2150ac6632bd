package orchestration

import (
	"context"
	"time"

	"github.com/nucleus/fluxion/internal/core"
)

// RetryPolicy bounds retries of one chunk.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	Cap        time.Duration
}

// DefaultRetryPolicy retries three times, backing off from 5s up to 5m.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, Base: 5 * time.Second, Cap: 5 * time.Minute}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Base <= 0 {
		p.Base = DefaultRetryPolicy.Base
	}
	if p.Cap <= 0 {
		p.Cap = DefaultRetryPolicy.Cap
	}
	return p
}

// Backoff returns the delay before retry n (1-based): Base * 2^(n-1),
// capped at Cap.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.Base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.Cap || d <= 0 {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// shouldRetry reports whether err may be retried at all.
func shouldRetry(err error) bool {
	switch core.CodeOf(err) {
	case core.CodeUnreachable, core.CodeTimeout:
		return true
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
