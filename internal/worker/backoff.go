package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/rzbill/claimq/internal/queue"
)

type BackoffType string

const (
	BackoffExp       BackoffType = "exp"
	BackoffExpJitter BackoffType = "exp-jitter"
	BackoffFixed     BackoffType = "fixed"
	BackoffNone      BackoffType = "none"
)

// RetryPolicy bounds retries of transient queue errors.
type RetryPolicy struct {
	Type        BackoffType
	Base        time.Duration
	Cap         time.Duration
	Factor      float64
	MaxAttempts uint32
}

func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Type: BackoffExpJitter, Base: 200 * time.Millisecond, Cap: 30 * time.Second, Factor: 2.0, MaxAttempts: 5}
}

func computeBackoff(pol RetryPolicy, attempt uint32) time.Duration {
	switch pol.Type {
	case BackoffNone:
		return 0
	case BackoffFixed:
		if pol.Base <= 0 {
			return 0
		}
		if pol.Cap > 0 && pol.Base > pol.Cap {
			return pol.Cap
		}
		return pol.Base
	default:
		base := pol.Base
		if base <= 0 {
			base = 200 * time.Millisecond
		}
		factor := pol.Factor
		if factor <= 0 {
			factor = 2.0
		}
		d := base
		for i := uint32(1); i < attempt; i++ {
			d = time.Duration(float64(d) * factor)
			if pol.Cap > 0 && d >= pol.Cap {
				d = pol.Cap
				break
			}
		}
		if pol.Cap > 0 && d > pol.Cap {
			d = pol.Cap
		}
		if pol.Type == BackoffExpJitter && d > 0 {
			d = time.Duration(rand.Int63n(int64(d)) + 1)
		}
		return d
	}
}

// retry runs fn until it succeeds, fails with a non-transient error, or
// the policy's attempts are exhausted. The last error is returned.
func retry(ctx context.Context, pol RetryPolicy, fn func() error) error {
	max := pol.MaxAttempts
	if max == 0 {
		max = 1
	}
	var err error
	for attempt := uint32(1); attempt <= max; attempt++ {
		if err = fn(); err == nil || !queue.IsTransient(err) {
			return err
		}
		if attempt == max {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(computeBackoff(pol, attempt)):
		}
	}
	return err
}
