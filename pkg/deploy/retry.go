package deploy

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/vrlab-network/vrlab/pkg/controlplane"
)

// RetryPolicy bounds retries of transient control-plane failures.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// BaseDelay is the backoff before the second try; it doubles per retry.
	BaseDelay time.Duration
}

// DefaultRetryPolicy matches the engine defaults: 3 attempts, 500ms base.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: 500 * time.Millisecond}

// withRetry runs fn until it succeeds, fails non-transiently, or exhausts
// the policy. Backoff doubles per retry with full jitter (a uniform draw
// from [0, delay)) to avoid retry stampedes against the control plane.
// Returns the number of attempts made alongside fn's final error.
func withRetry(ctx context.Context, p RetryPolicy, fn func(context.Context) error) (int, error) {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	delay := p.BaseDelay
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !controlplane.IsTransient(err) || attempt >= p.Attempts {
			return attempt, err
		}

		sleep := time.Duration(0)
		if delay > 0 {
			sleep = time.Duration(rand.Int64N(int64(delay)))
		}
		select {
		case <-ctx.Done():
			return attempt, err
		case <-time.After(sleep):
		}
		delay *= 2
	}
}
