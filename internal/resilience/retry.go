package resilience

import (
	"context"
	"errors"
	"time"
)

// Retry re-runs an operation through a breaker with exponential backoff.
type Retry struct {
	Breaker     *Breaker
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      float64
	// Retryable decides whether an error is worth another attempt. Nil retries
	// every error except ErrOpenCircuit and context errors.
	Retryable func(error) bool
}

// Do executes fn until it succeeds, the attempts run out, the breaker opens
// or ctx is done. The last error is returned.
func (r Retry) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if r.Breaker != nil {
			lastErr = r.Breaker.Execute(ctx, fn)
		} else {
			lastErr = fn(ctx)
		}
		if lastErr == nil || !r.retryable(lastErr) || attempt == attempts {
			return lastErr
		}
		timer := time.NewTimer(Backoff(r.BaseBackoff, attempt, r.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func (r Retry) retryable(err error) bool {
	if errors.Is(err, ErrOpenCircuit) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if r.Retryable != nil {
		return r.Retryable(err)
	}
	return true
}
