package callwire

import (
	"context"
	"time"
)

// RetryPolicy governs retries for call-placing requests. The inter-attempt
// delay is constant: no growth and no jitter. MaxRetries counts retries after
// the first attempt, so MaxRetries = 2 allows three attempts in total.
type RetryPolicy struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// Delay is the constant wait between attempts.
	Delay time.Duration
	// AttemptTimeout bounds each individual attempt. Zero disables the
	// per-attempt ceiling.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     2,
		Delay:          2 * time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

// NextDelay reports whether another attempt is allowed after the zero-based
// attempt number failed, and how long to wait before it. Purely computes;
// waiting out the delay is the caller's job.
func (p RetryPolicy) NextDelay(attempt int) (time.Duration, bool) {
	if attempt < p.MaxRetries {
		return p.Delay, true
	}
	return 0, false
}

func (p RetryPolicy) shouldRetry(ctx context.Context, attempt int, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if _, ok := p.NextDelay(attempt); !ok {
		return false
	}
	if apiErr, ok := err.(*Error); ok {
		return apiErr.IsRetryable()
	}
	return false
}

// waitRetry sleeps for delay, aborting with the context error if ctx is
// cancelled mid-wait.
func waitRetry(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
