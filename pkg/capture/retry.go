package capture

import (
	"context"
	"time"
)

// RetryPolicy controls how many times a capture is attempted and how long to
// back off between attempts. The zero value means a single attempt with no
// backoff.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration

	// Multiplier scales the delay for each further retry. Values below 1
	// are treated as 1.
	Multiplier float64
}

// DefaultRetryPolicy retries three times with a 1s/2s/4s backoff ladder.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Multiplier: 2,
	}
}

// Attempts returns the total attempt budget, including the first try.
func (p RetryPolicy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Delay returns the backoff before the retry following the given
// zero-based failed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= mult
	}
	return time.Duration(d)
}

// sleep waits for d, honouring context cancellation. The engine uses an
// injectable sleep so tests can run the backoff ladder without real delays.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
