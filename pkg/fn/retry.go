package fn

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// RetryOpts configures retry behavior.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// OnRetry, if set, is told about each failed attempt that will be retried.
	OnRetry func(attempt int, err error, wait time.Duration)
}

func (o RetryOpts) backoff(wait time.Duration) time.Duration {
	if o.Jitter {
		wait = time.Duration(float64(wait) * (0.5 + rand.Float64()))
	}
	if o.MaxWait > 0 && wait > o.MaxWait {
		wait = o.MaxWait
	}
	return wait
}

// Retry calls f until it succeeds, returns a Permanent error, or MaxAttempts
// is reached, doubling the wait between attempts.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	wait := opts.InitialWait

	var result Result[T]
	for attempt := 1; attempt <= attempts; attempt++ {
		result = f(ctx)
		_, err := result.Unwrap()
		if err == nil {
			return result
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return Err[T](perm.err)
		}
		if attempt == attempts {
			break
		}

		sleep := opts.backoff(wait)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err, sleep)
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Err[T](ctx.Err())
		case <-timer.C:
		}
		wait *= 2
	}
	return result
}
