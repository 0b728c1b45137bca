// Package retry runs fallible operations a bounded number of times with a
// linear backoff between attempts.
//
// The executor knows nothing about what it retries. Operations must be
// idempotent or safely repeatable.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crmsync/backend/internal/domain/customer"
)

// Policy configures Run.
type Policy struct {
	// MaxAttempts is the total number of attempts, first one included.
	MaxAttempts int
	// Backoff is multiplied by the attempt number to get the wait after a failure.
	Backoff time.Duration
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Validate checks the policy.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry attempts must be at least 1, got %d", customer.ErrConfiguration, p.MaxAttempts)
	}
	if p.Backoff < 0 {
		return fmt.Errorf("%w: retry backoff must not be negative", customer.ErrConfiguration)
	}
	return nil
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	return p.Backoff * time.Duration(attempt)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Run returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Run calls op up to p.MaxAttempts times. On success it returns immediately.
// After failed attempt n it waits p.Backoff*n before the next one. When all
// attempts fail the last error is returned unchanged. A cancelled context
// ends the wait early and returns the context error joined with the last one.
func Run[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, errors.Join(err, lastErr)
			}
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}

		wait := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, errors.Join(err, lastErr)
		}
	}
	return zero, lastErr
}

// Do is Run for operations without a result.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Run(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
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
