package graphstore

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"

	"github.com/rawblock/fraudmesh/internal/errs"
)

// retryPolicy implements this exact backoff: base 20ms, factor 2,
// jitter uniformly distributed up to 10ms, capped at 3 attempts.
const (
	retryBase    = 20 * time.Millisecond
	retryFactor  = 2
	retryJitter  = 10 * time.Millisecond
	retryAttempts = 3
)

func newBackoff() retry.Backoff {
	b := retry.NewExponential(retryBase)
	b = retry.WithMaxRetries(retryAttempts-1, b)
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := b.Next()
		if stop {
			return 0, true
		}
		return JitteredSleep(d, retryJitter), false
	})
}

// newBreaker trips after repeated transient failures so a persistently
// unreachable store backs workers off instead of retrying forever.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return gobreaker.NewCircuitBreaker(st)
}

// isTransient classifies a Postgres error as a retryable conflict
// (deadlock, serialization failure).
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
	}
	return false
}

// withRetry runs op under the truncated-exponential-backoff policy and the
// circuit breaker, classifying the final error into errs.ErrTransientStore
// or errs.ErrStore.
func withRetry(ctx context.Context, breaker *gobreaker.CircuitBreaker, op func(context.Context) error) error {
	b := newBackoff()
	var lastErr error
	_, breakerErr := breaker.Execute(func() (any, error) {
		attempt := 0
		err := retry.Do(ctx, b, func(ctx context.Context) error {
			attempt++
			e := op(ctx)
			if e == nil {
				return nil
			}
			lastErr = e
			if isTransient(e) && attempt < retryAttempts {
				return retry.RetryableError(e)
			}
			return e
		})
		return nil, err
	})
	if breakerErr == nil {
		return nil
	}
	if errors.Is(breakerErr, gobreaker.ErrOpenState) || errors.Is(breakerErr, gobreaker.ErrTooManyRequests) {
		return errs.Wrap(errs.ErrTransientStore, "store circuit open", breakerErr)
	}
	if lastErr != nil && isTransient(lastErr) {
		return errs.Wrap(errs.ErrTransientStore, "store retry exhausted", lastErr)
	}
	if lastErr != nil {
		return errs.Wrap(errs.ErrStore, "store operation failed", lastErr)
	}
	return errs.Wrap(errs.ErrStore, "store operation failed", breakerErr)
}

// JitteredSleep returns base plus a uniformly distributed random jitter in
// [0, jitter]. newBackoff applies it to every delay withRetry waits, and
// it is exported for callers outside this package constructing an ad-hoc
// backoff.
func JitteredSleep(base time.Duration, jitter time.Duration) time.Duration {
	return base + time.Duration(rand.Int63n(int64(jitter)+1))
}
