package retry

import (
	"context"
	"errors"
	"time"
)

var ErrRetry = errors.New("retry")

// ErrExhausted is returned by a Backoff built with MaxAttempts
// when the attempt ceiling is spent.
var ErrExhausted = errors.New("retry attempts exhausted")

// Backoff is a (blocking) function returning when to retry.
//
// It returns nil to mean "go, try now", and non-nil to stop retrying.
// If the context is canceled, Backoff returns ctx.Err().
type Backoff func(context.Context) error

// StaticBackoff waits a fixed interval before each attempt.
func StaticBackoff(interval time.Duration) Backoff {
	return ExponentialBackoff(interval, 1)
}

// ExponentialBackoff waits `initialInterval * r^N` before the N-th attempt.
func ExponentialBackoff(initialInterval time.Duration, r float64) Backoff {
	interval := initialInterval
	return func(ctx context.Context) error {
		timer := time.NewTimer(interval)
		defer func() {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			i := float64(interval) * r
			interval = time.Duration(int64(i))
			return nil
		}
	}
}

// MaxAttempts caps Backoff b at n attempts.
//
// The n+1 th wait returns ErrExhausted instead of waiting.
func MaxAttempts(b Backoff, n int) Backoff {
	spent := 0
	return func(ctx context.Context) error {
		if n <= spent {
			return ErrExhausted
		}
		spent += 1
		return b(ctx)
	}
}

// Blocking calls f until it returns nil or a non-retry error.
//
// Each call of f is preceded by one wait of b. When f returns ErrRetry,
// Blocking loops; any other error (or b stopping) ends the loop.
//
// It returns the last value f returned, and the error which ended the loop.
func Blocking[T any](ctx context.Context, b Backoff, f func() (T, error)) (T, error) {
	last := *new(T)
	for {
		if err := b(ctx); err != nil {
			return last, err
		}

		var err error
		last, err = f()
		if err == nil {
			return last, nil
		}
		if errors.Is(err, ErrRetry) {
			continue
		}
		return last, err
	}
}
