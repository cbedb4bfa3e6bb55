// Package backoff retries transient storage errors with bounded Fibonacci backoff.
package backoff

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/kailas-cloud/dsearch/internal/db"
	"github.com/kailas-cloud/dsearch/internal/domain"
)

// Policy bounds the retries of one adapter call.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// None performs a single attempt.
var None = Policy{}

// Do runs fn, retrying transient failures. The last error is returned once
// retries are exhausted; a cancelled context returns ctx.Err().
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for calls returning a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	base := p.BaseDelay
	if base <= 0 {
		base = 10 * time.Millisecond
	}
	retries := uint64(0)
	if p.MaxRetries > 0 {
		retries = uint64(p.MaxRetries)
	}

	b := retry.WithMaxRetries(retries, retry.NewFibonacci(base))
	return retry.DoValue(ctx, b, func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		if err != nil && Transient(err) {
			return v, retry.RetryableError(err)
		}
		return v, err
	})
}

// Transient reports whether err is worth retrying. Malformed input, missing
// keys and caller cancellation are permanent.
func Transient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, db.ErrQuerySyntax),
		errors.Is(err, db.ErrKeyNotFound),
		errors.Is(err, db.ErrIndexNotFound),
		errors.Is(err, db.ErrIndexExists),
		errors.Is(err, domain.ErrInvalidQuery),
		errors.Is(err, domain.ErrInvalidDocument),
		errors.Is(err, domain.ErrVectorDimMismatch):
		return false
	}
	return true
}
