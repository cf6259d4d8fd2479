// Package besteffort models operations whose failure must never reach the caller's primary result.
package besteffort

import (
	"context"
	"fmt"
	"log/slog"
)

// Result is the outcome of an operation the caller may discard.
type Result[T any] struct {
	Op    string
	Value T
	Err   error
}

func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Outcome reports the operation name and its error, if any.
func (r Result[T]) Outcome() (string, error) {
	return r.Op, r.Err
}

// OrElse returns the value, or fallback when the operation failed.
func (r Result[T]) OrElse(fallback T) T {
	if r.Err != nil {
		return fallback
	}
	return r.Value
}

// Log reports a failed result at WARN and returns it unchanged.
func (r Result[T]) Log(logger *slog.Logger) Result[T] {
	if r.Err == nil {
		return r
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("best_effort_failed", "operation", r.Op, "error", r.Err)
	return r
}

// Run executes fn and captures its value, error or panic.
func Run[T any](ctx context.Context, op string, fn func(context.Context) (T, error)) (res Result[T]) {
	res.Op = op
	defer func() {
		if p := recover(); p != nil {
			var zero T
			res.Value = zero
			res.Err = fmt.Errorf("%s: panic: %v", op, p)
		}
	}()
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	res.Value, res.Err = fn(ctx)
	return res
}

// Do is Run for operations without a value.
func Do(ctx context.Context, op string, fn func(context.Context) error) Result[struct{}] {
	return Run(ctx, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}
