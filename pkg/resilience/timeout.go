package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCallTimeout marks a call that ran past its own limit while the caller
// was still waiting for it.
var ErrCallTimeout = errors.New("call timed out")

// WithTimeout runs fn under a per-call limit derived from ctx and tells the
// two ways it can end early apart: a call that hit limit is reported as
// ErrCallTimeout (also wrapping the call's own error), while a caller that
// gave up first is reported with ctx.Err(). A non-positive limit runs fn
// directly on ctx.
func WithTimeout(ctx context.Context, limit time.Duration, op string, fn func(ctx context.Context) error) error {
	if limit <= 0 {
		err := fn(ctx)
		if err != nil && ctx.Err() != nil {
			return callerDone(ctx, op, err)
		}
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(callCtx) }()

	var err error
	select {
	case err = <-done:
		if err == nil {
			return nil
		}
	case <-callCtx.Done():
		err = callCtx.Err()
	}
	switch {
	case ctx.Err() != nil:
		return callerDone(ctx, op, err)
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%s: %w after %v: %w", op, ErrCallTimeout, limit, err)
	}
	return err
}

// CallerDone reports whether err ended because the caller's own context
// was cancelled or ran out, as opposed to the callee failing.
func CallerDone(ctx context.Context, err error) bool {
	if err == nil || errors.Is(err, ErrCallTimeout) {
		return false
	}
	return ctx.Err() != nil
}

func callerDone(ctx context.Context, op string, err error) error {
	if errors.Is(err, ctx.Err()) {
		return fmt.Errorf("%s: caller gave up: %w", op, err)
	}
	return fmt.Errorf("%s: caller gave up: %w: %w", op, ctx.Err(), err)
}
