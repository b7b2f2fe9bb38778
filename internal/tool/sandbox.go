package tool

import (
	"context"
	"fmt"
	"time"
)

// runBoxed executes fn on its own goroutine with a hard deadline. A panic in
// the implementation is converted into an error; on deadline the eventual
// return of the abandoned goroutine is discarded. This is the time-boxed,
// isolated execution context used for requires_sandbox tools and the
// panic containment wrapper for everything else.
func runBoxed(ctx context.Context, timeout time.Duration, fn ExecuteFunc, args map[string]any) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		out string
		err error
	}
	// Buffered so the worker can finish after a deadline without leaking.
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		out, err := fn(ctx, args)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		return o.out, o.err
	case <-ctx.Done():
		return "", fmt.Errorf("tool execution timed out: %w", ctx.Err())
	}
}
