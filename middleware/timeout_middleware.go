package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrHandlerTimeout = errors.New("handler timed out")

type outcome struct {
	result any
	err    error
}

// TimeOutMiddleware returns ErrHandlerTimeout once timeout passes. The method
// keeps running with a cancelled context; its result is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan outcome, 1)
			go func() {
				result, err := next(ctx, call)
				done <- outcome{result, err}
			}()

			select {
			case o := <-done:
				return o.result, o.err
			case <-ctx.Done():
				return nil, fmt.Errorf("%s after %s: %w", call.Preset.Name, timeout, ErrHandlerTimeout)
			}
		}
	}
}
