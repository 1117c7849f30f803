package middleware

import (
	"context"
	"fmt"
)

// RecoverMiddleware turns a panic in the method into an error.
func RecoverMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%s: panic: %v", call.Preset.Name, r)
				}
			}()
			return next(ctx, call)
		}
	}
}
