package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryMiddleware re-runs a call whose error satisfies retryable, doubling
// the delay each time.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, retryable func(error) bool) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			result, err := next(ctx, call)
			for i := 0; i < maxRetries; i++ {
				if err == nil || retryable == nil || !retryable(err) {
					return result, err
				}
				log.Debug().Err(err).Str("preset", call.Preset.Name).Int("attempt", i+1).Msg("retrying")
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return result, err
				}
				result, err = next(ctx, call)
			}
			return result, err
		}
	}
}
