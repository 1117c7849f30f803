package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

func LoggingMiddleware(logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			start := time.Now()
			result, err := next(ctx, call)
			var ev *zerolog.Event
			if err != nil {
				ev = logger.Warn().Err(err)
			} else {
				ev = logger.Debug()
			}
			ev.Str("preset", call.Preset.Name).
				Str("origin", call.Origin).
				Dur("duration", time.Since(start)).
				Msg("preset invoked")
			return result, err
		}
	}
}
