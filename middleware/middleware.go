package middleware

import (
	"context"

	"wspreset/preset"
)

// Call is one invocation of a preset's method.
type Call struct {
	Preset  *preset.Preset
	Origin  string // connection the triggering message came from; empty for a local launch
	Content any
	Surface preset.Surface
}

type HandlerFunc func(ctx context.Context, call *Call) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Invoke adapts a preset method into the innermost HandlerFunc.
func Invoke(m preset.Method) HandlerFunc {
	return func(ctx context.Context, call *Call) (any, error) {
		return m(ctx, call.Surface, call.Content)
	}
}
