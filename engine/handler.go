package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"wspreset/connection"
	"wspreset/message"
	"wspreset/preset"
)

// Reply is one connection's answer to a Get.
type Reply struct {
	ID    string
	Value any
	Err   error
}

// Handler is the surface a preset method talks through. It is bound to one
// dispatch: the preset, the connections resolved for it and, when the
// dispatch answers a peer's request, the id that peer waits on.
type Handler struct {
	e         *Engine
	preset    *preset.Preset
	conns     []*connection.Connection
	origin    *connection.Connection
	inherited string
	replied   atomic.Bool
}

var _ preset.Surface = (*Handler)(nil)

func (e *Engine) newHandler(p *preset.Preset, conns []*connection.Connection, origin *connection.Connection, inherited string) *Handler {
	return &Handler{e: e, preset: p, conns: conns, origin: origin, inherited: inherited}
}

func (h *Handler) Origin() string {
	if h.origin == nil {
		return ""
	}
	return h.origin.ID()
}

// Connections returns the connections this dispatch resolved.
func (h *Handler) Connections() []*connection.Connection {
	return append([]*connection.Connection(nil), h.conns...)
}

func (h *Handler) targets(call preset.Call) []*connection.Connection {
	conns := h.conns
	if call.Target != nil {
		conns = h.e.reg.Connections(call.Target)
	}
	if call.Transfer.SendMode == preset.SendFirst && len(conns) > 1 {
		conns = conns[:1]
	}
	return conns
}

// Send writes content to every resolved connection. On a reply leg the copy
// going to the origin carries the id the peer waits on. Write errors are
// logged only.
func (h *Handler) Send(content any, opts ...preset.CallOption) {
	call := h.preset.Resolve(opts...)
	out := h.preset.Out(content, call.Adapter)
	for _, c := range h.targets(call) {
		env := h.e.envelope(c, call.HandlerName, out)
		if h.inherited != "" && c == h.origin {
			h.e.setPeerID(env, h.inherited)
			h.replied.Store(true)
		}
		if err := c.Send(env); err != nil {
			h.e.log.Warn().Err(err).Str("preset", h.preset.Name).Str("conn", c.ID()).Msg("send failed")
		}
	}
}

// reply answers the origin's pending request with result.
func (h *Handler) reply(result any) {
	env := h.e.envelope(h.origin, h.preset.Handler(), h.preset.Out(result, h.preset.Adapter))
	h.e.setPeerID(env, h.inherited)
	h.replied.Store(true)
	if err := h.origin.Send(env); err != nil {
		h.e.log.Warn().Err(err).Str("preset", h.preset.Name).Str("conn", h.origin.ID()).Msg("reply failed")
	}
}

type indexedReply struct {
	index int
	reply Reply
}

// Get sends content as a new request to every resolved connection and waits.
// GetFirst returns the first successful reply, or the first error when all
// of them fail. GetCollect returns a []Reply in resolution order. A request
// keeps its pending entry until reply or timeout even if ctx ends first.
func (h *Handler) Get(ctx context.Context, content any, opts ...preset.CallOption) (any, error) {
	call := h.preset.Resolve(opts...)
	conns := h.targets(call)
	if len(conns) == 0 {
		return nil, nil
	}
	timeout := call.Timeout
	if timeout == 0 {
		timeout = h.e.opts.DefaultTimeout
	}

	out := h.preset.Out(content, call.Adapter)
	results := make(chan indexedReply, len(conns))
	for i, c := range conns {
		id := uuid.NewString()
		env := h.e.envelope(c, call.HandlerName, out)
		h.e.setOwnID(env, id)

		h.e.pending.add(id, &pendingEntry{
			env:     env.Stripped(),
			conn:    c,
			preset:  h.preset.Name,
			started: time.Now(),
			deliver: func(r Reply) { results <- indexedReply{index: i, reply: r} },
		}, timeout)

		if err := c.Send(env); err != nil {
			if ent, ok := h.e.pending.take(id); ok {
				ent.deliver(Reply{ID: c.ID(), Err: err})
			}
		}
	}

	collect := call.Transfer.GetMode == preset.GetCollect
	replies := make([]Reply, len(conns))
	var firstErr error
	for n := 0; n < len(conns); n++ {
		select {
		case r := <-results:
			if r.reply.Err == nil {
				r.reply.Value = h.preset.In(r.reply.Value, call.Adapter)
				if !collect {
					return r.reply.Value, nil
				}
			} else if firstErr == nil {
				firstErr = r.reply.Err
			}
			replies[r.index] = r.reply
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if collect {
		return replies, nil
	}
	return nil, firstErr
}

// GetCustomData reads the cached data of the resolved connections. key "id"
// returns identifiers and an empty key returns whole maps.
func (h *Handler) GetCustomData(key string, opts ...preset.CallOption) any {
	call := h.preset.Resolve(opts...)
	conns := h.conns
	if call.Target != nil {
		conns = h.e.reg.Connections(call.Target)
	}
	if len(conns) == 0 {
		return nil
	}
	if call.Transfer.DataMode != preset.DataCollect {
		conns = conns[:1]
	}

	values := make([]any, 0, len(conns))
	for _, c := range conns {
		switch key {
		case "":
			values = append(values, c.CustomData())
		case "id":
			values = append(values, c.ID())
		default:
			v, _ := c.CustomValue(key)
			values = append(values, v)
		}
	}
	if call.Transfer.DataMode == preset.DataCollect {
		return values
	}
	return values[0]
}

func (h *Handler) SetCustomData(key string, value any) {
	h.e.SetCustomData(key, value)
}

// Typed adapts a function over concrete request and response types into a
// preset method. Content is decoded into Req with message.As.
func Typed[Req, Resp any](fn func(ctx context.Context, h preset.Surface, req Req) (Resp, error)) preset.Method {
	return func(ctx context.Context, h preset.Surface, content any) (any, error) {
		req, err := message.As[Req](content)
		if err != nil {
			return nil, err
		}
		return fn(ctx, h, req)
	}
}
