package engine

import (
	"context"
	"fmt"

	"wspreset/connection"
	"wspreset/message"
	"wspreset/preset"
)

// systemPresets builds the reserved presets behind the identity handshake and
// custom-data replication.
func (e *Engine) systemPresets() map[string]*preset.Preset {
	identify := preset.System(message.CommandIdentify, preset.WithTimeout(e.opts.HandshakeTimeout))
	identified := preset.System(message.CommandIdentified)
	customData := preset.System(message.CommandCustomData, preset.WithMethod(e.onReplication))
	if e.opts.Role == RoleClient {
		identify.Method = e.onIdentify
		identified.Method = e.onIdentified
	}
	return map[string]*preset.Preset{
		identify.Name:   identify,
		identified.Name: identified,
		customData.Name: customData,
	}
}

// dispatchSystem runs a reserved preset on the reading goroutine.
func (e *Engine) dispatchSystem(origin *connection.Connection, p *preset.Preset, content any, inherited string) {
	if p.Method == nil {
		e.log.Warn().Str("conn", origin.ID()).Str("command", p.Name).Msg("reserved command not accepted on this side")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("conn", origin.ID()).Str("command", p.Name).Interface("panic", r).Msg("reserved command panicked")
		}
	}()

	h := e.newHandler(p, []*connection.Connection{origin}, origin, inherited)
	result, err := p.Method(e.ctx, h, content)
	if err != nil {
		e.log.Warn().Err(err).Str("conn", origin.ID()).Str("command", p.Name).Msg("reserved command failed")
		return
	}
	if inherited != "" && !h.replied.Load() {
		h.reply(result)
	}
}

// identify runs the server side of the handshake for a freshly opened
// connection. Any failure terminates the connection.
func (e *Engine) identify(c *connection.Connection) {
	offered := c.ID()
	h := e.newHandler(e.system[message.CommandIdentify], []*connection.Connection{c}, nil, "")
	v, err := h.Get(e.ctx, message.Identify{ID: offered})
	if err != nil {
		e.log.Warn().Err(err).Str("conn", offered).Msg("identity handshake failed")
		c.Terminate()
		return
	}
	m, err := fields(v)
	if err != nil {
		e.log.Warn().Err(err).Str("conn", offered).Msg("malformed identity confirmation")
		c.Terminate()
		return
	}

	id, _ := m["id"].(string)
	if id == "" {
		id = offered
	}
	if id != offered {
		if stale := e.reg.Rekey(c, id); stale != nil {
			e.log.Info().Str("conn", id).Msg("session resumed, stale connection dropped")
			stale.Terminate()
		}
	}
	data, _ := m["clientData"].(map[string]any)
	c.ReplaceCustomData(data)
	c.MarkIdentified()

	h.Send(message.Identified{ID: id, ServerData: e.self.Snapshot()}.Content(), preset.Handler(message.CommandIdentified))
	e.log.Debug().Str("conn", id).Str("remote", c.RemoteAddr()).Msg("connection identified")
	if e.opts.OnIdentified != nil {
		e.opts.OnIdentified(c)
	}
}

// onIdentify answers the server with the identity to use, keeping the one
// from an earlier session on this connection.
func (e *Engine) onIdentify(_ context.Context, s preset.Surface, content any) (any, error) {
	h := s.(*Handler)
	m, err := fields(content)
	if err != nil {
		return nil, err
	}
	id := e.Identity(h.origin)
	if id == "" {
		id, _ = m["id"].(string)
	}
	return message.IdentifyConfirm{ID: id, ClientData: e.self.Snapshot()}.Content(), nil
}

func (e *Engine) onIdentified(_ context.Context, s preset.Surface, content any) (any, error) {
	h := s.(*Handler)
	m, err := fields(content)
	if err != nil {
		return nil, err
	}
	if id, _ := m["id"].(string); id != "" {
		e.setIdentity(h.origin, id)
	}
	data, _ := m["serverData"].(map[string]any)
	h.origin.ReplaceCustomData(data)
	if !h.origin.MarkIdentified() || e.opts.OnIdentified == nil || e.ctx.Err() != nil {
		return nil, nil
	}

	c := h.origin
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.opts.OnIdentified(c)
	}()
	return nil, nil
}

// onReplication updates the sender's cached copy. It is never forwarded.
func (e *Engine) onReplication(_ context.Context, s preset.Surface, content any) (any, error) {
	h := s.(*Handler)
	m, err := fields(content)
	if err != nil {
		return nil, err
	}
	property, _ := m["property"].(string)
	if property == "" {
		return nil, fmt.Errorf("replication without property from %s", h.origin.ID())
	}
	h.origin.UpdateCustomData(property, m["value"])
	return nil, nil
}

// replicate announces a changed key to every identified peer.
func (e *Engine) replicate(key string, value any) {
	for _, c := range e.reg.Connections(nil) {
		if c.State() != connection.Identified {
			continue
		}
		id := e.opts.Name
		if e.opts.Role == RoleClient {
			id = e.Identity(c)
		}
		env := e.envelope(c, message.CommandCustomData, message.Replication{ID: id, Property: key, Value: value}.Content())
		if err := c.Send(env); err != nil {
			e.log.Debug().Err(err).Str("conn", c.ID()).Str("property", key).Msg("replication not sent")
		}
	}
}

func fields(content any) (map[string]any, error) {
	if m, ok := content.(map[string]any); ok {
		return m, nil
	}
	return message.As[map[string]any](content)
}
