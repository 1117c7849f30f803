package server

import (
	"context"
	"time"

	"wspreset/connection"
	"wspreset/sessionstore"
)

func (s *Server) heartbeat() {
	defer close(s.hbDone)
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.hbStop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep is one heartbeat pass: connections that did not answer the previous
// probe are terminated, which also removes them and unbinds their session.
// The rest are probed again.
func (s *Server) Sweep() {
	for _, c := range s.engine.Connections(nil) {
		if !c.Alive() {
			s.log.Info().Str("conn", c.ID()).Str("remote", c.RemoteAddr()).Msg("connection dead, dropping")
			c.Terminate()
			continue
		}
		c.Probe()
		if s.opts.Sessions != nil && c.State() == connection.Identified {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := s.opts.Sessions.Touch(ctx, c.ID()); err != nil {
				s.log.Debug().Err(err).Str("conn", c.ID()).Msg("session touch failed")
			}
			cancel()
		}
	}
}

func (s *Server) identified(c *connection.Connection) {
	if s.opts.Sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := s.opts.Sessions.Bind(ctx, sessionstore.Session{ID: c.ID(), Server: s.opts.Advertise, Remote: c.RemoteAddr()})
		cancel()
		if err != nil {
			s.log.Warn().Err(err).Str("conn", c.ID()).Msg("session bind failed")
		}
	}
	if s.opts.OnConnect != nil {
		s.opts.OnConnect(c)
	}
}

// forget runs when the engine drops a connection for good. A connection
// replaced by a resumed session never gets here, so the session stays bound.
func (s *Server) forget(c *connection.Connection) {
	if s.opts.Sessions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.opts.Sessions.Unbind(ctx, c.ID()); err != nil {
		s.log.Debug().Err(err).Str("conn", c.ID()).Msg("session unbind failed")
	}
}
