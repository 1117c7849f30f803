// Package server implements the server endpoint: it accepts WebSocket
// upgrades (and optionally framed TCP), hands every transport to the engine,
// sweeps dead connections, announces itself to discovery, and shuts down
// gracefully.
//
// Connection pipeline:
//
//	gin route /ws → Upgrade → transport.WebSocket ┐
//	TCP Accept    → transport.Stream             ├→ connection.FromTransport → engine (identify handshake)
//	Accept(t)     → any transport                ┘
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"wspreset/codec"
	"wspreset/connection"
	"wspreset/discovery"
	"wspreset/engine"
	"wspreset/middleware"
	"wspreset/preset"
	"wspreset/registry"
	"wspreset/sessionstore"
	"wspreset/transport"
)

type Options struct {
	Addr    string // HTTP listen address for ListenAndServe
	Path    string // WebSocket route, default /ws
	TCPAddr string // framed TCP listen address; empty disables it

	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	DefaultTimeout    time.Duration
	Codec             codec.Codec // nil means JSON without date reviving

	CustomData  map[string]any
	Middlewares []middleware.Middleware

	InboundLimit rate.Limit
	InboundBurst int

	// Directory, when set, gets Advertise registered under Service.
	Directory discovery.Directory
	Service   string
	Advertise string
	TTL       int64

	// Sessions, when set, records every identified client.
	Sessions sessionstore.Store

	OnConnect    func(c *connection.Connection)
	OnDisconnect func(c *connection.Connection, ev transport.CloseEvent)

	Logger *zerolog.Logger
}

// Server is the server endpoint.
type Server struct {
	opts     Options
	log      zerolog.Logger
	engine   *engine.Engine
	router   *gin.Engine
	upgrader websocket.Upgrader

	mu       sync.Mutex
	httpSrv  *http.Server
	tcpLn    net.Listener
	shutdown atomic.Bool // set before listeners close so Serve returns nil

	hbOnce sync.Once
	hbStop chan struct{}
	hbDone chan struct{}
}

func New(opts Options) *Server {
	if opts.Path == "" {
		opts.Path = "/ws"
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	if opts.Codec == nil {
		opts.Codec = &codec.JSONCodec{}
	}
	if opts.Service == "" {
		opts.Service = "wspreset"
	}
	if opts.TTL <= 0 {
		opts.TTL = 10
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &Server{
		opts: opts,
		log:  logger.With().Str("component", "server").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		hbStop: make(chan struct{}),
		hbDone: make(chan struct{}),
	}
	s.engine = engine.New(engine.Options{
		Role:             engine.RoleServer,
		Name:             opts.Advertise,
		DefaultTimeout:   opts.DefaultTimeout,
		HandshakeTimeout: opts.HandshakeTimeout,
		CustomData:       opts.CustomData,
		Middlewares:      opts.Middlewares,
		Logger:           &logger,
		OnIdentified:     s.identified,
		OnDisconnect:     opts.OnDisconnect,
		OnForget:         s.forget,
	})

	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.GET(opts.Path, s.handleUpgrade)
	s.router.GET("/status", s.handleStatus)
	return s
}

func (s *Server) Engine() *engine.Engine {
	return s.engine
}

func (s *Server) Register(name string, opts ...preset.Option) (*preset.Preset, error) {
	return s.engine.Register(name, opts...)
}

func (s *Server) Launch(ctx context.Context, name string, content any, target ...registry.Filter) (any, error) {
	return s.engine.Launch(ctx, name, content, target...)
}

func (s *Server) Launcher(name string) engine.LaunchFunc {
	return s.engine.Launcher(name)
}

func (s *Server) Connections(f registry.Filter) []*connection.Connection {
	return s.engine.Connections(f)
}

func (s *Server) GetCustomData(key string) any {
	return s.engine.GetCustomData(key)
}

func (s *Server) SetCustomData(key string, value any) {
	s.engine.SetCustomData(key, value)
}

// Handler exposes the HTTP routes, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Accept adopts a live transport under a fresh identifier. The handshake
// starts once the transport reports open.
func (s *Server) Accept(t transport.Transport) *connection.Connection {
	logger := s.log
	return connection.FromTransport(uuid.NewString(), t, s.engine, connection.Options{
		Codec:        s.opts.Codec,
		InboundLimit: s.opts.InboundLimit,
		InboundBurst: s.opts.InboundBurst,
		Logger:       &logger,
	})
}

func (s *Server) handleUpgrade(c *gin.Context) {
	if s.shutdown.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server shutting down"})
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already answered the request
		s.log.Warn().Err(err).Str("remote", c.Request.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	s.Accept(transport.NewWebSocket(conn))
}

// ListenAndServe serves HTTP on Addr, and framed TCP on TCPAddr when set,
// after registering with discovery and starting the heartbeat. It blocks
// until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	errc := make(chan error, 2)
	if s.opts.TCPAddr != "" {
		tcpLn, err := net.Listen("tcp", s.opts.TCPAddr)
		if err != nil {
			ln.Close()
			return err
		}
		go func() { errc <- s.ServeTCP(tcpLn) }()
	}
	go func() { errc <- s.Serve(ln) }()
	return <-errc
}

// Serve answers HTTP on ln. The first call also registers with discovery
// and starts the heartbeat.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	s.start()

	s.log.Info().Str("addr", ln.Addr().String()).Str("path", s.opts.Path).Msg("serving websocket")
	err := srv.Serve(ln)
	if s.shutdown.Load() || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeTCP accepts framed TCP connections on ln.
func (s *Server) ServeTCP(ln net.Listener) error {
	s.mu.Lock()
	s.tcpLn = ln
	s.mu.Unlock()
	s.start()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("serving framed tcp")
	for {
		conn, err := ln.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.Accept(transport.NewStream(conn, byte(s.opts.Codec.Type())))
	}
}

func (s *Server) start() {
	s.hbOnce.Do(func() {
		if s.opts.Directory != nil && s.opts.Advertise != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.opts.Directory.Register(ctx, s.opts.Service, discovery.ServiceInstance{Addr: s.opts.Advertise, Weight: 1}, s.opts.TTL)
			cancel()
			if err != nil {
				s.log.Error().Err(err).Str("service", s.opts.Service).Msg("discovery registration failed")
			}
		}
		go s.heartbeat()
	})
}

// Shutdown performs graceful shutdown:
//  1. Deregister from discovery so clients stop picking this server
//  2. Stop the heartbeat and close the listeners
//  3. Terminate every connection
//  4. Wait for running preset methods (with timeout)
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.shutdown.Swap(true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.opts.Directory != nil && s.opts.Advertise != "" {
		if err := s.opts.Directory.Deregister(ctx, s.opts.Service, s.opts.Advertise); err != nil {
			s.log.Warn().Err(err).Msg("discovery deregistration failed")
		}
	}

	s.hbOnce.Do(func() { close(s.hbDone) })
	close(s.hbStop)
	<-s.hbDone

	s.mu.Lock()
	httpSrv, tcpLn := s.httpSrv, s.tcpLn
	s.mu.Unlock()
	if tcpLn != nil {
		tcpLn.Close()
	}
	if httpSrv != nil {
		// hijacked websocket connections are not tracked by http.Server
		if err := httpSrv.Shutdown(ctx); err != nil {
			s.log.Warn().Err(err).Msg("http shutdown")
		}
	}

	for _, c := range s.engine.Connections(nil) {
		c.Terminate()
	}
	if err := s.engine.Close(ctx); err != nil {
		return fmt.Errorf("timeout waiting for running presets to finish: %w", err)
	}
	if s.opts.Sessions != nil {
		return s.opts.Sessions.Close()
	}
	return nil
}
