// Package client implements the client endpoint: named connections to one
// or more servers, each reconnecting on its own and resuming its server-side
// identity after a drop.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"wspreset/codec"
	"wspreset/connection"
	"wspreset/discovery"
	"wspreset/engine"
	"wspreset/loadbalance"
	"wspreset/middleware"
	"wspreset/preset"
	"wspreset/registry"
	"wspreset/transport"
)

// DefaultName is the connection name Connect uses.
const DefaultName = "main"

type Options struct {
	URL    string           // address Connect dials
	Dialer transport.Dialer // nil means WebSocket
	Codec  codec.Codec      // nil means JSON without date reviving

	MaxRetries  int
	Backoff     connection.Backoff
	DialTimeout time.Duration

	DefaultTimeout time.Duration
	CustomData     map[string]any
	Middlewares    []middleware.Middleware

	InboundLimit rate.Limit
	InboundBurst int

	// Directory, when set, replaces URL: every dial discovers Service and
	// lets Balancer pick the server.
	Directory discovery.Directory
	Service   string
	Balancer  loadbalance.Balancer

	// OnConnect fires once per transport, after the handshake.
	OnConnect    func(c *connection.Connection)
	OnDisconnect func(c *connection.Connection, ev transport.CloseEvent)

	Logger *zerolog.Logger
}

type Client struct {
	opts   Options
	log    zerolog.Logger
	engine *engine.Engine

	mu      sync.Mutex
	waiters map[*connection.Connection][]chan struct{}
}

func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = &transport.WebSocketDialer{}
	}
	if opts.Codec == nil {
		opts.Codec = &codec.JSONCodec{}
	}
	if opts.Service == "" {
		opts.Service = "wspreset"
	}
	if opts.Balancer == nil {
		opts.Balancer = &loadbalance.RoundRobinBalancer{}
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	c := &Client{
		opts:    opts,
		log:     logger.With().Str("component", "client").Logger(),
		waiters: make(map[*connection.Connection][]chan struct{}),
	}
	c.engine = engine.New(engine.Options{
		Role:           engine.RoleClient,
		DefaultTimeout: opts.DefaultTimeout,
		CustomData:     opts.CustomData,
		Middlewares:    opts.Middlewares,
		Logger:         &logger,
		OnIdentified:   c.identified,
		OnDisconnect:   opts.OnDisconnect,
	})
	return c
}

func (c *Client) Engine() *engine.Engine {
	return c.engine
}

func (c *Client) Register(name string, opts ...preset.Option) (*preset.Preset, error) {
	return c.engine.Register(name, opts...)
}

func (c *Client) Launch(ctx context.Context, name string, content any, target ...registry.Filter) (any, error) {
	return c.engine.Launch(ctx, name, content, target...)
}

func (c *Client) Launcher(name string) engine.LaunchFunc {
	return c.engine.Launcher(name)
}

func (c *Client) Connections(f registry.Filter) []*connection.Connection {
	return c.engine.Connections(f)
}

func (c *Client) GetCustomData(key string) any {
	return c.engine.GetCustomData(key)
}

func (c *Client) SetCustomData(key string, value any) {
	c.engine.SetCustomData(key, value)
}

// Connection returns the connection registered under name.
func (c *Client) Connection(name string) (*connection.Connection, bool) {
	return c.engine.Registry().Get(name)
}

// Identity returns the identifier the server assigned to conn.
func (c *Client) Identity(conn *connection.Connection) string {
	return c.engine.Identity(conn)
}

// Connect dials Options.URL under DefaultName.
func (c *Client) Connect(ctx context.Context) (*connection.Connection, error) {
	return c.ConnectAs(ctx, DefaultName, c.opts.URL)
}

// ConnectAs dials addr and registers the connection under name. With a
// Directory configured addr is ignored. The handshake completes
// asynchronously; use Ready to wait for it.
func (c *Client) ConnectAs(ctx context.Context, name, addr string) (*connection.Connection, error) {
	logger := c.log
	opts := connection.Options{
		Codec:        c.opts.Codec,
		Dialer:       c.opts.Dialer,
		Address:      addr,
		MaxRetries:   c.opts.MaxRetries,
		Backoff:      c.opts.Backoff,
		DialTimeout:  c.opts.DialTimeout,
		InboundLimit: c.opts.InboundLimit,
		InboundBurst: c.opts.InboundBurst,
		Logger:       &logger,
	}

	var conn *connection.Connection
	if c.opts.Directory != nil {
		opts.Address = "discovery://" + c.opts.Service
		opts.Dialer = &discoveryDialer{
			directory: c.opts.Directory,
			service:   c.opts.Service,
			balancer:  c.opts.Balancer,
			dialer:    c.opts.Dialer,
			key: func() string {
				if id := c.engine.Identity(conn); id != "" {
					return id
				}
				return name
			},
		}
	}
	conn = connection.New(name, c.engine, opts)
	if !c.engine.AddConnection(conn) {
		return nil, fmt.Errorf("client: connection %q already exists", name)
	}

	if err := conn.Activate(ctx, false); err != nil {
		c.engine.Forget(conn)
		return nil, err
	}
	return conn, nil
}

// Ready waits until conn completes its handshake.
func (c *Client) Ready(ctx context.Context, conn *connection.Connection) error {
	ch := make(chan struct{})
	c.mu.Lock()
	if conn.State() == connection.Identified {
		c.mu.Unlock()
		return nil
	}
	c.waiters[conn] = append(c.waiters[conn], ch)
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) identified(conn *connection.Connection) {
	c.log.Info().Str("conn", conn.ID()).Str("identity", c.engine.Identity(conn)).Msg("connected")
	if c.opts.OnConnect != nil {
		c.opts.OnConnect(conn)
	}
	c.mu.Lock()
	waiters := c.waiters[conn]
	delete(c.waiters, conn)
	c.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// Close terminates every connection and waits for running preset methods.
func (c *Client) Close(ctx context.Context) error {
	for _, conn := range c.engine.Connections(nil) {
		conn.Terminate()
	}
	return c.engine.Close(ctx)
}
