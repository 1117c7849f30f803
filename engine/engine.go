// Package engine is the protocol core shared by both endpoints. It owns the
// preset table, the registry of connections, the pending-request table and
// the endpoint's own custom data, and it implements connection.Owner so every
// connection reports its lifecycle here.
//
// Request chains use role-specific envelope fields. The side that starts a
// chain mints an id in its own field; the replying side echoes it:
//
//	            command field    own id field      peer id field
//	server      clientCommand    serverMessageID   clientMessageID
//	client      serverCommand    clientMessageID   serverMessageID
//
// An inbound envelope carrying our own id field is a reply. Anything else is
// a request or a fire-and-forget message and is dispatched by command.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"wspreset/connection"
	"wspreset/customdata"
	"wspreset/message"
	"wspreset/middleware"
	"wspreset/preset"
	"wspreset/registry"
	"wspreset/transport"
)

type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

const (
	DefaultTimeout          = 10 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second
)

type Options struct {
	Role Role
	// Name identifies this endpoint in replication messages sent by a server.
	Name string

	DefaultTimeout   time.Duration // used by presets without a timeout
	HandshakeTimeout time.Duration // server side __identify

	CustomData  map[string]any
	Middlewares []middleware.Middleware
	Logger      *zerolog.Logger

	// OnIdentified runs once a handshake completes: on the server after
	// __identified went out, on the client once per transport.
	OnIdentified func(c *connection.Connection)
	OnDisconnect func(c *connection.Connection, ev transport.CloseEvent)
	// OnForget runs when a connection leaves the registry for good.
	OnForget func(c *connection.Connection)
}

type LaunchFunc func(ctx context.Context, content any, target ...registry.Filter) (any, error)

type Engine struct {
	opts    Options
	log     zerolog.Logger
	reg     *registry.Registry
	self    *customdata.Store
	pending *pendingTable
	chain   middleware.Middleware

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	presets map[string]*preset.Preset
	system  map[string]*preset.Preset

	idMu       sync.RWMutex
	identities map[*connection.Connection]string
}

func New(opts Options) *Engine {
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.Name == "" {
		opts.Name = opts.Role.String()
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		opts:       opts,
		log:        logger.With().Str("component", "engine").Str("role", opts.Role.String()).Logger(),
		reg:        registry.New(),
		self:       customdata.New(opts.CustomData),
		pending:    newPendingTable(),
		chain:      middleware.Chain(append([]middleware.Middleware{middleware.RecoverMiddleware()}, opts.Middlewares...)...),
		ctx:        ctx,
		cancel:     cancel,
		presets:    make(map[string]*preset.Preset),
		identities: make(map[*connection.Connection]string),
	}
	e.system = e.systemPresets()
	e.self.OnChange(e.replicate)
	return e
}

// Register validates and stores a preset under name.
func (e *Engine) Register(name string, opts ...preset.Option) (*preset.Preset, error) {
	p, err := preset.New(name, opts...)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.presets[name]; ok {
		return nil, fmt.Errorf("%w: %q already registered", preset.ErrInvalidPreset, name)
	}
	e.presets[name] = p
	return p, nil
}

func (e *Engine) Preset(name string) (*preset.Preset, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.presets[name]
	return p, ok
}

// lookup resolves an inbound command to a user or reserved preset.
func (e *Engine) lookup(command string) (*preset.Preset, bool) {
	if strings.HasPrefix(command, message.ReservedPrefix) {
		p, ok := e.system[command]
		return p, ok
	}
	return e.Preset(command)
}

// Launch runs the named preset locally. Its method gets a surface bound to
// the preset's target, or to target when given. With no method the launch
// is a Get of content. No matching connection returns nil, nil.
func (e *Engine) Launch(ctx context.Context, name string, content any, target ...registry.Filter) (any, error) {
	p, ok := e.Preset(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	f := p.Target
	switch len(target) {
	case 0:
	case 1:
		f = target[0]
	default:
		f = registry.Union(target)
	}
	conns := e.reg.Connections(f)
	if len(conns) == 0 {
		return nil, nil
	}

	h := e.newHandler(p, conns, nil, "")
	var (
		result any
		err    error
	)
	if p.Method == nil {
		result, err = h.Get(ctx, content)
	} else {
		result, err = e.invoke(ctx, p, h, "", content)
	}
	if err != nil {
		e.fail(p, err)
		return nil, err
	}
	return result, nil
}

// Launcher binds Launch to one preset name.
func (e *Engine) Launcher(name string) LaunchFunc {
	return func(ctx context.Context, content any, target ...registry.Filter) (any, error) {
		return e.Launch(ctx, name, content, target...)
	}
}

func (e *Engine) invoke(ctx context.Context, p *preset.Preset, h *Handler, origin string, content any) (any, error) {
	call := &middleware.Call{Preset: p, Origin: origin, Content: content, Surface: h}
	return e.chain(middleware.Invoke(p.Method))(ctx, call)
}

func (e *Engine) fail(p *preset.Preset, err error) {
	if p.ErrorCatcher != nil {
		p.ErrorCatcher(p, err)
		return
	}
	e.log.Error().Err(err).Str("preset", p.Name).Msg("preset failed")
}

func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

func (e *Engine) Connections(f registry.Filter) []*connection.Connection {
	return e.reg.Connections(f)
}

// GetCustomData reads the endpoint's own data. An empty key returns all of it.
func (e *Engine) GetCustomData(key string) any {
	if key == "" {
		return e.self.Snapshot()
	}
	v, _ := e.self.Get(key)
	return v
}

// SetCustomData stores value and replicates it to every identified peer.
func (e *Engine) SetCustomData(key string, value any) {
	e.self.Set(key, value)
}

// Identity is the identifier the server knows a connection by. On the client
// it is empty until the first handshake on that connection completes.
func (e *Engine) Identity(c *connection.Connection) string {
	if e.opts.Role == RoleServer {
		return c.ID()
	}
	e.idMu.RLock()
	defer e.idMu.RUnlock()
	return e.identities[c]
}

func (e *Engine) setIdentity(c *connection.Connection, id string) {
	e.idMu.Lock()
	e.identities[c] = id
	e.idMu.Unlock()
}

// Pending counts requests waiting for a reply.
func (e *Engine) Pending() int {
	return e.pending.len()
}

// Close stops new dispatches and waits for running ones until ctx is done.
func (e *Engine) Close(ctx context.Context) error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) HandleOpen(c *connection.Connection) {
	c.SetState(connection.Identifying)
	if e.opts.Role == RoleClient {
		return
	}
	e.reg.Add(c)
	if e.ctx.Err() != nil {
		c.Terminate()
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.identify(c)
	}()
}

func (e *Engine) HandleInbound(c *connection.Connection, in connection.Inbound) {
	env := in.Envelope
	if env == nil {
		e.log.Warn().Str("conn", c.ID()).Int("bytes", len(in.Raw)).Msg("undecodable payload dropped")
		return
	}
	if id := e.ownID(env); id != "" {
		e.resolve(c, id, env)
		return
	}
	if e.opts.Role == RoleServer && !e.knownSender(c, env) {
		e.log.Warn().Str("conn", c.ID()).Str("clientId", env.ClientID).Msg("message from unknown sender rejected")
		return
	}

	command := e.command(env)
	p, ok := e.lookup(command)
	if !ok {
		e.log.Warn().Str("conn", c.ID()).Str("command", command).Msg("unknown command")
		return
	}
	inherited := e.peerID(env)
	if strings.HasPrefix(command, message.ReservedPrefix) {
		// reserved messages are cheap and ordered with the rest of the stream
		e.dispatchSystem(c, p, env.Content, inherited)
		return
	}
	if e.ctx.Err() != nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatch(c, p, env.Content, inherited)
	}()
}

func (e *Engine) HandleClose(c *connection.Connection, ev transport.CloseEvent) {
	if e.opts.OnDisconnect != nil {
		e.opts.OnDisconnect(c, ev)
	}
}

// Forget drops c from the registry and fails the requests still waiting on it.
func (e *Engine) Forget(c *connection.Connection) {
	for _, ent := range e.pending.drain(c) {
		ent.deliver(Reply{ID: c.ID(), Err: fmt.Errorf("%s on %s: %w", ent.preset, c.ID(), ErrConnectionGone)})
	}
	if !e.reg.RemoveConn(c) {
		return
	}
	e.idMu.Lock()
	delete(e.identities, c)
	e.idMu.Unlock()
	if e.opts.OnForget != nil {
		e.opts.OnForget(c)
	}
}

// AddConnection registers a client-side connection before it is activated.
// It reports false, leaving the registry alone, when the name is taken.
func (e *Engine) AddConnection(c *connection.Connection) bool {
	return e.reg.AddIfAbsent(c)
}

// resolve hands a reply to its waiting request.
func (e *Engine) resolve(c *connection.Connection, id string, env *message.Envelope) {
	ent, ok := e.pending.peek(id)
	if !ok {
		e.log.Debug().Str("conn", c.ID()).Str("id", id).Msg("late reply dropped")
		return
	}
	if ent.conn != c {
		e.log.Warn().Str("conn", c.ID()).Str("id", id).Str("expected", ent.conn.ID()).Msg("reply on wrong connection dropped")
		return
	}
	if e.opts.Role == RoleServer && ent.preset != message.CommandIdentify && !e.knownSender(c, env) {
		e.log.Warn().Str("conn", c.ID()).Str("clientId", env.ClientID).Msg("reply from unknown sender rejected")
		return
	}
	if ent, ok = e.pending.take(id); ok {
		ent.deliver(Reply{ID: c.ID(), Value: env.Content})
	}
}

// knownSender accepts a message only from an identified connection that
// names itself by its registry key.
func (e *Engine) knownSender(c *connection.Connection, env *message.Envelope) bool {
	if c.State() != connection.Identified {
		return false
	}
	got, ok := e.reg.Get(env.ClientID)
	return ok && got == c
}

func (e *Engine) dispatch(origin *connection.Connection, p *preset.Preset, content any, inherited string) {
	if p.Method == nil {
		e.log.Error().Str("preset", p.Name).Str("conn", origin.ID()).Msg("preset has no method")
		return
	}
	conns := []*connection.Connection{origin}
	if p.Target != nil {
		conns = e.reg.Connections(p.Target)
	}
	h := e.newHandler(p, conns, origin, inherited)
	result, err := e.invoke(e.ctx, p, h, origin.ID(), p.In(content, p.Adapter))
	if err != nil {
		e.fail(p, err)
		return
	}
	if inherited != "" && !h.replied.Load() {
		h.reply(result)
	}
}

// envelope addresses content to command on the peer of c.
func (e *Engine) envelope(c *connection.Connection, command string, content any) *message.Envelope {
	env := message.New(content)
	env.OriginSocket = c.ID()
	if e.opts.Role == RoleServer {
		env.ClientCommand = command
		env.ClientID = c.ID()
	} else {
		env.ServerCommand = command
		env.ClientID = e.Identity(c)
	}
	return env
}

func (e *Engine) command(env *message.Envelope) string {
	if e.opts.Role == RoleServer {
		return env.ServerCommand
	}
	return env.ClientCommand
}

func (e *Engine) ownID(env *message.Envelope) string {
	if e.opts.Role == RoleServer {
		return env.ServerMessageID
	}
	return env.ClientMessageID
}

func (e *Engine) setOwnID(env *message.Envelope, id string) {
	if e.opts.Role == RoleServer {
		env.ServerMessageID = id
	} else {
		env.ClientMessageID = id
	}
}

func (e *Engine) peerID(env *message.Envelope) string {
	if e.opts.Role == RoleServer {
		return env.ClientMessageID
	}
	return env.ServerMessageID
}

func (e *Engine) setPeerID(env *message.Envelope, id string) {
	if e.opts.Role == RoleServer {
		env.ClientMessageID = id
	} else {
		env.ServerMessageID = id
	}
}
