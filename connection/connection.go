// Package connection wraps one transport handle with the behaviour the
// protocol needs on top of raw bytes: envelope encoding, hooks, liveness,
// the peer's cached custom data, and reconnecting to the last known address.
//
// Event flow for one transport generation:
//
//	transport ─open──→ Hooks.Open    ─→ active, alive ─→ Owner.HandleOpen
//	          ─bytes─→ Hooks.Message ─→ codec.Decode  ─→ Owner.HandleInbound
//	          ─close─→ Hooks.Close   ─→ inactive      ─→ Owner.HandleClose ─→ reconnect | Owner.Forget
package connection

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"wspreset/codec"
	"wspreset/message"
	"wspreset/transport"
)

var (
	ErrInactive         = errors.New("connection: not active")
	ErrNotReconnectable = errors.New("connection: no address to connect to")
	ErrTerminated       = errors.New("connection: terminated")
)

// State tracks the identity handshake of a connection.
type State int32

const (
	Unidentified State = iota
	Identifying
	Identified
)

func (s State) String() string {
	switch s {
	case Unidentified:
		return "unidentified"
	case Identifying:
		return "identifying"
	case Identified:
		return "identified"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Inbound is one received payload. Envelope is nil when the payload could not
// be decoded; Raw then holds it untouched.
type Inbound struct {
	Envelope *message.Envelope
	Raw      []byte
}

// Owner receives a connection's lifecycle. The endpoint engine implements it.
type Owner interface {
	HandleOpen(c *Connection)
	HandleInbound(c *Connection, in Inbound)
	HandleClose(c *Connection, ev transport.CloseEvent)
	// Forget is called once the connection will not come back: terminated,
	// or reconnect gave up.
	Forget(c *Connection)
}

type Options struct {
	Codec       codec.Codec      // nil means JSON without date reviving
	Dialer      transport.Dialer // required for Activate and reconnect
	Address     string           // last known address, passed to Dialer
	MaxRetries  int              // reconnect attempts before giving up
	Backoff     Backoff          // spacing of reconnect attempts
	DialTimeout time.Duration
	Policy      Policy // applied when a hook returns nil

	// InboundLimit caps received messages per second; 0 disables the limit.
	InboundLimit rate.Limit
	InboundBurst int

	Logger *zerolog.Logger // nil means the global zerolog logger
}

type Connection struct {
	opts    Options
	owner   Owner
	log     zerolog.Logger
	limiter *rate.Limiter
	rng     *rand.Rand

	mu   sync.RWMutex
	id   string
	data map[string]any
	tr   transport.Transport
	gen  uint64 // bumped on every attach; events of older transports are ignored
	quit chan struct{}

	dialMu sync.Mutex
	hookMu sync.Mutex
	hooks  atomic.Pointer[Hooks]

	state         atomic.Int32
	active        atomic.Bool
	alive         atomic.Bool
	terminated    atomic.Bool
	reconnecting  atomic.Bool
	retries       atomic.Int32
	identifiedGen atomic.Uint64
}

// New creates a connection that dials opts.Address on Activate and
// reconnects there after a close.
func New(id string, owner Owner, opts Options) *Connection {
	if opts.Codec == nil {
		opts.Codec = &codec.JSONCodec{}
	}
	if opts.Backoff.Initial <= 0 {
		opts.Backoff = DefaultBackoff()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	c := &Connection{
		opts:  opts,
		owner: owner,
		log:   logger.With().Str("component", "connection").Logger(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		id:    id,
		data:  map[string]any{"name": id},
		quit:  make(chan struct{}),
	}
	if opts.InboundLimit > 0 {
		burst := opts.InboundBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(opts.InboundLimit, burst)
	}
	c.hooks.Store(&Hooks{})
	return c
}

// FromTransport adopts a live transport, e.g. one accepted by a server.
// There is no address to go back to, so reconnecting is disabled.
func FromTransport(id string, t transport.Transport, owner Owner, opts Options) *Connection {
	opts.Dialer = nil
	opts.Address = ""
	opts.MaxRetries = 0
	c := New(id, owner, opts)
	c.attach(t)
	return c
}

// attach makes t the current transport. A connection terminated while t was
// being dialed closes t instead and reports false.
func (c *Connection) attach(t transport.Transport) bool {
	c.mu.Lock()
	if c.terminated.Load() {
		c.mu.Unlock()
		_ = t.Close()
		return false
	}
	c.gen++
	gen := c.gen
	c.tr = t
	c.mu.Unlock()

	t.Listen(transport.Events{
		OnMessage: func(data []byte) { c.onMessage(gen, data) },
		OnOpen:    func() { c.onOpen(gen) },
		OnError:   func(err error) { c.onError(gen, err) },
		OnClose:   func(ev transport.CloseEvent) { c.onClose(gen, ev) },
	})
	return true
}

func (c *Connection) current(gen uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen == gen
}

func (c *Connection) currentTransport() transport.Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tr
}

func (c *Connection) loadHooks() *Hooks {
	return c.hooks.Load()
}

func (c *Connection) onMessage(gen uint64, data []byte) {
	if !c.current(gen) {
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		c.log.Warn().Str("conn", c.ID()).Int("bytes", len(data)).Msg("inbound rate exceeded, message dropped")
		return
	}
	if h := c.loadHooks().Message; h != nil {
		var ok bool
		if data, ok = decide(c.opts.Policy, h(c, data), data); !ok {
			return
		}
	}

	var env message.Envelope
	if err := c.opts.Codec.Decode(data, &env); err != nil {
		c.owner.HandleInbound(c, Inbound{Raw: data})
		return
	}
	c.owner.HandleInbound(c, Inbound{Envelope: &env})
}

func (c *Connection) onOpen(gen uint64) {
	if !c.current(gen) {
		return
	}
	if h := c.loadHooks().Open; h != nil {
		if _, ok := decide(c.opts.Policy, h(c), struct{}{}); !ok {
			return
		}
	}
	c.active.Store(true)
	c.alive.Store(true)
	c.retries.Store(0)
	c.log.Debug().Str("conn", c.ID()).Str("remote", c.RemoteAddr()).Msg("connection open")
	c.owner.HandleOpen(c)
}

func (c *Connection) onError(gen uint64, err error) {
	if !c.current(gen) {
		return
	}
	if h := c.loadHooks().Error; h != nil {
		var ok bool
		if err, ok = decide(c.opts.Policy, h(c, err), err); !ok {
			return
		}
	}
	c.log.Warn().Err(err).Str("conn", c.ID()).Msg("transport error")
}

func (c *Connection) onClose(gen uint64, ev transport.CloseEvent) {
	if !c.current(gen) {
		return
	}
	c.active.Store(false)
	c.alive.Store(false)
	c.state.Store(int32(Unidentified))
	if h := c.loadHooks().Close; h != nil {
		var ok bool
		if ev, ok = decide(c.opts.Policy, h(c, ev), ev); !ok {
			return
		}
	}
	c.log.Info().Str("conn", c.ID()).Int("code", ev.Code).Str("reason", ev.Reason).Msg("connection closed")
	c.owner.HandleClose(c, ev)

	if c.terminated.Load() {
		c.owner.Forget(c)
		return
	}
	c.scheduleReconnect()
}

// Send encodes env and writes it. An inactive connection writes nothing and
// returns ErrInactive. A Send hook that halts turns the call into a no-op.
func (c *Connection) Send(env *message.Envelope) error {
	t := c.currentTransport()
	if t == nil || !c.active.Load() {
		return ErrInactive
	}
	data, err := c.opts.Codec.Encode(env)
	if err != nil {
		return fmt.Errorf("connection %s: encode: %w", c.ID(), err)
	}
	if h := c.loadHooks().Send; h != nil {
		var ok bool
		if data, ok = decide(c.opts.Policy, h(c, data), data); !ok {
			return nil
		}
	}
	return t.Send(data)
}

// Activate dials the last known address unless the connection is already
// active. force closes the current transport first and always dials.
func (c *Connection) Activate(ctx context.Context, force bool) error {
	if c.active.Load() && !force {
		return nil
	}
	if c.opts.Dialer == nil || c.opts.Address == "" {
		return ErrNotReconnectable
	}

	c.mu.Lock()
	if c.terminated.Swap(false) {
		c.quit = make(chan struct{})
	}
	var old transport.Transport
	if force {
		old = c.tr
		c.tr = nil
		c.gen++
	}
	c.mu.Unlock()

	if old != nil {
		c.active.Store(false)
		_ = old.Close()
	}
	t, err := c.dial(ctx, force)
	if err != nil || t == nil {
		return err
	}
	if !c.attach(t) {
		return ErrTerminated
	}
	return nil
}

// dial returns nil, nil when another caller already brought a transport up.
func (c *Connection) dial(ctx context.Context, force bool) (transport.Transport, error) {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	if cur := c.currentTransport(); !force && cur != nil && cur.ReadyState() == transport.StateOpen {
		return nil, nil
	}
	t, err := c.opts.Dialer.Dial(ctx, c.opts.Address)
	if err != nil {
		return nil, fmt.Errorf("connection %s: %w", c.ID(), err)
	}
	return t, nil
}

func (c *Connection) quitChan() chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.quit
}

func (c *Connection) scheduleReconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go c.reconnectLoop()
}

// reconnectLoop polls the last known address until a dial succeeds, the
// connection is terminated, or the retry budget runs out.
func (c *Connection) reconnectLoop() {
	quit := c.quitChan()
	for {
		attempt := int(c.retries.Add(1))
		if c.opts.Dialer == nil || attempt > c.opts.MaxRetries {
			c.reconnecting.Store(false)
			if c.opts.Dialer != nil {
				c.log.Warn().Str("conn", c.ID()).Int("retries", attempt-1).Msg("reconnect gave up")
			}
			c.owner.Forget(c)
			return
		}

		timer := time.NewTimer(c.opts.Backoff.Next(attempt, c.rng))
		select {
		case <-quit:
			timer.Stop()
			c.reconnecting.Store(false)
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
		t, err := c.dial(ctx, false)
		cancel()
		if err != nil {
			c.log.Warn().Err(err).Str("conn", c.ID()).Int("attempt", attempt).Msg("reconnect failed")
			continue
		}
		c.reconnecting.Store(false)
		if t != nil && !c.attach(t) {
			c.log.Debug().Str("conn", c.ID()).Msg("terminated during reconnect, transport discarded")
		}
		return
	}
}

// Terminate closes the transport for good: no reconnect, and the owner forgets
// the connection.
func (c *Connection) Terminate() {
	c.mu.Lock()
	if !c.terminated.Swap(true) {
		close(c.quit)
	}
	t := c.tr
	c.mu.Unlock()

	c.active.Store(false)
	if t != nil {
		_ = t.Close()
	}
	c.owner.Forget(c)
}

// Alive reports the heartbeat flag, and false once the transport is closing.
func (c *Connection) Alive() bool {
	t := c.currentTransport()
	if t == nil {
		return false
	}
	if s := t.ReadyState(); s == transport.StateClosing || s == transport.StateClosed {
		return false
	}
	return c.alive.Load()
}

// Probe clears the alive flag and pings; the acknowledgement sets it again.
// Transports that cannot ping are taken as alive.
func (c *Connection) Probe() {
	t := c.currentTransport()
	if t == nil {
		return
	}
	c.alive.Store(false)
	err := t.Ping(func() { c.alive.Store(true) })
	if errors.Is(err, transport.ErrPingUnsupported) {
		c.alive.Store(true)
	} else if err != nil {
		c.log.Debug().Err(err).Str("conn", c.ID()).Msg("probe failed")
	}
}

func (c *Connection) Active() bool {
	return c.active.Load()
}

func (c *Connection) Terminated() bool {
	return c.terminated.Load()
}

func (c *Connection) Retries() int {
	return int(c.retries.Load())
}

func (c *Connection) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// SetID renames the connection. The registry calls it while re-keying.
func (c *Connection) SetID(id string) {
	c.mu.Lock()
	c.id = id
	c.data["name"] = id
	c.mu.Unlock()
}

func (c *Connection) Address() string {
	return c.opts.Address
}

func (c *Connection) RemoteAddr() string {
	if t := c.currentTransport(); t != nil {
		return t.RemoteAddr()
	}
	return ""
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) SetState(s State) {
	c.state.Store(int32(s))
}

// MarkIdentified sets the Identified state and reports whether this is the
// first identification of the current transport.
func (c *Connection) MarkIdentified() bool {
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()
	c.state.Store(int32(Identified))
	for {
		prev := c.identifiedGen.Load()
		if prev == gen {
			return false
		}
		if c.identifiedGen.CompareAndSwap(prev, gen) {
			return true
		}
	}
}

// CustomData returns a copy of the peer's cached data.
func (c *Connection) CustomData() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

func (c *Connection) CustomValue(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// ReplaceCustomData swaps the whole cache, keeping name equal to the identifier.
func (c *Connection) ReplaceCustomData(data map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]any, len(data)+1)
	for k, v := range data {
		c.data[k] = v
	}
	c.data["name"] = c.id
}

func (c *Connection) UpdateCustomData(key string, value any) {
	c.mu.Lock()
	c.data[key] = value
	c.mu.Unlock()
}

// SetHooks replaces every hook at once.
func (c *Connection) SetHooks(h Hooks) {
	c.hookMu.Lock()
	c.hooks.Store(&h)
	c.hookMu.Unlock()
}

func (c *Connection) updateHooks(fn func(h *Hooks)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	next := *c.hooks.Load()
	fn(&next)
	c.hooks.Store(&next)
}

func (c *Connection) OnMessage(fn func(c *Connection, data []byte) *Verdict[[]byte]) {
	c.updateHooks(func(h *Hooks) { h.Message = fn })
}

func (c *Connection) OnOpen(fn func(c *Connection) *Verdict[struct{}]) {
	c.updateHooks(func(h *Hooks) { h.Open = fn })
}

func (c *Connection) OnError(fn func(c *Connection, err error) *Verdict[error]) {
	c.updateHooks(func(h *Hooks) { h.Error = fn })
}

func (c *Connection) OnClose(fn func(c *Connection, ev transport.CloseEvent) *Verdict[transport.CloseEvent]) {
	c.updateHooks(func(h *Hooks) { h.Close = fn })
}

func (c *Connection) OnSend(fn func(c *Connection, data []byte) *Verdict[[]byte]) {
	c.updateHooks(func(h *Hooks) { h.Send = fn })
}
