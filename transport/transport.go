// Package transport defines the capability a connection needs from the
// underlying socket, and ships three implementations of it:
//
//	WebSocket  gorilla/websocket connection (dialed or upgraded)
//	Stream     framed raw TCP using package protocol
//	PipeEnd    in-memory pair for in-process endpoints and tests
//
// A transport delivers its events from one goroutine, in order: open first,
// then every message as received, then close last. That goroutine starts the
// first time Listen is called.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrClosed          = errors.New("transport: closed")
	ErrPingUnsupported = errors.New("transport: ping unsupported")
)

// ReadyState mirrors the WebSocket readyState values.
type ReadyState int32

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// CloseEvent describes why a transport closed. Codes follow RFC 6455.
type CloseEvent struct {
	Code   int
	Reason string
}

const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006
)

// Events are the four callbacks a transport reports to. Nil fields are skipped.
type Events struct {
	OnMessage func(data []byte)
	OnOpen    func()
	OnError   func(err error)
	OnClose   func(ev CloseEvent)
}

type Transport interface {
	// Send writes one payload. It fails with ErrClosed unless the state is open.
	Send(data []byte) error
	// Close starts an orderly close; the close event follows asynchronously.
	Close() error
	// Ping sends a liveness probe and calls ack when the peer answers.
	// Transports without probes return ErrPingUnsupported.
	Ping(ack func()) error
	ReadyState() ReadyState
	// Listen installs the callbacks and starts event delivery. Calling it
	// again swaps the callbacks in place.
	Listen(ev Events)
	RemoteAddr() string
}

// Dialer opens a transport to an address. Reconnecting connections keep one.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, addr string) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, addr string) (Transport, error) {
	return f(ctx, addr)
}

// sink holds the installed callbacks and starts the delivery goroutine once.
type sink struct {
	events  atomic.Pointer[Events]
	start   sync.Once
	started atomic.Bool
}

func (s *sink) listen(ev Events, run func()) {
	s.events.Store(&ev)
	s.start.Do(func() {
		s.started.Store(true)
		go run()
	})
}

func (s *sink) current() *Events {
	if ev := s.events.Load(); ev != nil {
		return ev
	}
	return &Events{}
}

func (s *sink) open() {
	if f := s.current().OnOpen; f != nil {
		f()
	}
}

func (s *sink) message(data []byte) {
	if f := s.current().OnMessage; f != nil {
		f(data)
	}
}

func (s *sink) error(err error) {
	if f := s.current().OnError; f != nil {
		f(err)
	}
}

func (s *sink) close(ev CloseEvent) {
	if f := s.current().OnClose; f != nil {
		f(ev)
	}
}

// state is a ReadyState with compare-and-swap.
type state struct {
	v atomic.Int32
}

func (s *state) load() ReadyState   { return ReadyState(s.v.Load()) }
func (s *state) store(r ReadyState) { s.v.Store(int32(r)) }

func (s *state) swap(from, to ReadyState) bool {
	return s.v.CompareAndSwap(int32(from), int32(to))
}
