package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

const pipeBuffer = 256

// PipeEnd is one side of an in-memory transport pair. Messages are delivered
// in order on the receiving end's own goroutine, as with a real socket.
type PipeEnd struct {
	name  string
	peer  *PipeEnd
	inbox chan []byte
	done  chan struct{}
	once  sync.Once
	st    state
	sink

	closeEv atomic.Pointer[CloseEvent]
	sent    atomic.Int64
	mute    atomic.Bool // stop answering pings, as a half-open peer would
}

// Pipe returns two connected ends.
func Pipe() (*PipeEnd, *PipeEnd) {
	a := newPipeEnd("pipe-a")
	b := newPipeEnd("pipe-b")
	a.peer, b.peer = b, a
	return a, b
}

func newPipeEnd(name string) *PipeEnd {
	p := &PipeEnd{
		name:  name,
		inbox: make(chan []byte, pipeBuffer),
		done:  make(chan struct{}),
	}
	p.st.store(StateOpen)
	return p
}

func (p *PipeEnd) Listen(ev Events) {
	p.sink.listen(ev, p.loop)
}

func (p *PipeEnd) loop() {
	p.sink.open()
	for {
		// Drain what already arrived before honouring a close.
		select {
		case data := <-p.inbox:
			p.sink.message(data)
			continue
		default:
		}
		select {
		case data := <-p.inbox:
			p.sink.message(data)
		case <-p.done:
			ev := CloseEvent{Code: CloseNormal}
			if e := p.closeEv.Load(); e != nil {
				ev = *e
			}
			p.sink.close(ev)
			return
		}
	}
}

func (p *PipeEnd) Send(data []byte) error {
	if p.st.load() != StateOpen {
		return ErrClosed
	}
	buf := append([]byte(nil), data...)
	select {
	case p.peer.inbox <- buf:
		p.sent.Add(1)
		return nil
	case <-p.peer.done:
		return ErrClosed
	}
}

func (p *PipeEnd) Ping(ack func()) error {
	if p.st.load() != StateOpen {
		return ErrClosed
	}
	if !p.peer.mute.Load() && p.peer.st.load() == StateOpen {
		go ack()
	}
	return nil
}

func (p *PipeEnd) Close() error {
	p.shutdown(CloseEvent{Code: CloseNormal, Reason: "closed locally"})
	p.peer.shutdown(CloseEvent{Code: CloseNormal, Reason: "closed by peer"})
	return nil
}

// Drop closes both ends abnormally, as when the network goes away.
func (p *PipeEnd) Drop() {
	p.shutdown(CloseEvent{Code: CloseAbnormal, Reason: "connection lost"})
	p.peer.shutdown(CloseEvent{Code: CloseAbnormal, Reason: "connection lost"})
}

func (p *PipeEnd) shutdown(ev CloseEvent) {
	p.once.Do(func() {
		p.closeEv.Store(&ev)
		p.st.store(StateClosed)
		close(p.done)
	})
}

// Mute stops this end from answering pings while keeping it open.
func (p *PipeEnd) Mute() {
	p.mute.Store(true)
}

// Sent counts payloads this end has written.
func (p *PipeEnd) Sent() int {
	return int(p.sent.Load())
}

func (p *PipeEnd) ReadyState() ReadyState {
	return p.st.load()
}

func (p *PipeEnd) RemoteAddr() string {
	return p.peer.name
}

// PipeDialer connects in-process: each Dial creates a pipe and hands the far
// end to Accept. An Accept error refuses the dial.
type PipeDialer struct {
	Accept func(addr string, t Transport) error
}

func (d *PipeDialer) Dial(_ context.Context, addr string) (Transport, error) {
	if d.Accept == nil {
		return nil, fmt.Errorf("pipe dial %s: no acceptor", addr)
	}
	near, far := Pipe()
	if err := d.Accept(addr, far); err != nil {
		return nil, fmt.Errorf("pipe dial %s: %w", addr, err)
	}
	return near, nil
}
