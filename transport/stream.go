package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"wspreset/protocol"
)

// Stream carries payloads over a raw TCP connection using protocol frames.
// Pings are answered by the peer's read loop, so probes work in both
// directions without help from the layers above.
type Stream struct {
	conn      net.Conn
	codecType byte
	writeMu   sync.Mutex // Frames from different goroutines must not interleave
	st        state
	sink

	seq  atomic.Uint32
	acks sync.Map // map[uint32]func()
}

// NewStream wraps an established TCP connection. codecType is stamped into
// every data frame header.
func NewStream(conn net.Conn, codecType byte) *Stream {
	s := &Stream{conn: conn, codecType: codecType}
	s.st.store(StateOpen)
	return s
}

func (s *Stream) Listen(ev Events) {
	s.sink.listen(ev, s.readLoop)
}

func (s *Stream) readLoop() {
	s.sink.open()
	ev := CloseEvent{Code: CloseNormal}
	for {
		header, body, err := protocol.Decode(s.conn)
		if err != nil {
			if s.st.load() == StateOpen {
				if !errors.Is(err, io.EOF) {
					s.sink.error(err)
				}
				ev = CloseEvent{Code: CloseAbnormal, Reason: err.Error()}
			}
			break
		}

		switch header.MsgType {
		case protocol.MsgTypeData:
			s.sink.message(body)
		case protocol.MsgTypePing:
			if err := s.writeFrame(protocol.MsgTypePong, header.Seq, nil); err != nil {
				s.sink.error(err)
			}
		case protocol.MsgTypePong:
			if ack, ok := s.acks.LoadAndDelete(header.Seq); ok {
				ack.(func())()
			}
		case protocol.MsgTypeClose:
			ev = CloseEvent{Code: CloseNormal, Reason: string(body)}
			s.st.store(StateClosing)
		}
		if header.MsgType == protocol.MsgTypeClose {
			break
		}
	}
	s.st.store(StateClosed)
	_ = s.conn.Close()
	s.acks.Clear()
	s.sink.close(ev)
}

func (s *Stream) writeFrame(t protocol.MsgType, seq uint32, body []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return protocol.Encode(s.conn, &protocol.Header{
		CodecType: s.codecType,
		MsgType:   t,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}, body)
}

func (s *Stream) Send(data []byte) error {
	if s.st.load() != StateOpen {
		return ErrClosed
	}
	return s.writeFrame(protocol.MsgTypeData, s.seq.Add(1), data)
}

func (s *Stream) Ping(ack func()) error {
	if s.st.load() != StateOpen {
		return ErrClosed
	}
	seq := s.seq.Add(1)
	s.acks.Store(seq, ack)
	if err := s.writeFrame(protocol.MsgTypePing, seq, nil); err != nil {
		s.acks.Delete(seq)
		return err
	}
	return nil
}

func (s *Stream) Close() error {
	if !s.st.swap(StateOpen, StateClosing) {
		return nil
	}
	if !s.sink.started.Load() {
		s.st.store(StateClosed)
		return s.conn.Close()
	}
	_ = s.writeFrame(protocol.MsgTypeClose, s.seq.Add(1), nil)
	// Closing the socket ends the read loop, which reports the close event.
	return s.conn.Close()
}

func (s *Stream) ReadyState() ReadyState {
	return s.st.load()
}

func (s *Stream) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// StreamDialer dials host:port addresses over TCP.
type StreamDialer struct {
	Timeout   time.Duration
	CodecType byte
}

func (d *StreamDialer) Dial(ctx context.Context, addr string) (Transport, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp dial %s: %w", addr, err)
	}
	return NewStream(conn, d.CodecType), nil
}
