package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message or control frame to the peer.
	writeWait = 10 * time.Second
	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 20
)

// WebSocket adapts a gorilla connection. Writes are serialized by writeMu
// since gorilla allows one concurrent writer.
type WebSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	st      state
	sink

	ackMu sync.Mutex
	ack   func()
}

// NewWebSocket wraps an established connection, dialed or upgraded.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	w := &WebSocket{conn: conn}
	w.st.store(StateOpen)
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		w.ackMu.Lock()
		ack := w.ack
		w.ack = nil
		w.ackMu.Unlock()
		if ack != nil {
			ack()
		}
		return nil
	})
	return w
}

func (w *WebSocket) Listen(ev Events) {
	w.sink.listen(ev, w.readPump)
}

// readPump reads until the connection fails, then reports close exactly once.
func (w *WebSocket) readPump() {
	w.sink.open()
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			ev := CloseEvent{Code: CloseAbnormal, Reason: err.Error()}
			var ce *websocket.CloseError
			switch {
			case errors.As(err, &ce):
				ev = CloseEvent{Code: ce.Code, Reason: ce.Text}
			case w.st.load() != StateOpen:
				// we started the close and the peer never echoed it
				ev = CloseEvent{Code: CloseNormal, Reason: "closed locally"}
			default:
				w.sink.error(err)
			}
			w.st.store(StateClosed)
			_ = w.conn.Close()
			w.sink.close(ev)
			return
		}
		w.sink.message(data)
	}
}

func (w *WebSocket) Send(data []byte) error {
	if w.st.load() != StateOpen {
		return ErrClosed
	}
	kind := websocket.TextMessage
	if !utf8.Valid(data) {
		kind = websocket.BinaryMessage
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(kind, data)
}

func (w *WebSocket) Ping(ack func()) error {
	if w.st.load() != StateOpen {
		return ErrClosed
	}
	w.ackMu.Lock()
	w.ack = ack
	w.ackMu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (w *WebSocket) Close() error {
	if !w.st.swap(StateOpen, StateClosing) {
		return nil
	}
	if !w.sink.started.Load() {
		w.st.store(StateClosed)
		return w.conn.Close()
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		return w.conn.Close()
	}
	// The read pump exits on the peer's echo or on this deadline.
	return w.conn.SetReadDeadline(time.Now().Add(writeWait))
}

func (w *WebSocket) ReadyState() ReadyState {
	return w.st.load()
}

func (w *WebSocket) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}

// WebSocketDialer dials ws:// and wss:// URLs.
type WebSocketDialer struct {
	Dialer *websocket.Dialer // nil means websocket.DefaultDialer
	Header http.Header
}

func (d *WebSocketDialer) Dial(ctx context.Context, addr string) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, addr, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %s: %w", addr, resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", addr, err)
	}
	return NewWebSocket(conn), nil
}
