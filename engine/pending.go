package engine

import (
	"sync"
	"time"

	"wspreset/connection"
	"wspreset/message"
)

// pendingEntry is one request waiting for its reply. env keeps the request
// without content.
type pendingEntry struct {
	env     message.Envelope
	conn    *connection.Connection
	preset  string
	started time.Time
	timer   *time.Timer
	deliver func(Reply)
}

// pendingTable correlates minted ids with waiting requests. Reply, timeout
// and send failure all go through take, so whichever comes second finds
// nothing and does nothing.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingEntry)}
}

// add stores the entry and arms its timer. A negative timeout never fires.
func (t *pendingTable) add(id string, e *pendingEntry, timeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = e
	if timeout < 0 {
		return
	}
	e.timer = time.AfterFunc(timeout, func() {
		if ent, ok := t.take(id); ok {
			ent.deliver(Reply{
				ID:  ent.conn.ID(),
				Err: &TimeoutError{Preset: ent.preset, Conn: ent.conn.ID(), Elapsed: time.Since(ent.started)},
			})
		}
	})
}

func (t *pendingTable) peek(id string) (*pendingEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	return e, ok
}

func (t *pendingTable) take(id string) (*pendingEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	delete(t.entries, id)
	if e.timer != nil {
		e.timer.Stop()
	}
	return e, true
}

// drain removes every entry waiting on c.
func (t *pendingTable) drain(c *connection.Connection) []*pendingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*pendingEntry
	for id, e := range t.entries {
		if e.conn != c {
			continue
		}
		delete(t.entries, id)
		if e.timer != nil {
			e.timer.Stop()
		}
		out = append(out, e)
	}
	return out
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
