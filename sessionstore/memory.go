package sessionstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory keeps sessions in process, for single-server deployments.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]Session
}

// NewMemory expires sessions ttl after their last touch; 0 never expires.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now, sessions: make(map[string]Session)}
}

func (m *Memory) expired(s Session) bool {
	return m.ttl > 0 && m.now().Sub(s.LastSeen) > m.ttl
}

func (m *Memory) Bind(_ context.Context, s Session) error {
	now := m.now()
	if s.ConnectedAt.IsZero() {
		s.ConnectedAt = now
	}
	s.LastSeen = now
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return nil
}

func (m *Memory) Touch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	if m.expired(s) {
		delete(m.sessions, id)
		return nil
	}
	s.LastSeen = m.now()
	m.sessions[id] = s
	return nil
}

func (m *Memory) Unbind(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Lookup(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || m.expired(s) {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) List(_ context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if !m.expired(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
