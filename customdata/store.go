// Package customdata holds an endpoint's own key/value metadata, the data its
// peers see as this endpoint's attributes.
package customdata

import "sync"

// ChangeFunc observes a single key being set.
type ChangeFunc func(key string, value any)

type Store struct {
	mu       sync.RWMutex
	data     map[string]any
	onChange []ChangeFunc
}

func New(initial map[string]any) *Store {
	s := &Store{data: make(map[string]any, len(initial))}
	for k, v := range initial {
		s.data[k] = v
	}
	return s
}

func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Snapshot returns a copy safe to hand to the codec.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Set stores value and notifies observers outside the lock.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	s.data[key] = value
	fns := append([]ChangeFunc(nil), s.onChange...)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(key, value)
	}
}

// Replace swaps the whole map without notifying observers.
func (s *Store) Replace(data map[string]any) {
	next := make(map[string]any, len(data))
	for k, v := range data {
		next[k] = v
	}
	s.mu.Lock()
	s.data = next
	s.mu.Unlock()
}

func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
