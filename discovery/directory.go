// Package discovery lets servers announce where they accept connections and
// lets clients find them.
package discovery

import (
	"context"
	"sync"
)

// ServiceInstance is one reachable server endpoint.
type ServiceInstance struct {
	Addr    string `json:"addr"` // dialable address, e.g. ws://10.0.0.7:8080/ws
	Weight  int    `json:"weight"`
	Version string `json:"version"`
}

type Directory interface {
	Register(ctx context.Context, service string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, service string, addr string) error
	Discover(ctx context.Context, service string) ([]ServiceInstance, error)
	Watch(ctx context.Context, service string) <-chan []ServiceInstance
}

// Static is an in-memory Directory, handy for fixed deployments and tests.
// TTLs are ignored.
type Static struct {
	mu        sync.RWMutex
	instances map[string][]ServiceInstance
	watchers  map[string][]chan []ServiceInstance
}

func NewStatic() *Static {
	return &Static{
		instances: make(map[string][]ServiceInstance),
		watchers:  make(map[string][]chan []ServiceInstance),
	}
}

func (s *Static) Register(_ context.Context, service string, instance ServiceInstance, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.instances[service]
	for i, inst := range list {
		if inst.Addr == instance.Addr {
			list[i] = instance
			s.notify(service)
			return nil
		}
	}
	s.instances[service] = append(list, instance)
	s.notify(service)
	return nil
}

func (s *Static) Deregister(_ context.Context, service string, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.instances[service]
	for i, inst := range list {
		if inst.Addr == addr {
			s.instances[service] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	s.notify(service)
	return nil
}

func (s *Static) Discover(_ context.Context, service string) ([]ServiceInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ServiceInstance(nil), s.instances[service]...), nil
}

func (s *Static) Watch(ctx context.Context, service string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	s.mu.Lock()
	s.watchers[service] = append(s.watchers[service], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.watchers[service]
		for i, w := range list {
			if w == ch {
				s.watchers[service] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// notify must be called with s.mu held.
func (s *Static) notify(service string) {
	snapshot := append([]ServiceInstance(nil), s.instances[service]...)
	for _, ch := range s.watchers[service] {
		// keep only the latest list for slow readers
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
}
