// Package loadbalance picks which server a client connection dials when
// discovery returns several.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity servers
//   - WeightedRandom:  servers of different capacity
//   - ConsistentHash:  a client identity keeps landing on the same server,
//     so a resumed session finds its old entry there
package loadbalance

import (
	"errors"
	"fmt"

	"wspreset/discovery"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer is the interface for load balancing strategies.
// The client calls Pick() before every dial. It must be goroutine-safe.
type Balancer interface {
	// Pick selects one instance. key identifies the dialing client; strategies
	// without affinity ignore it.
	Pick(key string, instances []discovery.ServiceInstance) (*discovery.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the strategy configured by name.
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
}
