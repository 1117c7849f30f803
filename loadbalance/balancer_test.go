package loadbalance

import (
	"errors"
	"fmt"
	"testing"

	"wspreset/discovery"
)

var testInstances = []discovery.ServiceInstance{
	{Addr: "ws://10.0.0.1:8080/ws", Weight: 10, Version: "1.0"},
	{Addr: "ws://10.0.0.2:8080/ws", Weight: 5, Version: "1.0"},
	{Addr: "ws://10.0.0.3:8080/ws", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all instances
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = inst.Addr
	}

	// Pick again, should wrap around to first
	inst, _ := b.Pick("", testInstances)
	if inst.Addr != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], inst.Addr)
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	_, err := b.Pick("", []discovery.ServiceInstance{})
	if !errors.Is(err, ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so the first and third should be ~2x of the second
	ratio := float64(counts[testInstances[0].Addr]) / float64(counts[testInstances[1].Addr])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	inst, err := b.Pick("", []discovery.ServiceInstance{{Addr: "a"}, {Addr: "b"}})
	if err != nil || inst == nil {
		t.Fatalf("expect a pick, got %v", err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()
	for i := range testInstances {
		b.Add(&testInstances[i])
	}

	// Same key should always map to the same instance
	inst1, _ := b.Pick("user-123", nil)
	inst2, _ := b.Pick("user-123", nil)
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	// Different keys should (likely) map to different instances
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(fmt.Sprintf("key-%d", i), nil)
		seen[inst.Addr] = true
	}

	// With 100 different keys and 3 nodes, we should hit at least 2
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestConsistentHashFollowsDiscovery(t *testing.T) {
	b := NewConsistentHashBalancer()
	if _, err := b.Pick("user-123", nil); !errors.Is(err, ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances on an empty ring, got %v", err)
	}

	first, err := b.Pick("user-123", testInstances)
	if err != nil {
		t.Fatal(err)
	}
	// order of discovery results does not move the key
	reversed := []discovery.ServiceInstance{testInstances[2], testInstances[1], testInstances[0]}
	again, _ := b.Pick("user-123", reversed)
	if first.Addr != again.Addr {
		t.Fatalf("key moved from %s to %s", first.Addr, again.Addr)
	}

	// a shrunk set never returns a removed server
	var rest []discovery.ServiceInstance
	for _, inst := range testInstances {
		if inst.Addr != first.Addr {
			rest = append(rest, inst)
		}
	}
	moved, _ := b.Pick("user-123", rest)
	if moved.Addr == first.Addr {
		t.Fatalf("picked removed instance %s", moved.Addr)
	}
}

func TestNew(t *testing.T) {
	for name, want := range map[string]string{
		"":                "RoundRobin",
		"round_robin":     "RoundRobin",
		"weighted_random": "WeightedRandom",
		"consistent_hash": "ConsistentHash",
	} {
		b, err := New(name)
		if err != nil {
			t.Fatal(err)
		}
		if b.Name() != want {
			t.Fatalf("%q: expect %s, got %s", name, want, b.Name())
		}
	}
	if _, err := New("sticky"); err == nil {
		t.Fatal("expect error for unknown strategy")
	}
}
