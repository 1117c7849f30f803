package client

import (
	"context"
	"fmt"

	"wspreset/discovery"
	"wspreset/loadbalance"
	"wspreset/transport"
)

// discoveryDialer resolves the service on every dial, so reconnects follow
// servers joining and leaving.
type discoveryDialer struct {
	directory discovery.Directory
	service   string
	balancer  loadbalance.Balancer
	dialer    transport.Dialer
	key       func() string
}

func (d *discoveryDialer) Dial(ctx context.Context, _ string) (transport.Transport, error) {
	instances, err := d.directory.Discover(ctx, d.service)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", d.service, err)
	}
	inst, err := d.balancer.Pick(d.key(), instances)
	if err != nil {
		return nil, fmt.Errorf("pick %s: %w", d.service, err)
	}
	return d.dialer.Dial(ctx, inst.Addr)
}
