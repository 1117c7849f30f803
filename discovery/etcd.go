// etcd is used as a "distributed phonebook" for servers:
//
//	Key:   /wspreset/{service}/{addr}
//	Value: JSON-encoded ServiceInstance
//
// Registration uses TTL-based leases: if the server crashes, the lease expires
// and the entry is removed automatically, so clients never dial ghosts.

package discovery

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/wspreset/"

// EtcdDirectory implements Directory using etcd v3.
type EtcdDirectory struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
}

// NewEtcdDirectory creates a directory connected to the given etcd endpoints.
func NewEtcdDirectory(endpoints []string, dialTimeout time.Duration) (*EtcdDirectory, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdDirectory{client: c}, nil
}

func servicePrefix(service string) string {
	return keyPrefix + service + "/"
}

// Register adds an instance with a TTL lease and keeps the lease alive in the
// background until the process exits or Deregister removes the key.
//
// leaseID stays a local variable so several servers may share one directory.
func (d *EtcdDirectory) Register(ctx context.Context, service string, instance ServiceInstance, ttl int64) error {
	lease, err := d.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = d.client.Put(ctx, servicePrefix(service)+instance.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	// KeepAlive must outlive the registration call, so it gets its own context.
	ch, err := d.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes an instance. Servers call it first during shutdown.
func (d *EtcdDirectory) Deregister(ctx context.Context, service string, addr string) error {
	_, err := d.client.Delete(ctx, servicePrefix(service)+addr)
	return err
}

// Watch emits the full instance list every time the service prefix changes.
// The channel closes when ctx is done.
func (d *EtcdDirectory) Watch(ctx context.Context, service string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	go func() {
		defer close(ch)
		watchChan := d.client.Watch(ctx, servicePrefix(service), clientv3.WithPrefix())
		for range watchChan {
			// re-fetching is simpler than applying individual events
			instances, err := d.Discover(ctx, service)
			if err != nil {
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns all instances currently registered for a service.
func (d *EtcdDirectory) Discover(ctx context.Context, service string) ([]ServiceInstance, error) {
	resp, err := d.client.Get(ctx, servicePrefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Ping checks that the first endpoint answers.
func (d *EtcdDirectory) Ping(ctx context.Context) error {
	_, err := d.client.Status(ctx, d.client.Endpoints()[0])
	return err
}

func (d *EtcdDirectory) Close() error {
	return d.client.Close()
}
