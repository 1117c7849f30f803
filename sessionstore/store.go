// Package sessionstore records which identified clients are connected to
// which server. A server binds an identity after the handshake, refreshes it
// on every heartbeat, and unbinds it when the connection is forgotten.
package sessionstore

import (
	"context"
	"time"
)

type Session struct {
	ID          string    `json:"id"`
	Server      string    `json:"server"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
}

type Store interface {
	Bind(ctx context.Context, s Session) error
	// Touch refreshes LastSeen and the expiry. Unknown ids are ignored.
	Touch(ctx context.Context, id string) error
	Unbind(ctx context.Context, id string) error
	// Lookup returns nil, nil for an unknown or expired id.
	Lookup(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context) ([]Session, error)
	Close() error
}
