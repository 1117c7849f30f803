package sessionstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedis(context.Background(), RedisOptions{Addr: mr.Addr(), TTL: ttl})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

// exercise runs the behaviour shared by every Store.
func exercise(t *testing.T, store Store) {
	ctx := context.Background()

	got, err := store.Lookup(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, store.Touch(ctx, "missing"))

	require.NoError(t, store.Bind(ctx, Session{ID: "bob", Server: "ws://a/ws", Remote: "10.0.0.9:5555"}))
	require.NoError(t, store.Bind(ctx, Session{ID: "alice", Server: "ws://b/ws"}))

	got, err = store.Lookup(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ws://a/ws", got.Server)
	assert.Equal(t, "10.0.0.9:5555", got.Remote)
	assert.False(t, got.ConnectedAt.IsZero())
	assert.False(t, got.LastSeen.IsZero())

	require.NoError(t, store.Touch(ctx, "bob"))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alice", list[0].ID)
	assert.Equal(t, "bob", list[1].ID)

	require.NoError(t, store.Unbind(ctx, "bob"))
	got, err = store.Lookup(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemory(0))
}

func TestRedisStore(t *testing.T) {
	store, _ := newRedis(t, 0)
	exercise(t, store)
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory(time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Bind(ctx, Session{ID: "bob"}))
	now = now.Add(50 * time.Second)
	require.NoError(t, m.Touch(ctx, "bob"))
	now = now.Add(50 * time.Second)

	got, err := m.Lookup(ctx, "bob")
	require.NoError(t, err)
	assert.NotNil(t, got)

	now = now.Add(2 * time.Minute)
	got, err = m.Lookup(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, got)
	list, _ := m.List(ctx)
	assert.Empty(t, list)
}

func TestRedisExpiry(t *testing.T) {
	store, mr := newRedis(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Bind(ctx, Session{ID: "bob"}))
	assert.Equal(t, time.Minute, mr.TTL(sessionKey("bob")))

	mr.FastForward(50 * time.Second)
	require.NoError(t, store.Touch(ctx, "bob"))
	assert.Equal(t, time.Minute, mr.TTL(sessionKey("bob")))

	mr.FastForward(2 * time.Minute)
	got, err := store.Lookup(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedis(context.Background(), RedisOptions{Addr: addr})
	assert.Error(t, err)
}
