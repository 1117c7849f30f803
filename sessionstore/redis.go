package sessionstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "wspreset:session:"

// Redis keeps one hash per session so that several servers share one view of
// who is connected where.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration // expiry after the last touch; 0 never expires
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("sessionstore: connect to redis %s: %w", opts.Addr, err)
	}
	return &Redis{client: rdb, ttl: opts.TTL}, nil
}

func sessionKey(id string) string {
	return keyPrefix + id
}

func (r *Redis) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
}

func (r *Redis) Bind(ctx context.Context, s Session) error {
	now := time.Now().UTC()
	if s.ConnectedAt.IsZero() {
		s.ConnectedAt = now
	}
	key := sessionKey(s.ID)
	fields := map[string]any{
		"id":           s.ID,
		"server":       s.Server,
		"remote":       s.Remote,
		"connected_at": s.ConnectedAt.Format(time.RFC3339Nano),
		"last_seen":    now.Format(time.RFC3339Nano),
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		r.expire(ctx, pipe, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("sessionstore: bind %s: %w", s.ID, err)
	}
	return nil
}

func (r *Redis) Touch(ctx context.Context, id string) error {
	key := sessionKey(id)
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("sessionstore: touch %s: %w", id, err)
	}
	if n == 0 {
		return nil
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "last_seen", time.Now().UTC().Format(time.RFC3339Nano))
		r.expire(ctx, pipe, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("sessionstore: touch %s: %w", id, err)
	}
	return nil
}

func (r *Redis) Unbind(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("sessionstore: unbind %s: %w", id, err)
	}
	return nil
}

func (r *Redis) Lookup(ctx context.Context, id string) (*Session, error) {
	fields, err := r.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("sessionstore: lookup %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseSession(fields), nil
}

func (r *Redis) List(ctx context.Context) ([]Session, error) {
	var (
		out    []Session
		cursor uint64
	)
	for {
		// SCAN returns keys in batches without blocking
		keys, next, err := r.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("sessionstore: list: %w", err)
		}
		for _, key := range keys {
			fields, err := r.client.HGetAll(ctx, key).Result()
			if err != nil || len(fields) == 0 {
				continue
			}
			out = append(out, *parseSession(fields))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return strings.Compare(out[i].ID, out[j].ID) < 0 })
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func parseSession(fields map[string]string) *Session {
	s := &Session{
		ID:     fields["id"],
		Server: fields["server"],
		Remote: fields["remote"],
	}
	s.ConnectedAt, _ = time.Parse(time.RFC3339Nano, fields["connected_at"])
	s.LastSeen, _ = time.Parse(time.RFC3339Nano, fields["last_seen"])
	return s
}
