package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces session keys
const DefaultRedisPrefix = "account:session:"

// RedisStore implements Store on Redis, one JSON value per handle with a
// TTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

// RedisOption customizes a RedisStore
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key prefix
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisStore) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithRedisTTL sets the key expiration. Zero keeps keys forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *RedisStore) {
		if ttl >= 0 {
			r.ttl = ttl
		}
	}
}

// NewRedisStore wraps client
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	r := &RedisStore{
		client: client,
		prefix: DefaultRedisPrefix,
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Connect parses a redis:// URL, pings the server and returns a store.
func Connect(ctx context.Context, redisURL string, opts ...RedisOption) (*RedisStore, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisStore(client, opts...), nil
}

func (r *RedisStore) key(handle string) string {
	return r.prefix + handle
}

// Get retrieves the record stored under handle
func (r *RedisStore) Get(ctx context.Context, handle string) (*Record, error) {
	if handle == "" {
		return nil, ErrInvalidHandle
	}

	raw, err := r.client.Get(ctx, r.key(handle)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	record := &Record{}
	if err := json.Unmarshal(raw, record); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return record, nil
}

// Put stores record under handle, replacing any previous one
func (r *RedisStore) Put(ctx context.Context, handle string, record Record) error {
	if handle == "" {
		return ErrInvalidHandle
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := r.client.Set(ctx, r.key(handle), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// Delete removes the record under handle
func (r *RedisStore) Delete(ctx context.Context, handle string) error {
	if err := r.client.Del(ctx, r.key(handle)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close releases the underlying client
func (r *RedisStore) Close() error {
	return r.client.Close()
}
