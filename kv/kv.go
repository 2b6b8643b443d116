// Package kv implements the sideband key/value store a Transport uses to
// carry payloads too large to publish inline (spec.md §4.2, §5). A value
// is written once under an opaque key with an expiry, and consumed exactly
// once by Get, which deletes it as part of the fetch.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrKeyNotFound is returned by Get when key does not exist - either it was
// never written, already consumed by a prior Get, or its expiry elapsed
// before anyone fetched it (spec.md §5's expiry-tolerance policy).
var ErrKeyNotFound = errors.New("kv: key not found")

// MinTTL is the minimum sideband expiry spec.md §4.2 requires ("at least
// 300 seconds") so a slow subscriber still has a chance to fetch before the
// broker reclaims the entry.
const MinTTL = 300 * time.Second

// Store is the sideband key/value contract a Transport depends on. Separated
// from the concrete Redis type so tests can substitute an in-memory fake.
type Store interface {
	// Put writes value under a freshly generated opaque key and returns it.
	// ttl is clamped up to MinTTL if a caller passes something shorter.
	Put(ctx context.Context, value []byte, ttl time.Duration) (string, error)

	// Get fetches and deletes the value stored under key. Returns
	// ErrKeyNotFound if key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	Close() error
}

// RedisStore is the production Store, backed by the same Redis instance the
// transport uses for pub/sub (spec.md §4.2's "key/value broker with
// PUBSUB" note) - grounded on the original Python implementation's
// commlayers/redis.py, which uses one Redis connection for both concerns.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing Redis client. prefix namespaces sideband
// keys away from any other use of the same Redis instance.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Put(ctx context.Context, value []byte, ttl time.Duration) (string, error) {
	if ttl < MinTTL {
		ttl = MinTTL
	}
	key := s.prefix + uuid.NewString()
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return "", fmt.Errorf("kv: set %s: %w", key, err)
	}
	return key, nil
}

// Get fetches and deletes the value under key in one round trip via a
// pipelined GET+DEL, so a value is consumed exactly once even under
// concurrent Get calls.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	pipe := s.client.TxPipeline()
	getCmd := pipe.Get(ctx, key)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("kv: get %s: %w", key, err)
	}
	data, err := getCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv: get %s: %w", key, err)
	}
	return data, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
