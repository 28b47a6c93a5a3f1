package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore shares entries between bot replicas through Redis.
// Entries are written with a retention well beyond the cache TTL so a stale
// entry is still available as a fallback when a refresh fails.
type RedisStore struct {
	client    redis.Cmdable
	prefix    string
	retention time.Duration
}

// NewRedisStore wraps client. A zero retention keeps entries forever.
func NewRedisStore(client redis.Cmdable, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "finbot:fact:"
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention}
}

func (s *RedisStore) key(k Key) string { return s.prefix + k.String() }

func (s *RedisStore) Get(ctx context.Context, key Key) (Entry, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrMiss
	}
	if err != nil {
		return Entry{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("decode entry %s: %w", key, err)
	}
	return e, nil
}

func (s *RedisStore) Set(ctx context.Context, key Key, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.key(key), raw, s.retention).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
