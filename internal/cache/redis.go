package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces fraudsim keys in a shared Redis.
const keyPrefix = "fraudsim:"

// countScript increments a velocity counter and opens its window on the
// first order.
var countScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// redisStore keeps entries as plain strings under
// fraudsim:<tenant>:<namespace>:<id>, with the namespace TTL as expiry.
type redisStore struct {
	client *redis.Client
}

func newRedisStore(addr, password string, db int) (*redisStore, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &redisStore{client: client}, nil
}

func redisKey(key entryKey) string {
	return keyPrefix + key.String()
}

func (s *redisStore) get(ctx context.Context, key entryKey) ([]byte, error) {
	val, err := s.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key.ns, err)
	}
	return val, nil
}

func (s *redisStore) put(ctx context.Context, key entryKey, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, redisKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key.ns, err)
	}
	return nil
}

func (s *redisStore) del(ctx context.Context, key entryKey) error {
	return s.client.Del(ctx, redisKey(key)).Err()
}

func (s *redisStore) incr(ctx context.Context, key entryKey, window time.Duration) (int64, error) {
	count, err := countScript.Run(ctx, s.client, []string{redisKey(key)}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis velocity count: %w", err)
	}
	return count, nil
}

func (s *redisStore) ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) close() error {
	return s.client.Close()
}
