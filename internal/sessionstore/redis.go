package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// RedisStore implements Store on a go-redis client.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Put stores value under key with the given ttl.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("sessionstore: ttl must be positive for %q", key)
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("sessionstore: set: %w", err)
	}
	return nil
}

// Get returns the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessionstore: get: %w", err)
	}
	return data, nil
}

// Take reads and deletes key with GETDEL.
func (s *RedisStore) Take(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessionstore: getdel: %w", err)
	}
	return data, nil
}

// Delete removes key. Missing keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("sessionstore: del: %w", err)
	}
	return nil
}

// Scan walks every key starting with prefix. Keys that vanish between SCAN
// and GET are skipped.
func (s *RedisStore) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	var entries []Entry
	iter := s.client.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		value, err := s.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return entries, err
		}
		entries = append(entries, Entry{Key: key, Value: value})
	}
	if err := iter.Err(); err != nil {
		return entries, fmt.Errorf("sessionstore: scan: %w", err)
	}
	return entries, nil
}

// Backend reports "redis".
func (s *RedisStore) Backend() string { return BackendRedis }

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
