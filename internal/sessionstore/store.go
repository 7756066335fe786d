// Package sessionstore provides the keyed, TTL-aware byte store that backs
// session records and OAuth transaction state.
package sessionstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/campus-rp/paas/internal/platform/cache"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("sessionstore: not found")

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Entry is a key/value pair returned by Scan.
type Entry struct {
	Key   string
	Value []byte
}

// Store is the contract shared by every backend. Callers never branch on
// the concrete type.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Take returns the value and removes key in one step. Of several
	// concurrent callers at most one receives the value.
	Take(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Scan(ctx context.Context, prefix string) ([]Entry, error)
	Backend() string
	Close() error
}

// Open returns a redis-backed store when url is reachable and an in-memory
// store otherwise. It never fails.
func Open(ctx context.Context, url string, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		logger.Info("session store: no redis url configured, using memory backend")
		return NewMemoryStore()
	}
	client, err := cache.New(ctx, url)
	if err != nil {
		logger.Warn("session store: redis unavailable, falling back to memory backend", slog.Any("error", err))
		return NewMemoryStore()
	}
	logger.Info("session store: using redis backend")
	return NewRedisStore(client)
}
