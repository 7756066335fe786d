package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options parses a redis:// URL or a bare host:port address.
func Options(target string) (*redis.Options, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("platform/cache: empty address")
	}
	if strings.Contains(target, "://") {
		opts, err := redis.ParseURL(target)
		if err != nil {
			return nil, fmt.Errorf("platform/cache: parse url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: target}, nil
}

// New creates a new Redis client and verifies it answers a ping.
func New(ctx context.Context, target string) (*redis.Client, error) {
	opts, err := Options(target)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}
