package urlcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = 500 * time.Millisecond

// Redis is a Redis-backed Cache.
//
// All operations degrade gracefully when Redis is unavailable: Get reports a
// miss and Set drops the write. The resolver then pays one extra round trip
// instead of failing the run.
type Redis struct {
	client    *redis.Client
	opTimeout time.Duration
}

// NewRedisFromClient wraps an existing Redis client. The caller owns the
// client lifecycle unless Close is used.
func NewRedisFromClient(cli *redis.Client) *Redis {
	return &Redis{client: cli, opTimeout: redisOpTimeout}
}

// NewRedisFromURL parses redisURL, creates a client, and verifies the
// connection with a PING.
func NewRedisFromURL(ctx context.Context, redisURL string) (*Redis, error) {
	if ctx == nil {
		return nil, fmt.Errorf("urlcache: context must not be nil")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("urlcache: parse url: %w", err)
	}

	cli := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := cli.Ping(pingCtx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("urlcache: ping: %w", err)
	}

	return &Redis{client: cli, opTimeout: redisOpTimeout}, nil
}

// Get returns the resolved URL for rawURL. Redis errors are logged at WARN
// and reported as a miss.
func (c *Redis) Get(ctx context.Context, rawURL string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	val, err := c.client.Get(ctx, key(rawURL)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "urlcache_get_error", slog.String("error", err.Error()))
		}
		return "", false
	}
	return val, true
}

// Set stores the resolved URL. Errors are logged and swallowed.
func (c *Redis) Set(ctx context.Context, rawURL, finalURL string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.client.Set(ctx, key(rawURL), finalURL, ttl).Err(); err != nil {
		slog.WarnContext(ctx, "urlcache_set_error", slog.String("error", err.Error()))
	}
}

// Ping verifies the backend is reachable, for readiness probes.
func (c *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (c *Redis) Close() error {
	return c.client.Close()
}
