package pool

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisConn is a Conn backed by a single-connection Redis client.
type redisConn struct {
	client *redis.Client
}

var _ Conn = (*redisConn)(nil)

// RedisDialer returns a Dialer for the given redis:// or rediss:// URL.
// Every dialed Conn owns exactly one network connection; pooling is done by Pool,
// not by the Redis client.
func RedisDialer(rawURL string) (Dialer, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	opts.PoolSize = 1
	opts.MinIdleConns = 0
	opts.MaxRetries = -1
	opts.ContextTimeoutEnabled = true

	return func(ctx context.Context) (Conn, error) {
		clientOpts := *opts
		client := redis.NewClient(&clientOpts)

		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", clientOpts.Addr, err)
		}

		return &redisConn{client: client}, nil
	}, nil
}

// IncrBy implements Conn
func (c *redisConn) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return c.client.IncrBy(ctx, key, delta).Result()
}

// Ping implements Conn
func (c *redisConn) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close implements Conn
func (c *redisConn) Close() error {
	return c.client.Close()
}
