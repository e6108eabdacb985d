// Package redis wires the shared Redis connection behind the mirror repair
// queue.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"certmint/internal/platform/config"
)

// Client wraps the go-redis client. The mirror repair queue is the only
// consumer; nothing else in the server touches Redis.
type Client struct {
	*redis.Client
}

// New connects using cfg and verifies the connection with a ping. An empty
// URL means Redis is not configured; callers get (nil, nil) and fall back to
// the in-process queue.
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{Client: client}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.Client.Close()
}
