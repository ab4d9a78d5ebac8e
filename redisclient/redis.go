package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/nlarkins/mexc-sniper/config"
	"github.com/redis/go-redis/v9"
)

// Client is a thin wrapper around a go-redis client used by cacheservice.
type Client struct {
	c *redis.Client
}

// New creates a Redis client from the provided config. Returns an error
// if the configured URL cannot be parsed.
func New(cfg *config.Config) (*Client, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("no REDIS_URL or VALKEY_URL configured")
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	r := redis.NewClient(opt)
	return &Client{c: r}, nil
}

func (r *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.c.Ping(ctx).Err()
}

// Raw exposes the underlying go-redis client for cacheservice.
func (r *Client) Raw() *redis.Client {
	return r.c
}

func (r *Client) Close() error {
	return r.c.Close()
}
