package redis

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wonny/aegis-analytics/pkg/config"
)

// dialCheckTimeout bounds the startup ping so a dead Redis degrades quickly
const dialCheckTimeout = 3 * time.Second

// Client owns the shared Redis connection used by the provider cache and the
// distributed rate limiter. A disabled Client turns both into no-ops.
// ⭐ SSOT: Redis 연결은 여기서만 관리
type Client struct {
	rdb  *redis.Client
	addr string
}

// New connects and pings Redis. A disabled config yields a no-op client.
func New(cfg *config.Config) (*Client, error) {
	if !cfg.Redis.Enabled {
		return Disabled(), nil
	}

	addr := net.JoinHostPort(cfg.Redis.Host, cfg.Redis.Port)
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	c := &Client{rdb: rdb, addr: addr}
	ctx, cancel := context.WithTimeout(context.Background(), dialCheckTimeout)
	defer cancel()
	if _, err := c.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return c, nil
}

// Disabled returns a client whose cache and limiter calls are no-ops
func Disabled() *Client {
	return &Client{}
}

// Ping round-trips to the server and reports the latency
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	if !c.Enabled() {
		return 0, fmt.Errorf("redis disabled")
	}
	start := time.Now()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Addr is host:port, empty when disabled
func (c *Client) Addr() string {
	if c == nil {
		return ""
	}
	return c.addr
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c != nil && c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

// Enabled reports whether calls reach a live Redis
func (c *Client) Enabled() bool {
	return c != nil && c.rdb != nil
}

// Redis returns the underlying go-redis client
func (c *Client) Redis() *redis.Client {
	return c.rdb
}
