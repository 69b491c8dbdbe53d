package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"filesmanager/internal/config"

	redis "github.com/redis/go-redis/v9"
)

// Client wraps go-redis client to centralize configuration.
type Client struct {
	inner *redis.Client
}

// ErrCacheMiss mirrors redis.Nil for callers.
var ErrCacheMiss = redis.Nil

var errNotInitialized = errors.New("redis client not initialized")

// NewRedisClient creates the redis client from app config.
func NewRedisClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	host := cfg.Redis.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Redis.Port
	if port == 0 {
		port = 6379
	}

	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &Client{inner: client}, nil
}

// IsAlive reports whether the server answers a PING.
func (c *Client) IsAlive(ctx context.Context) bool {
	if c == nil || c.inner == nil {
		return false
	}
	return c.inner.Ping(ctx).Err() == nil
}

// Set stores a key with TTL.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	return c.inner.Set(ctx, key, value, ttl).Err()
}

// Get fetches the key as string.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c == nil || c.inner == nil {
		return "", errNotInitialized
	}
	return c.inner.Get(ctx, key).Result()
}

// Del removes provided keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	if len(keys) == 0 {
		return nil
	}
	return c.inner.Del(ctx, keys...).Err()
}

// TTL returns key ttl.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	if c == nil || c.inner == nil {
		return 0, errNotInitialized
	}
	return c.inner.TTL(ctx, key).Result()
}

// LPush prepends values to a list.
func (c *Client) LPush(ctx context.Context, key string, values ...interface{}) error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	return c.inner.LPush(ctx, key, values...).Err()
}

// BLMove pops the tail of src into the head of dst, blocking up to timeout.
// ErrCacheMiss is returned when nothing arrived in time.
func (c *Client) BLMove(ctx context.Context, src, dst string, timeout time.Duration) (string, error) {
	if c == nil || c.inner == nil {
		return "", errNotInitialized
	}
	return c.inner.BLMove(ctx, src, dst, "RIGHT", "LEFT", timeout).Result()
}

// LMove is the non-blocking form of BLMove.
func (c *Client) LMove(ctx context.Context, src, dst string) (string, error) {
	if c == nil || c.inner == nil {
		return "", errNotInitialized
	}
	return c.inner.LMove(ctx, src, dst, "RIGHT", "LEFT").Result()
}

// LRem removes up to count occurrences of value.
func (c *Client) LRem(ctx context.Context, key string, count int64, value interface{}) error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	return c.inner.LRem(ctx, key, count, value).Err()
}

// LLen returns the list length.
func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	if c == nil || c.inner == nil {
		return 0, errNotInitialized
	}
	return c.inner.LLen(ctx, key).Result()
}

// Close closes client.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

// Raw exposes underlying go-redis client.
func (c *Client) Raw() *redis.Client {
	if c == nil {
		return nil
	}
	return c.inner
}
