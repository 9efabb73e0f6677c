// Package redis holds the hot-path read structures: the global ranking
// ZSET (ScoreCache) and a thin client wrapper (Cache) for the couple of
// generic operations the rest of the system needs, such as set-if-absent
// markers for reminder dedup.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss signals that the requested key holds no data.
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrCacheConnection signals that the initial ping failed.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheInvalidTTL signals a negative expiry.
	ErrCacheInvalidTTL = errors.New("cache: invalid TTL")

	// ErrCacheKeyEmpty signals an empty cache key.
	ErrCacheKeyEmpty = errors.New("cache: key cannot be empty")
)

// TTLLeaderboardCache bounds how stale the cached global ranking may get
// before a read falls back to Postgres and rebuilds it.
const TTLLeaderboardCache = 5 * time.Minute

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config carries the Redis connection settings. Zero values are filled in
// by DefaultConfig; cmd wiring overrides the ones exposed through env.
type Config struct {
	Host     string
	Port     int
	Password string // empty when auth is off
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

// DefaultConfig targets a local single-node Redis.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	}
}

// Addr formats the connection target as "host:port".
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Cache owns the Redis connection. Specialized structures (the ranking
// ZSET, the event bus channel) reach the raw client through Client().
type Cache struct {
	client *redis.Client
	config Config
}

// NewCache connects and verifies the server is reachable before
// returning; a dead Redis is reported at startup, not on first use.
func NewCache(cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolTimeout:  cfg.PoolTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}

	return &Cache{client: client, config: cfg}, nil
}

// Client exposes the underlying go-redis client.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping reports whether the server answers.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Exists reports whether key holds any value.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrCacheKeyEmpty
	}

	count, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetNX writes value only when key is absent and reports whether the
// write happened. Once-only markers (sent-reminder dedup) rely on the
// atomicity of this call.
func (c *Cache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrCacheKeyEmpty
	}
	if ttl < 0 {
		return false, ErrCacheInvalidTTL
	}

	return c.client.SetNX(ctx, key, value, ttl).Result()
}
