package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "medassist:"

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	TTL      time.Duration
}

// NewRedisCache connects and pings the server; the caller falls back to the
// memory cache on error.
func NewRedisCache(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	logger.Info("Connected to Redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return &RedisCache{client: client, ttl: opts.TTL, logger: logger}, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

func (c *RedisCache) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string, dest any) error {
	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	c.hits.Add(1)
	return decode(data, dest)
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, redisKeyPrefix+key).Err()
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisCache) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	full := redisKeyPrefix + key
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, full)
	pipe.ExpireNX(ctx, full, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCache) GetStats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{
		Backend: "redis",
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}

	size, err := c.client.DBSize(ctx).Result()
	if err != nil {
		c.logger.Warn("Failed to read Redis stats", zap.Error(err))
		stats.Info = err.Error()
		return stats, nil
	}
	stats.Connected = true
	stats.Items = size

	info, err := c.client.Info(ctx, "memory").Result()
	if err == nil {
		for _, line := range strings.Split(info, "\n") {
			if strings.HasPrefix(line, "used_memory_human:") {
				stats.Info = strings.TrimSpace(line)
				break
			}
		}
	}
	return stats, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
