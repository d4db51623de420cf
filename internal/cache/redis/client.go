// Package redis is the shared cache and rate-limit layer. It is optional
// infrastructure: every operation on a nil or unreachable client degrades to
// a safe default (cache miss, rate limit allowed) with a warning log, so the
// query pipeline never fails because this layer is down.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/acm-research/backend/internal/metrics"
	"github.com/acm-research/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

type RateLimitResult struct {
	Allowed   bool
	Remaining int
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Get unmarshals the cached value for key into dest. Returns false on a miss,
// on unmarshal failure, or when the cache is unavailable.
func (c *Client) Get(ctx context.Context, key string, dest interface{}) bool {
	if c == nil || c.client == nil {
		return false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues(cacheType(key)).Inc()
		return false
	}
	if err != nil {
		logger.Warn("Cache get failed, treating as miss", zap.String("key", key), zap.Error(err))
		metrics.CacheMisses.WithLabelValues(cacheType(key)).Inc()
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		logger.Warn("Cache value unmarshal failed, treating as miss", zap.String("key", key), zap.Error(err))
		metrics.CacheMisses.WithLabelValues(cacheType(key)).Inc()
		return false
	}

	metrics.CacheHits.WithLabelValues(cacheType(key)).Inc()
	logger.Debug("Cache hit", zap.String("key", key))
	return true
}

// cacheType reduces a key like "openalex:search:<hash>" to its namespace,
// which is the metric label.
func cacheType(key string) string {
	if i := strings.Index(key, ":"); i > 0 {
		return key[:i]
	}
	return "other"
}

func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		logger.Warn("Cache value marshal failed, skipping set", zap.String("key", key), zap.Error(err))
		return
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		logger.Warn("Cache set failed", zap.String("key", key), zap.Error(err))
		return
	}

	logger.Debug("Cache set", zap.String("key", key), zap.Duration("ttl", ttl))
}

func (c *Client) Delete(ctx context.Context, key string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		logger.Warn("Cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

// CheckRateLimit atomically increments the counter for identifier within the
// current window and reports whether the caller is still within budget. The
// expiry is set on the first increment of a fresh window. When the store is
// unreachable the request is allowed with the full quota remaining.
func (c *Client) CheckRateLimit(ctx context.Context, identifier string, maxRequests int, window time.Duration) RateLimitResult {
	fallback := RateLimitResult{Allowed: true, Remaining: maxRequests}

	if c == nil || c.client == nil {
		return fallback
	}

	key := fmt.Sprintf("rate_limit:%s", identifier)

	current, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		logger.Warn("Rate limiting unavailable, allowing request",
			zap.String("identifier", identifier),
			zap.Error(err),
		)
		return fallback
	}

	if current == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			logger.Warn("Failed to set rate limit window expiry", zap.String("identifier", identifier), zap.Error(err))
		}
	}

	remaining := maxRequests - int(current)
	if remaining < 0 {
		remaining = 0
	}

	return RateLimitResult{
		Allowed:   current <= int64(maxRequests),
		Remaining: remaining,
	}
}

// IncrementCounter bumps a named counter, used for job run bookkeeping.
func (c *Client) IncrementCounter(ctx context.Context, name string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Incr(ctx, fmt.Sprintf("counter:%s", name)).Err(); err != nil {
		logger.Warn("Counter increment failed", zap.String("counter", name), zap.Error(err))
	}
}

func (c *Client) GetCounter(ctx context.Context, name string) int64 {
	if c == nil || c.client == nil {
		return 0
	}
	val, err := c.client.Get(ctx, fmt.Sprintf("counter:%s", name)).Int64()
	if err != nil && err != redis.Nil {
		logger.Warn("Counter read failed", zap.String("counter", name), zap.Error(err))
	}
	return val
}
