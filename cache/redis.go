package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/oidcrp/observability"
)

// redisCache implements a Redis-backed cache. Keys are namespaced with
// a prefix so Clear and Size only touch this cache's entries.
type redisCache struct {
	logger    observability.Logger
	client    *redis.Client
	keyPrefix string

	hits   int64
	misses int64
}

// RedisOption configures the Redis cache.
type RedisOption func(*redisCache)

// WithKeyPrefix sets the key namespace prefix. Defaults to "oidcrp:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *redisCache) {
		if prefix != "" {
			c.keyPrefix = prefix
		}
	}
}

// WithRedisLogger sets the logger for the Redis cache.
func WithRedisLogger(logger observability.Logger) RedisOption {
	return func(c *redisCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewRedis creates a Redis-backed cache from a redis:// URL.
func NewRedis(url string, opts ...RedisOption) (Cache, error) {
	if url == "" {
		return nil, ErrInvalidConfig
	}

	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	c := &redisCache{
		logger:    observability.NopLogger(),
		client:    redis.NewClient(redisOpts),
		keyPrefix: "oidcrp:",
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *redisCache) resolveKey(key string) string {
	return c.keyPrefix + key
}

// Get retrieves a value from the cache.
func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "cache.Get",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetMetrics().operationDuration.WithLabelValues("redis", "get").
			Observe(time.Since(start).Seconds())
	}()

	value, err := c.client.Get(ctx, c.resolveKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			atomic.AddInt64(&c.misses, 1)
			GetMetrics().missesTotal.WithLabelValues("redis").Inc()
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return nil, ErrCacheMiss
		}
		GetMetrics().errorsTotal.WithLabelValues("redis", "get").Inc()
		return nil, err
	}

	atomic.AddInt64(&c.hits, 1)
	GetMetrics().hitsTotal.WithLabelValues("redis").Inc()
	span.SetAttributes(attribute.Bool("cache.hit", true))

	return value, nil
}

// Set stores a value in the cache. Expiry is enforced by Redis itself.
func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "cache.Set",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.key", key),
			attribute.Int("cache.value_size", len(value)),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetMetrics().operationDuration.WithLabelValues("redis", "set").
			Observe(time.Since(start).Seconds())
	}()

	if err := c.client.Set(ctx, c.resolveKey(key), value, ttl).Err(); err != nil {
		GetMetrics().errorsTotal.WithLabelValues("redis", "set").Inc()
		return err
	}

	c.logger.Debug("cache set",
		observability.String("key", key),
		observability.Duration("ttl", ttl))

	return nil
}

// Delete removes a value from the cache.
func (c *redisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.resolveKey(key)).Err(); err != nil {
		GetMetrics().errorsTotal.WithLabelValues("redis", "delete").Inc()
		return err
	}
	return nil
}

// Clear removes all entries under this cache's key prefix.
func (c *redisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Size returns the number of entries under this cache's key prefix.
func (c *redisCache) Size(ctx context.Context) (int64, error) {
	var size int64
	iter := c.client.Scan(ctx, 0, c.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		size++
	}
	return size, iter.Err()
}

// Close closes the Redis connection.
func (c *redisCache) Close() error {
	return c.client.Close()
}

// Stats returns cache statistics. Size is not tracked locally for the
// Redis backend; use Size for an exact count.
func (c *redisCache) Stats() Stats {
	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
}

var _ CacheWithStats = (*redisCache)(nil)
