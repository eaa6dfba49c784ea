package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisDeduplicatorConfig holds the configuration for the Redis-backed
// deduplicator.
type RedisDeduplicatorConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces dedup keys, e.g. "ingest:dedup".
	KeyPrefix string
	// Window is the retention applied to each marked key.
	Window time.Duration
}

// RedisDeduplicator is a Deduplicator backed by Redis. SET NX with a TTL
// makes the check-and-mark a single atomic server-side operation, so it is
// safe even if two workers briefly share a partition during a handover.
type RedisDeduplicator struct {
	client *redis.Client
	prefix string
	window time.Duration
	logger zerolog.Logger
}

// NewRedisDeduplicator creates and connects a Redis-backed deduplicator. It
// pings the server to ensure connectivity before returning.
func NewRedisDeduplicator(ctx context.Context, cfg *RedisDeduplicatorConfig, logger zerolog.Logger) (*RedisDeduplicator, error) {
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("dedup window must be greater than 0")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "ingest:dedup"
	}

	logger.Info().Str("redis_address", cfg.Addr).Dur("window", cfg.Window).Msg("Successfully connected to Redis for deduplication.")

	return &RedisDeduplicator{
		client: rdb,
		prefix: prefix,
		window: cfg.Window,
		logger: logger.With().Str("component", "RedisDeduplicator").Logger(),
	}, nil
}

// CheckAndMark marks the key with SET NX EX and reports whether it already
// existed.
func (d *RedisDeduplicator) CheckAndMark(ctx context.Context, key string) (bool, error) {
	marked, err := d.client.SetNX(ctx, d.prefix+":"+key, 1, d.window).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx for %s: %w", key, err)
	}
	return !marked, nil
}

// Close closes the Redis client connection.
func (d *RedisDeduplicator) Close() error {
	d.logger.Info().Msg("Closing Redis deduplicator...")
	return d.client.Close()
}
