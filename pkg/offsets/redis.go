package offsets

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisTrackerConfig holds the configuration for the Redis-backed tracker.
type RedisTrackerConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces checkpoint keys, e.g. "ingest:offsets".
	KeyPrefix string
}

// commitScript advances a checkpoint only if the new offset is greater than
// the stored one, making retried commits a no-op without a round trip.
var commitScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// RedisTracker is a Tracker backed by Redis. Each partition has its own key,
// so concurrent commits from independent partitions never contend.
type RedisTracker struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisTracker creates and connects a Redis-backed tracker. It pings the
// server to ensure connectivity before returning.
func NewRedisTracker(ctx context.Context, cfg *RedisTrackerConfig, logger zerolog.Logger) (*RedisTracker, error) {
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
		prefix = "ingest:offsets"
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis for offset tracking.")

	return &RedisTracker{
		client: rdb,
		prefix: prefix,
		logger: logger.With().Str("component", "RedisTracker").Logger(),
	}, nil
}

// Read returns the committed offset for the partition, if any.
func (t *RedisTracker) Read(ctx context.Context, topic string, partition int32) (int64, bool, error) {
	key := t.key(topic, partition)
	value, err := t.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get for %s: %w", key, err)
	}

	offset, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt checkpoint for %s: %w", key, err)
	}
	return offset, true, nil
}

// Commit records the offset if it advances the checkpoint.
func (t *RedisTracker) Commit(ctx context.Context, topic string, partition int32, offset int64) error {
	key := t.key(topic, partition)
	advanced, err := commitScript.Run(ctx, t.client, []string{key}, offset).Int()
	if err != nil {
		return fmt.Errorf("redis commit for %s: %w", key, err)
	}
	if advanced == 0 {
		t.logger.Debug().Str("key", key).Int64("offset", offset).Msg("Stale commit ignored.")
	}
	return nil
}

// Checkpoints returns all committed checkpoints under this tracker's prefix,
// for operator inspection.
func (t *RedisTracker) Checkpoints(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64)
	iter := t.client.Scan(ctx, 0, t.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		value, err := t.client.Get(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("redis get for %s: %w", key, err)
		}
		offset, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt checkpoint for %s: %w", key, err)
		}
		out[key] = offset
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return out, nil
}

// Close closes the Redis client connection.
func (t *RedisTracker) Close() error {
	t.logger.Info().Msg("Closing Redis offset tracker...")
	return t.client.Close()
}

func (t *RedisTracker) key(topic string, partition int32) string {
	return fmt.Sprintf("%s:%s:%d", t.prefix, topic, partition)
}
