package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisEntry is the JSON envelope stored for every cached value.
type RedisEntry struct {
	Value     json.RawMessage `json:"value"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at,omitempty"`
}

// Expired reports whether the entry is stale at now. Entries without
// ExpiresAt never expire.
func (e RedisEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// RedisTier is the shared second cache level. Keys are laid out as
// <prefix><region>:<key>.
type RedisTier struct {
	redis  *redis.Client
	prefix string
	logger *logrus.Logger
}

// NewRedisTier creates a Redis-backed tier.
func NewRedisTier(redisClient *redis.Client, prefix string, logger *logrus.Logger) *RedisTier {
	if prefix == "" {
		prefix = "crypto_insight:"
	}
	return &RedisTier{
		redis:  redisClient,
		prefix: prefix,
		logger: logger,
	}
}

func (t *RedisTier) key(region, key string) string {
	return t.prefix + region + ":" + key
}

// Get returns the stored entry, or false on miss or decoding error.
func (t *RedisTier) Get(ctx context.Context, region, key string) (RedisEntry, bool) {
	data, err := t.redis.Get(ctx, t.key(region, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return RedisEntry{}, false
	}
	if err != nil {
		t.logger.WithFields(logrus.Fields{"region": region, "key": key}).WithError(err).Warn("Redis cache read failed")
		return RedisEntry{}, false
	}

	var entry RedisEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		t.logger.WithFields(logrus.Fields{"region": region, "key": key}).WithError(err).Warn("Discarding undecodable cache entry")
		return RedisEntry{}, false
	}
	return entry, true
}

// Set stores entry with a Redis TTL matching its expiry. Zero ttl means no expiry.
func (t *RedisTier) Set(ctx context.Context, region, key string, entry RedisEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("error serializing cache entry %s/%s: %w", region, key, err)
	}
	if err := t.redis.Set(ctx, t.key(region, key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis error setting %s/%s: %w", region, key, err)
	}
	return nil
}

// Delete removes one key.
func (t *RedisTier) Delete(ctx context.Context, region, key string) error {
	return t.redis.Del(ctx, t.key(region, key)).Err()
}

// DeletePrefix removes every key of region starting with keyPrefix. An
// empty keyPrefix clears the region.
func (t *RedisTier) DeletePrefix(ctx context.Context, region, keyPrefix string) (int, error) {
	pattern := t.key(region, keyPrefix) + "*"

	// SCAN rather than KEYS so large keyspaces do not block the server
	var keys []string
	iter := t.redis.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("error scanning cache keys: %w", err)
	}

	if len(keys) == 0 {
		return 0, nil
	}

	if err := t.redis.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("error clearing cache: %w", err)
	}
	return len(keys), nil
}
