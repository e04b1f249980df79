// Package dedup remembers which notifications were already delivered.
package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bondkeeper/internal/logging"
)

// Deduplicator checks and records whether an alert has been sent recently.
type Deduplicator struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New creates a Deduplicator backed by Redis. Keys expire after ttl; zero keeps them forever.
func New(redisURL, password string, ttl time.Duration, logger zerolog.Logger) (*Deduplicator, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &Deduplicator{rdb: rdb, ttl: ttl, logger: logging.Component(logger, "dedup")}, nil
}

// Close shuts down the Redis connection.
func (d *Deduplicator) Close() error {
	return d.rdb.Close()
}

// AlreadySent returns true if key was recorded and has not expired.
// Redis errors count as "not sent": an outage must not swallow an alert.
func (d *Deduplicator) AlreadySent(ctx context.Context, key string) bool {
	exists, err := d.rdb.Exists(ctx, key).Result()
	if err != nil {
		d.logger.Warn().Err(err).Str("key", key).Msg("dedup lookup failed, sending anyway")
		return false
	}
	return exists > 0
}

// Record marks key as sent for the configured TTL.
func (d *Deduplicator) Record(ctx context.Context, key string) {
	if err := d.rdb.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), d.ttl).Err(); err != nil {
		d.logger.Warn().Err(err).Str("key", key).Msg("dedup record failed")
	}
}

// Clear removes a dedup key so the alert can fire again when the condition resets.
func (d *Deduplicator) Clear(ctx context.Context, key string) {
	d.rdb.Del(ctx, key) //nolint:errcheck
}
