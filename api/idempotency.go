package api

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// HeaderIdempotencyKey lets clients retry a mutation without applying it
// twice.
const HeaderIdempotencyKey = "Idempotency-Key"

// RedisDeduper stores seen idempotency keys in Redis so every instance
// rejects the same retry.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("idem:%s:%s", userID, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key so the caller may retry.
func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}

// claimIdempotencyKey records the request's Idempotency-Key. It returns
// duplicate=true when the key was already used. The returned release
// forgets the key and must be called when the mutation fails. Deduper
// errors are logged and the request proceeds unguarded.
func claimIdempotencyKey(c echo.Context, d Deduper, logger *log.Logger, userID string) (release func(), duplicate bool) {
	release = func() {}
	key := c.Request().Header.Get(HeaderIdempotencyKey)
	if d == nil || key == "" {
		return release, false
	}
	ctx := c.Request().Context()
	added, err := d.Add(ctx, userID, key)
	if err != nil {
		logger.WithError(err).WithField("user", userID).Warn("idempotency check failed")
		return release, false
	}
	if !added {
		return release, true
	}
	return func() {
		if err := d.Remove(context.WithoutCancel(ctx), userID, key); err != nil {
			logger.WithError(err).WithField("user", userID).Warn("idempotency key release failed")
		}
	}, false
}
