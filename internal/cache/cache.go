// Package cache keeps a Redis read-through copy of active sessions.
// A Cache built without a client is disabled: reads miss and writes are dropped.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/cora-hq/cora/internal/models"
)

const (
	sessionPrefix = "cora:session:"
	revokedPrefix = "cora:revoked:"

	minTombstoneTTL = time.Minute
)

// Cache stores sessions in Redis.
type Cache struct {
	client *redis.Client
}

// New connects to the Redis server at url. An empty url returns a disabled cache.
func New(ctx context.Context, url string) (*Cache, error) {
	if url == "" {
		return &Cache{}, nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Cache{client: client}, nil
}

// NewWithClient wraps an existing client. A nil client disables the cache.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Enabled reports whether a Redis client is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// GetSession returns the cached session and whether it was found. A
// revocation tombstone wins over a cached copy and is returned as a session
// with only ID and RevokedAt set. Redis errors are logged and treated as a miss.
func (c *Cache) GetSession(ctx context.Context, id string) (*models.Session, bool) {
	if !c.Enabled() {
		return nil, false
	}
	vals, err := c.client.MGet(ctx, sessionPrefix+id, revokedPrefix+id).Result()
	if err != nil {
		slog.Warn("session cache read failed", "error", err)
		return nil, false
	}

	if tomb, ok := vals[1].(string); ok {
		at, err := strconv.ParseInt(tomb, 10, 64)
		if err != nil || at == 0 {
			at = 1
		}
		return &models.Session{ID: id, RevokedAt: at}, true
	}

	raw, ok := vals[0].(string)
	if !ok {
		return nil, false
	}
	var session models.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		slog.Warn("session cache entry is corrupt", "session_id", id, "error", err)
		return nil, false
	}
	return &session, true
}

// PutSession caches a session until it expires.
func (c *Cache) PutSession(ctx context.Context, session *models.Session) {
	if !c.Enabled() {
		return
	}
	ttl := time.Until(time.Unix(session.ExpiresAt, 0))
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, sessionPrefix+session.ID, raw, ttl).Err(); err != nil {
		slog.Warn("session cache write failed", "error", err)
	}
}

// RevokeSession evicts a session and writes a tombstone that lives until the
// token expires, so a read-through write racing the logout cannot restore it.
func (c *Cache) RevokeSession(ctx context.Context, id string, revokedAt int64, until time.Time) {
	if !c.Enabled() {
		return
	}
	ttl := time.Until(until)
	if ttl < minTombstoneTTL {
		ttl = minTombstoneTTL
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, revokedPrefix+id, strconv.FormatInt(revokedAt, 10), ttl)
		pipe.Del(ctx, sessionPrefix+id)
		return nil
	})
	if err != nil {
		slog.Warn("session cache revoke failed", "session_id", id, "error", err)
	}
}

// Ping checks the Redis connection. A disabled cache is always healthy.
func (c *Cache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}
