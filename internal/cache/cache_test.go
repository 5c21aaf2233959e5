package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cora-hq/cora/internal/models"
)

func TestDisabledCache(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, "")
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	c.PutSession(ctx, &models.Session{ID: "s1", ExpiresAt: time.Now().Add(time.Hour).Unix()})
	_, ok := c.GetSession(ctx, "s1")
	assert.False(t, ok)
	c.RevokeSession(ctx, "s1", time.Now().Unix(), time.Now().Add(time.Hour))
	assert.NoError(t, c.Ping(ctx))
	assert.NoError(t, c.Close())
}

func TestNilCacheIsDisabled(t *testing.T) {
	var c *Cache
	_, ok := c.GetSession(context.Background(), "anything")
	assert.False(t, ok)
}

func TestInvalidURL(t *testing.T) {
	_, err := New(context.Background(), "not a url")
	assert.Error(t, err)
}

// TestRedisRoundTrip runs against a real server when TEST_REDIS_URL is set.
func TestRedisRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	c, err := New(ctx, url)
	require.NoError(t, err)
	defer c.Close()

	session := &models.Session{
		ID:        uuid.New().String(),
		UserID:    "u1",
		ExpiresAt: time.Now().Add(time.Minute).Unix(),
	}
	c.PutSession(ctx, session)

	got, ok := c.GetSession(ctx, session.ID)
	require.True(t, ok)
	assert.Equal(t, session.UserID, got.UserID)

	c.RevokeSession(ctx, session.ID, 42, time.Unix(session.ExpiresAt, 0))
	got, ok = c.GetSession(ctx, session.ID)
	require.True(t, ok)
	assert.Equal(t, int64(42), got.RevokedAt)

	// A late read-through write does not hide the tombstone.
	c.PutSession(ctx, session)
	got, ok = c.GetSession(ctx, session.ID)
	require.True(t, ok)
	assert.Equal(t, int64(42), got.RevokedAt)
}
