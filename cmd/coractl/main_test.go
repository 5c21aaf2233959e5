package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cora-hq/cora/internal/models"
	"github.com/cora-hq/cora/internal/storage/sqlstore"
)

// run executes coractl with args and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func setupDB(t *testing.T) string {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "coractl.db")
	t.Setenv("CORA_DATABASE_DSN", dsn)
	t.Setenv("CORA_LOG_LEVEL", "error")
	return dsn
}

func TestMigrate(t *testing.T) {
	setupDB(t)

	out, err := run(t, "migrate", "version")
	require.NoError(t, err)
	assert.Equal(t, "schema version: none\n", out)

	out, err = run(t, "migrate", "up")
	require.NoError(t, err)
	assert.Equal(t, "schema version: 3\n", out)

	out, err = run(t, "migrate", "down")
	require.NoError(t, err)
	assert.Equal(t, "schema version: 2\n", out)

	_, err = run(t, "migrate", "version", "extra")
	assert.Error(t, err)
}

func TestFlags(t *testing.T) {
	setupDB(t)

	out, err := run(t, "flags", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "cora_chat")
	assert.Contains(t, out, "receipt_split")

	out, err = run(t, "flags", "set", "receipt_split", "--rollout", "25")
	require.NoError(t, err)
	assert.Equal(t, "receipt_split: enabled=true rollout=25%\n", out)

	out, err = run(t, "flags", "set", "mileage_log", "--enabled", "--description", "Mileage tracking")
	require.NoError(t, err)
	assert.Equal(t, "mileage_log: enabled=true rollout=100%\n", out)

	_, err = run(t, "flags", "set", "cora_chat")
	assert.ErrorContains(t, err, "nothing to change")

	_, err = run(t, "flags", "set", "Bad-Name", "--enabled")
	assert.Error(t, err)
}

func TestUsersAndSessions(t *testing.T) {
	dsn := setupDB(t)

	store, err := sqlstore.New(dsn)
	require.NoError(t, err)
	now := time.Now().Unix()
	user := &models.User{ID: uuid.NewString(), Email: "owner@example.com", PasswordHash: "x", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateUser(context.Background(), user))
	require.NoError(t, store.CreateSession(context.Background(), &models.Session{
		ID: uuid.NewString(), UserID: user.ID, CreatedAt: now - 7200, ExpiresAt: now - 3600,
	}))
	require.NoError(t, store.Close())

	out, err := run(t, "users", "promote", "Owner@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com: admin=true\n", out)

	_, err = run(t, "users", "promote", "ghost@example.com")
	assert.ErrorContains(t, err, "no user with email ghost@example.com")

	out, err = run(t, "sessions", "purge")
	require.NoError(t, err)
	assert.Contains(t, out, "purged 1 sessions")

	store, err = sqlstore.New(dsn)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAdmin)

	logs, err := store.ListAuditLogs(context.Background(), user.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "user.promoted", logs[0].Action)

	out, err = run(t, "users", "demote", "owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com: admin=false\n", out)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","database":"ok","version":"1.0.0","uptime_seconds":42}`))
	}))
	defer srv.Close()

	out, err := run(t, "health", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Server Status: ok")
	assert.Contains(t, out, "Version: 1.0.0")
	assert.Contains(t, out, "Uptime: 42s")
	assert.NotContains(t, out, "Cache:")

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	_, err = run(t, "health", "--server", down.URL)
	assert.ErrorContains(t, err, "got 503")
}
