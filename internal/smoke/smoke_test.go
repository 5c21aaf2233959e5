package smoke_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cora-hq/cora/internal/app"
	"github.com/cora-hq/cora/internal/config"
	"github.com/cora-hq/cora/internal/events"
	"github.com/cora-hq/cora/internal/smoke"
)

func TestRunAgainstServer(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Environment = config.EnvTest
	cfg.Database.DSN = config.Secret(filepath.Join(t.TempDir(), "smoke.db"))
	cfg.Auth.BcryptCost = 4

	a, err := app.New(context.Background(), cfg, app.Options{Publisher: &events.Recorder{}})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	srv := httptest.NewServer(a.Server.Handler())
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	results, err := smoke.New(srv.URL, &out).Run(context.Background())
	require.NoError(t, err, out.String())

	require.Len(t, results, 10)
	for _, r := range results {
		assert.True(t, r.Passed(), r.Name)
	}
	assert.Equal(t, 10, strings.Count(out.String(), "PASS "))
}

func TestRunStopsAfterFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable","database":"error"}`))
	}))
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	results, err := smoke.New(srv.URL, &out).Run(context.Background())
	require.ErrorIs(t, err, smoke.ErrFailed)

	require.NotEmpty(t, results)
	assert.Equal(t, "healthz", results[0].Name)
	assert.Error(t, results[0].Err)
	for _, r := range results[1:] {
		assert.True(t, r.Skipped, r.Name)
		assert.False(t, r.Passed())
	}
	assert.Contains(t, out.String(), "FAIL healthz: GET /healthz?verbose=true: want status 200, got 503")
	assert.Contains(t, out.String(), "SKIP logout")
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("verbose"))
		w.Write([]byte(`{"status":"ok","database":"ok","version":"1.2.3","goroutines":7}`))
	}))
	t.Cleanup(srv.Close)

	body, err := smoke.New(srv.URL+"/", &bytes.Buffer{}).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", body.Get("version").String())
	assert.Equal(t, int64(7), body.Get("goroutines").Int())
}
