package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	runs map[string][]bool
}

func (r *recorder) JobRun(job string, success bool) {
	r.runs[job] = append(r.runs[job], success)
}

type fakePruner struct{ cutoff int64 }

func (f *fakePruner) PruneAuditLogs(_ context.Context, cutoff int64) (int64, error) {
	f.cutoff = cutoff
	return 7, nil
}

type fakeLimiter struct{}

func (fakeLimiter) Cleanup() int { return 3 }

func TestSchedulerAdd(t *testing.T) {
	s := NewScheduler(nil)
	require.NoError(t, s.Add("purge", "@hourly", func(context.Context) (int64, error) { return 0, nil }))
	require.NoError(t, s.Add("prune", "0 3 * * *", func(context.Context) (int64, error) { return 0, nil }))
	assert.Equal(t, 2, s.Len())

	err := s.Add("broken", "every now and then", func(context.Context) (int64, error) { return 0, nil })
	assert.Error(t, err)
}

func TestRunRecordsOutcome(t *testing.T) {
	rec := &recorder{runs: map[string][]bool{}}
	s := NewScheduler(rec)

	s.Run("ok", func(context.Context) (int64, error) { return 1, nil })
	s.Run("fail", func(context.Context) (int64, error) { return 0, errors.New("db locked") })

	assert.Equal(t, []bool{true}, rec.runs["ok"])
	assert.Equal(t, []bool{false}, rec.runs["fail"])
}

func TestPruneAudit(t *testing.T) {
	p := &fakePruner{}

	n, err := PruneAudit(p, 0)(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, p.cutoff, "zero retention keeps everything")

	n, err = PruneAudit(p, 24*time.Hour)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.InDelta(t, time.Now().Add(-24*time.Hour).Unix(), p.cutoff, 2)
}

func TestCleanupLimiters(t *testing.T) {
	n, err := CleanupLimiters(fakeLimiter{})(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(nil)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
