// Package jobs runs periodic maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is one unit of maintenance. It returns the number of rows (or entries) affected.
type Task func(ctx context.Context) (int64, error)

// RunRecorder observes job outcomes.
type RunRecorder interface {
	JobRun(job string, success bool)
}

// Scheduler runs named tasks on cron specs.
type Scheduler struct {
	cron     *cron.Cron
	recorder RunRecorder
	timeout  time.Duration
}

// NewScheduler creates a scheduler. recorder may be nil.
func NewScheduler(recorder RunRecorder) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
		recorder: recorder,
		timeout:  5 * time.Minute,
	}
}

// Add schedules task under name. spec uses the standard five-field syntax or
// descriptors such as @hourly.
func (s *Scheduler) Add(name, spec string, task Task) error {
	if _, err := s.cron.AddFunc(spec, func() { s.Run(name, task) }); err != nil {
		return fmt.Errorf("failed to schedule %s (%q): %w", name, spec, err)
	}
	slog.Info("job scheduled", "job", name, "spec", spec)
	return nil
}

// Run executes task once, logging the outcome.
func (s *Scheduler) Run(name string, task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	n, err := task(ctx)
	if s.recorder != nil {
		s.recorder.JobRun(name, err == nil)
	}
	if err != nil {
		slog.Error("job failed", "job", name, "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	slog.Info("job finished", "job", name, "affected", n, "duration_ms", time.Since(start).Milliseconds())
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		slog.Warn("jobs still running at shutdown")
	}
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}
