package jobs

import (
	"context"
	"time"
)

// SessionPurger deletes dead sessions.
type SessionPurger interface {
	Purge(ctx context.Context) (int64, error)
}

// AuditPruner deletes old audit entries.
type AuditPruner interface {
	PruneAuditLogs(ctx context.Context, cutoff int64) (int64, error)
}

// LimiterCleaner drops idle rate limiter state.
type LimiterCleaner interface {
	Cleanup() int
}

// PurgeSessions returns a task removing expired and revoked sessions.
func PurgeSessions(sessions SessionPurger) Task {
	return sessions.Purge
}

// PruneAudit returns a task deleting audit entries older than retention.
// A zero retention keeps entries forever.
func PruneAudit(store AuditPruner, retention time.Duration) Task {
	return func(ctx context.Context) (int64, error) {
		if retention <= 0 {
			return 0, nil
		}
		return store.PruneAuditLogs(ctx, time.Now().Add(-retention).Unix())
	}
}

// CleanupLimiters returns a task dropping idle rate limiter buckets.
func CleanupLimiters(limiter LimiterCleaner) Task {
	return func(context.Context) (int64, error) {
		return int64(limiter.Cleanup()), nil
	}
}
