package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cora-hq/cora/internal/models"
)

// CreateAuditLog appends an audit entry.
func (s *Store) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}
	if entry.Metadata == "" {
		entry.Metadata = "{}"
	}

	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO audit_logs (id, user_id, action, entity_type, entity_id, metadata, ip, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.ID, nullString(entry.UserID), entry.Action, entry.EntityType, entry.EntityID,
		entry.Metadata, entry.IP, entry.CreatedAt,
	)
	if err != nil {
		return wrapWriteErr(err, "audit log")
	}
	return nil
}

// ListAuditLogs returns the user's most recent audit entries.
func (s *Store) ListAuditLogs(ctx context.Context, userID string, limit int) ([]*models.AuditLog, error) {
	entries := []*models.AuditLog{}
	err := s.db.SelectContext(ctx, &entries,
		s.q(`SELECT id, COALESCE(user_id, '') AS user_id, action, entity_type, entity_id, metadata, ip, created_at
		 FROM audit_logs WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ?`),
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return entries, nil
}

// PruneAuditLogs deletes entries older than cutoff.
func (s *Store) PruneAuditLogs(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM audit_logs WHERE created_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit logs: %w", err)
	}
	return res.RowsAffected()
}
