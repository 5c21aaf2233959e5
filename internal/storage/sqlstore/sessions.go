package sqlstore

import (
	"context"
	"fmt"

	"github.com/cora-hq/cora/internal/models"
)

// CreateSession records an issued token.
func (s *Store) CreateSession(ctx context.Context, session *models.Session) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO sessions (id, user_id, created_at, expires_at, user_agent, ip) VALUES (?, ?, ?, ?, ?, ?)`),
		session.ID, session.UserID, session.CreatedAt, session.ExpiresAt, session.UserAgent, session.IP,
	)
	if err != nil {
		return wrapWriteErr(err, "session")
	}
	return nil
}

// GetSession retrieves a session by its token ID.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	session := &models.Session{}
	err := s.db.GetContext(ctx, session,
		s.q(`SELECT id, user_id, created_at, expires_at, COALESCE(revoked_at, 0) AS revoked_at, user_agent, ip
		 FROM sessions WHERE id = ?`),
		id,
	)
	if err != nil {
		return nil, notFound(err, "session", id)
	}
	return session, nil
}

// RevokeSession marks a session revoked. Revoking twice keeps the first timestamp.
func (s *Store) RevokeSession(ctx context.Context, id string, at int64) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE sessions SET revoked_at = COALESCE(revoked_at, ?) WHERE id = ?`),
		at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return requireRow(res, "session", id)
}

// PurgeSessions deletes sessions that expired or were revoked before cutoff.
func (s *Store) PurgeSessions(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM sessions WHERE expires_at < ? OR (revoked_at IS NOT NULL AND revoked_at < ?)`),
		cutoff, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return res.RowsAffected()
}
