package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cora-hq/cora/internal/models"
	"github.com/cora-hq/cora/internal/storage"
)

// ErrSessionRevoked is returned for tokens whose session was logged out or purged.
var ErrSessionRevoked = errors.New("session has been revoked")

// SessionCache is a read-through cache of active sessions.
type SessionCache interface {
	// GetSession returns a session with RevokedAt set while a revocation
	// tombstone exists, even if an active copy was cached after it.
	GetSession(ctx context.Context, id string) (*models.Session, bool)
	PutSession(ctx context.Context, session *models.Session)
	// RevokeSession evicts the session and keeps a tombstone until the token expires.
	RevokeSession(ctx context.Context, id string, revokedAt int64, until time.Time)
}

// SessionManager tracks issued tokens so logout takes effect before expiry.
type SessionManager struct {
	store storage.SessionStore
	cache SessionCache
	now   func() time.Time
}

// NewSessionManager creates a session manager. cache may be nil.
func NewSessionManager(store storage.SessionStore, cache SessionCache) *SessionManager {
	return &SessionManager{store: store, cache: cache, now: time.Now}
}

// Start records the session for freshly issued claims.
func (m *SessionManager) Start(ctx context.Context, claims *Claims, userAgent, ip string) (*models.Session, error) {
	session := &models.Session{
		ID:        claims.ID,
		UserID:    claims.UserID,
		CreatedAt: claims.IssuedAt.Unix(),
		ExpiresAt: claims.ExpiresAt.Unix(),
		UserAgent: userAgent,
		IP:        ip,
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	if m.cache != nil {
		m.cache.PutSession(ctx, session)
	}
	return session, nil
}

// Check returns ErrSessionRevoked unless the session is active.
func (m *SessionManager) Check(ctx context.Context, id string) error {
	if m.cache != nil {
		if session, ok := m.cache.GetSession(ctx, id); ok {
			if session.RevokedAt != 0 {
				return ErrSessionRevoked
			}
			if session.Active(m.now()) {
				return nil
			}
		}
	}

	session, err := m.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrSessionRevoked
		}
		return fmt.Errorf("failed to load session: %w", err)
	}
	if !session.Active(m.now()) {
		return ErrSessionRevoked
	}
	if m.cache != nil {
		m.cache.PutSession(ctx, session)
	}
	return nil
}

// Revoke ends a session. Revoking an unknown session is not an error.
// The store is revoked before the cache is tombstoned, so a concurrent Check
// that cached the still-active row cannot outlive the revocation.
func (m *SessionManager) Revoke(ctx context.Context, id string) error {
	at := m.now().Unix()
	err := m.store.RevokeSession(ctx, id, at)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	if m.cache == nil {
		return nil
	}

	session, err := m.store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load revoked session: %w", err)
	}
	m.cache.RevokeSession(ctx, id, at, time.Unix(session.ExpiresAt, 0))
	return nil
}

// Purge deletes sessions that expired or were revoked before now.
func (m *SessionManager) Purge(ctx context.Context) (int64, error) {
	return m.store.PurgeSessions(ctx, m.now().Unix())
}
