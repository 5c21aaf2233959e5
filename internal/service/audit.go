package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cora-hq/cora/internal/middleware"
	"github.com/cora-hq/cora/internal/models"
	"github.com/cora-hq/cora/internal/storage"
)

// Audit actions.
const (
	ActionUserRegistered  = "user.registered"
	ActionUserLogin       = "user.login"
	ActionUserLoginFailed = "user.login_failed"
	ActionUserLogout      = "user.logout"
	ActionProfileUpdated  = "profile.updated"
	ActionExpenseCreated  = "expense.created"
	ActionExpenseUpdated  = "expense.updated"
	ActionExpenseDeleted  = "expense.deleted"
	ActionReceiptSplit    = "expense.receipt_split"
	ActionReferralInvited = "referral.invited"
	ActionFlagUpdated     = "flag.updated"
	ActionUserPromoted    = "user.promoted"
	ActionUserDemoted     = "user.demoted"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

// AuditService records security-relevant actions.
type AuditService struct {
	store storage.AuditStore
}

// NewAuditService creates an audit service.
func NewAuditService(store storage.AuditStore) *AuditService {
	return &AuditService{store: store}
}

// Record stores an audit entry. Failures are logged and never returned,
// so auditing cannot fail the calling request. IP defaults to the client
// address on ctx.
func (s *AuditService) Record(ctx context.Context, entry *models.AuditLog) {
	if entry.IP == "" {
		entry.IP = middleware.GetClientIP(ctx)
	}
	if err := s.store.CreateAuditLog(ctx, entry); err != nil {
		slog.Error("failed to record audit log",
			"action", entry.Action,
			"user_id", entry.UserID,
			"error", err,
		)
	}
}

// RecordAction is a shorthand for Record with metadata encoded as JSON.
func (s *AuditService) RecordAction(ctx context.Context, userID, action, entityType, entityID string, metadata map[string]any) {
	entry := &models.AuditLog{
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
	}
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			entry.Metadata = string(b)
		}
	}
	s.Record(ctx, entry)
}

// List returns the user's own audit entries, newest first.
func (s *AuditService) List(ctx context.Context, userID string, limit int) ([]*models.AuditLog, error) {
	if limit < 0 {
		return nil, invalidf("limit must not be negative")
	}
	if limit == 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	return s.store.ListAuditLogs(ctx, userID, limit)
}
