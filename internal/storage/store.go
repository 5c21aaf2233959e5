// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/cora-hq/cora/internal/models"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("already exists")
)

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	SetAdmin(ctx context.Context, userID string, admin bool) error
}

// SessionStore persists issued tokens so they can be revoked.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	RevokeSession(ctx context.Context, id string, at int64) error
	// PurgeSessions deletes sessions that expired or were revoked before cutoff.
	PurgeSessions(ctx context.Context, cutoff int64) (int64, error)
}

// ExpenseStore persists expenses. Every method is scoped to one user.
type ExpenseStore interface {
	CreateExpense(ctx context.Context, expense *models.Expense) error
	// CreateExpenses inserts all expenses in one transaction.
	CreateExpenses(ctx context.Context, expenses []*models.Expense) error
	GetExpense(ctx context.Context, userID, expenseID string) (*models.Expense, error)
	ListExpenses(ctx context.Context, userID string, filter models.ExpenseFilter) ([]*models.Expense, error)
	UpdateExpense(ctx context.Context, expense *models.Expense) error
	DeleteExpense(ctx context.Context, userID, expenseID string) error
	CountExpenses(ctx context.Context, userID string) (int, error)
}

// OnboardingStore persists checklist progress and feedback.
type OnboardingStore interface {
	// CompleteStep is idempotent: completing a step twice keeps the first timestamp.
	CompleteStep(ctx context.Context, userID, step string, at int64) error
	ListCompletedSteps(ctx context.Context, userID string) ([]models.OnboardingStep, error)
	CreateFeedback(ctx context.Context, entry *models.FeedbackEntry) error
}

// WaitlistStore persists the contractor waitlist.
type WaitlistStore interface {
	// AddToWaitlist inserts the entry, assigning ID. Returns ErrConflict if the email is listed.
	AddToWaitlist(ctx context.Context, entry *models.WaitlistEntry) error
	GetWaitlistEntry(ctx context.Context, email string) (*models.WaitlistEntry, error)
	// WaitlistPosition is the 1-based position of the entry with the given ID.
	WaitlistPosition(ctx context.Context, id int64) (int, error)
	CountWaitlist(ctx context.Context) (int, error)
}

// FlagStore persists feature flags.
type FlagStore interface {
	ListFlags(ctx context.Context) ([]*models.FeatureFlag, error)
	GetFlag(ctx context.Context, name string) (*models.FeatureFlag, error)
	UpsertFlag(ctx context.Context, flag *models.FeatureFlag) error
}

// ReferralStore persists referral codes, invites and conversions.
type ReferralStore interface {
	CreateReferral(ctx context.Context, referral *models.Referral) error
	GetReferralByUser(ctx context.Context, userID string) (*models.Referral, error)
	GetReferralByCode(ctx context.Context, code string) (*models.Referral, error)
	// CreateInvite returns ErrConflict if the referrer already invited the email.
	CreateInvite(ctx context.Context, invite *models.ReferralInvite) error
	GetInvite(ctx context.Context, referrerID, email string) (*models.ReferralInvite, error)
	ListInvites(ctx context.Context, referrerID string) ([]*models.ReferralInvite, error)
	AcceptInvites(ctx context.Context, referrerID, email string, at int64) error
	CreateConversion(ctx context.Context, conversion *models.ReferralConversion) error
	CountConversions(ctx context.Context, referrerID string) (int, error)
}

// AuditStore persists audit logs.
type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
	ListAuditLogs(ctx context.Context, userID string, limit int) ([]*models.AuditLog, error)
	// PruneAuditLogs deletes entries created before cutoff.
	PruneAuditLogs(ctx context.Context, cutoff int64) (int64, error)
}

// Store defines the full set of storage operations.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, etc.)
// without changing the service layer.
type Store interface {
	UserStore
	SessionStore
	ExpenseStore
	OnboardingStore
	WaitlistStore
	FlagStore
	ReferralStore
	AuditStore

	// Ping checks that the database is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
