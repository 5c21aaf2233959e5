package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cora-hq/cora/internal/models"
)

// AddToWaitlist inserts a waitlist entry and assigns its ID.
func (s *Store) AddToWaitlist(ctx context.Context, entry *models.WaitlistEntry) error {
	entry.Email = models.NormalizeEmail(entry.Email)
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}

	err := s.db.QueryRowxContext(ctx,
		s.q(`INSERT INTO contractor_waitlist (email, name, trade, referral_code, created_at)
		 VALUES (?, ?, ?, ?, ?) RETURNING id`),
		entry.Email, entry.Name, entry.Trade, entry.ReferralCode, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return wrapWriteErr(err, "waitlist entry "+entry.Email)
	}
	return nil
}

// GetWaitlistEntry retrieves an entry by email.
func (s *Store) GetWaitlistEntry(ctx context.Context, email string) (*models.WaitlistEntry, error) {
	entry := &models.WaitlistEntry{}
	err := s.db.GetContext(ctx, entry,
		s.q(`SELECT id, email, name, trade, referral_code, created_at FROM contractor_waitlist WHERE email = ?`),
		models.NormalizeEmail(email),
	)
	if err != nil {
		return nil, notFound(err, "waitlist entry", email)
	}
	return entry, nil
}

// WaitlistPosition counts entries at or ahead of id.
func (s *Store) WaitlistPosition(ctx context.Context, id int64) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM contractor_waitlist WHERE id <= ?`), id); err != nil {
		return 0, fmt.Errorf("failed to compute waitlist position: %w", err)
	}
	return n, nil
}

// CountWaitlist returns the number of waitlist entries.
func (s *Store) CountWaitlist(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM contractor_waitlist`); err != nil {
		return 0, fmt.Errorf("failed to count waitlist: %w", err)
	}
	return n, nil
}
