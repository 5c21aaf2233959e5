package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cora-hq/cora/internal/models"
)

// CreateReferral stores a user's referral code.
func (s *Store) CreateReferral(ctx context.Context, referral *models.Referral) error {
	if referral.CreatedAt == 0 {
		referral.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO referrals (user_id, code, created_at) VALUES (?, ?, ?)`),
		referral.UserID, referral.Code, referral.CreatedAt,
	)
	if err != nil {
		return wrapWriteErr(err, "referral code")
	}
	return nil
}

// GetReferralByUser retrieves the referral code owned by a user.
func (s *Store) GetReferralByUser(ctx context.Context, userID string) (*models.Referral, error) {
	referral := &models.Referral{}
	err := s.db.GetContext(ctx, referral, s.q(`SELECT user_id, code, created_at FROM referrals WHERE user_id = ?`), userID)
	if err != nil {
		return nil, notFound(err, "referral for user", userID)
	}
	return referral, nil
}

// GetReferralByCode looks up a referral code. Codes are case-insensitive.
func (s *Store) GetReferralByCode(ctx context.Context, code string) (*models.Referral, error) {
	referral := &models.Referral{}
	err := s.db.GetContext(ctx, referral,
		s.q(`SELECT user_id, code, created_at FROM referrals WHERE code = ?`),
		strings.ToUpper(strings.TrimSpace(code)),
	)
	if err != nil {
		return nil, notFound(err, "referral code", code)
	}
	return referral, nil
}

const inviteColumns = `id, referrer_id, email, status, created_at, COALESCE(accepted_at, 0) AS accepted_at`

// CreateInvite records an invitation sent by a referrer.
func (s *Store) CreateInvite(ctx context.Context, invite *models.ReferralInvite) error {
	if invite.ID == "" {
		invite.ID = uuid.New().String()
	}
	if invite.CreatedAt == 0 {
		invite.CreatedAt = time.Now().Unix()
	}
	if invite.Status == "" {
		invite.Status = models.InvitePending
	}
	invite.Email = models.NormalizeEmail(invite.Email)

	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO referral_invites (id, referrer_id, email, status, created_at) VALUES (?, ?, ?, ?, ?)`),
		invite.ID, invite.ReferrerID, invite.Email, invite.Status, invite.CreatedAt,
	)
	if err != nil {
		return wrapWriteErr(err, "invite for "+invite.Email)
	}
	return nil
}

// GetInvite retrieves the invite a referrer sent to an email.
func (s *Store) GetInvite(ctx context.Context, referrerID, email string) (*models.ReferralInvite, error) {
	invite := &models.ReferralInvite{}
	err := s.db.GetContext(ctx, invite,
		s.q(`SELECT `+inviteColumns+` FROM referral_invites WHERE referrer_id = ? AND email = ?`),
		referrerID, models.NormalizeEmail(email),
	)
	if err != nil {
		return nil, notFound(err, "invite", email)
	}
	return invite, nil
}

// ListInvites returns a referrer's invites, newest first.
func (s *Store) ListInvites(ctx context.Context, referrerID string) ([]*models.ReferralInvite, error) {
	invites := []*models.ReferralInvite{}
	err := s.db.SelectContext(ctx, &invites,
		s.q(`SELECT `+inviteColumns+` FROM referral_invites WHERE referrer_id = ? ORDER BY created_at DESC, email`),
		referrerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", err)
	}
	return invites, nil
}

// AcceptInvites marks the referrer's pending invites to email as accepted.
func (s *Store) AcceptInvites(ctx context.Context, referrerID, email string, at int64) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`UPDATE referral_invites SET status = ?, accepted_at = ? WHERE referrer_id = ? AND email = ? AND status = ?`),
		models.InviteAccepted, at, referrerID, models.NormalizeEmail(email), models.InvitePending,
	)
	if err != nil {
		return fmt.Errorf("failed to accept invites: %w", err)
	}
	return nil
}

// CreateConversion records that a referred user registered.
func (s *Store) CreateConversion(ctx context.Context, conversion *models.ReferralConversion) error {
	if conversion.ID == "" {
		conversion.ID = uuid.New().String()
	}
	if conversion.CreatedAt == 0 {
		conversion.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO referral_conversions (id, referrer_id, referred_user_id, code, created_at) VALUES (?, ?, ?, ?, ?)`),
		conversion.ID, conversion.ReferrerID, conversion.ReferredUserID, conversion.Code, conversion.CreatedAt,
	)
	if err != nil {
		return wrapWriteErr(err, "referral conversion")
	}
	return nil
}

// CountConversions returns how many users registered with the referrer's code.
func (s *Store) CountConversions(ctx context.Context, referrerID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM referral_conversions WHERE referrer_id = ?`), referrerID)
	if err != nil {
		return 0, fmt.Errorf("failed to count conversions: %w", err)
	}
	return n, nil
}
