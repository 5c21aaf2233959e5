package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/cora-hq/cora/internal/auth"
	"github.com/cora-hq/cora/internal/events"
	"github.com/cora-hq/cora/internal/mailer"
	"github.com/cora-hq/cora/internal/metrics"
	"github.com/cora-hq/cora/internal/models"
	"github.com/cora-hq/cora/internal/storage"
)

// ReferralCodeLength is the length of generated referral codes.
const ReferralCodeLength = 8

// referralAlphabet omits characters that are easy to confuse: 0/O, 1/I/L.
const referralAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeAttempts = 5

// ReferralStorage is the persistence the referral service needs.
type ReferralStorage interface {
	storage.ReferralStore
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// ReferralSummary is the caller's referral status.
type ReferralSummary struct {
	Code        string `json:"code"`
	Link        string `json:"link"`
	InvitesSent int    `json:"invites_sent"`
	Conversions int    `json:"conversions"`
}

// ReferralService manages referral codes, invites and conversions.
type ReferralService struct {
	store      ReferralStorage
	mailer     mailer.Mailer
	onboarding *OnboardingService
	audit      *AuditService
	publisher  events.Publisher
	metrics    *metrics.Metrics
	appBaseURL string
	now        func() time.Time
}

// NewReferralService creates a referral service. appBaseURL prefixes invite links.
func NewReferralService(store ReferralStorage, m mailer.Mailer, onboarding *OnboardingService, audit *AuditService,
	publisher events.Publisher, met *metrics.Metrics, appBaseURL string) *ReferralService {
	return &ReferralService{
		store:      store,
		mailer:     m,
		onboarding: onboarding,
		audit:      audit,
		publisher:  publisher,
		metrics:    met,
		appBaseURL: strings.TrimRight(appBaseURL, "/"),
		now:        time.Now,
	}
}

// GenerateCode returns a random referral code.
func GenerateCode() (string, error) {
	max := big.NewInt(int64(len(referralAlphabet)))
	b := make([]byte, ReferralCodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate referral code: %w", err)
		}
		b[i] = referralAlphabet[n.Int64()]
	}
	return string(b), nil
}

// Link builds the signup link for a code.
func (s *ReferralService) Link(code string) string {
	return s.appBaseURL + "/signup?ref=" + code
}

// EnsureCode returns the user's referral code, creating it if missing.
func (s *ReferralService) EnsureCode(ctx context.Context, userID string) (*models.Referral, error) {
	referral, err := s.store.GetReferralByUser(ctx, userID)
	if err == nil {
		return referral, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	for i := 0; i < codeAttempts; i++ {
		code, err := GenerateCode()
		if err != nil {
			return nil, err
		}
		referral = &models.Referral{UserID: userID, Code: code, CreatedAt: s.now().Unix()}
		err = s.store.CreateReferral(ctx, referral)
		if err == nil {
			return referral, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return nil, err
		}
		// Either the code collided or a concurrent request created the user's code.
		if existing, getErr := s.store.GetReferralByUser(ctx, userID); getErr == nil {
			return existing, nil
		}
	}
	return nil, fmt.Errorf("failed to allocate a unique referral code after %d attempts", codeAttempts)
}

// Summary returns the caller's code, link and counts.
func (s *ReferralService) Summary(ctx context.Context, userID string) (*ReferralSummary, error) {
	referral, err := s.EnsureCode(ctx, userID)
	if err != nil {
		return nil, err
	}
	invites, err := s.store.ListInvites(ctx, userID)
	if err != nil {
		return nil, err
	}
	conversions, err := s.store.CountConversions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &ReferralSummary{
		Code:        referral.Code,
		Link:        s.Link(referral.Code),
		InvitesSent: len(invites),
		Conversions: conversions,
	}, nil
}

// Invite sends a referral invite to email. Re-inviting the same email returns
// the existing invite with created set to false.
func (s *ReferralService) Invite(ctx context.Context, userID, email string) (invite *models.ReferralInvite, created bool, err error) {
	email = models.NormalizeEmail(email)
	if !auth.ValidEmail(email) {
		return nil, false, invalidf("a valid email address is required")
	}

	inviter, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, notFoundf("user not found")
		}
		return nil, false, err
	}
	if inviter.Email == email {
		return nil, false, invalidf("you cannot invite yourself")
	}

	if existing, err := s.store.GetInvite(ctx, userID, email); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, false, conflictf("%s already has an account", email)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	referral, err := s.EnsureCode(ctx, userID)
	if err != nil {
		return nil, false, err
	}

	invite = &models.ReferralInvite{ReferrerID: userID, Email: email, CreatedAt: s.now().Unix()}
	if err := s.store.CreateInvite(ctx, invite); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			existing, getErr := s.store.GetInvite(ctx, userID, email)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	err = s.mailer.SendReferralInvite(ctx, mailer.Invite{
		ToEmail:      email,
		InviterName:  inviter.DisplayName,
		BusinessName: inviter.BusinessName,
		Code:         referral.Code,
		Link:         s.Link(referral.Code),
	})
	if err != nil {
		slog.Error("failed to send referral invite", "user_id", userID, "error", err)
	}

	s.onboarding.completeQuietly(ctx, userID, StepInviteTeammate)
	s.audit.RecordAction(ctx, userID, ActionReferralInvited, "referral_invite", invite.ID, map[string]any{"email": email})
	s.publisher.Publish(ctx, events.ReferralInvited, map[string]any{
		"referrer_id": userID,
		"invite_id":   invite.ID,
	})
	return invite, true, nil
}

// Invites lists the caller's sent invites.
func (s *ReferralService) Invites(ctx context.Context, userID string) ([]*models.ReferralInvite, error) {
	return s.store.ListInvites(ctx, userID)
}

// Convert credits the owner of code with the newly registered user.
// Unknown codes are ignored. It reports whether a conversion was recorded.
func (s *ReferralService) Convert(ctx context.Context, code string, user *models.User) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return false
	}
	referral, err := s.store.GetReferralByCode(ctx, code)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("failed to look up referral code", "error", err)
		}
		return false
	}
	if referral.UserID == user.ID {
		return false
	}

	now := s.now().Unix()
	conversion := &models.ReferralConversion{
		ReferrerID:     referral.UserID,
		ReferredUserID: user.ID,
		Code:           referral.Code,
		CreatedAt:      now,
	}
	if err := s.store.CreateConversion(ctx, conversion); err != nil {
		slog.Warn("failed to record referral conversion", "referrer_id", referral.UserID, "error", err)
		return false
	}
	if err := s.store.AcceptInvites(ctx, referral.UserID, user.Email, now); err != nil {
		slog.Warn("failed to accept referral invite", "referrer_id", referral.UserID, "error", err)
	}

	s.metrics.ReferralConversion()
	s.publisher.Publish(ctx, events.ReferralConverted, map[string]any{
		"referrer_id":      referral.UserID,
		"referred_user_id": user.ID,
	})
	return true
}
