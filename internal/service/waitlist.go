package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cora-hq/cora/internal/auth"
	"github.com/cora-hq/cora/internal/events"
	"github.com/cora-hq/cora/internal/models"
	"github.com/cora-hq/cora/internal/storage"
)

const maxWaitlistField = 100

// WaitlistInput is a waitlist signup.
type WaitlistInput struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	Trade        string `json:"trade"`
	ReferralCode string `json:"referral_code"`
}

// WaitlistService manages the contractor waitlist.
type WaitlistService struct {
	store     storage.WaitlistStore
	publisher events.Publisher
}

// NewWaitlistService creates a waitlist service.
func NewWaitlistService(store storage.WaitlistStore, publisher events.Publisher) *WaitlistService {
	return &WaitlistService{store: store, publisher: publisher}
}

// Join adds the email to the waitlist and returns its 1-based position.
// An email already on the list returns its existing position with created false.
func (s *WaitlistService) Join(ctx context.Context, in WaitlistInput) (position int, created bool, err error) {
	entry := &models.WaitlistEntry{
		Email:        models.NormalizeEmail(in.Email),
		Name:         strings.TrimSpace(in.Name),
		Trade:        strings.TrimSpace(in.Trade),
		ReferralCode: strings.ToUpper(strings.TrimSpace(in.ReferralCode)),
	}
	if !auth.ValidEmail(entry.Email) {
		return 0, false, invalidf("a valid email address is required")
	}
	for field, v := range map[string]string{"name": entry.Name, "trade": entry.Trade, "referral_code": entry.ReferralCode} {
		if utf8.RuneCountInString(v) > maxWaitlistField {
			return 0, false, invalidf("%s must be at most %d characters", field, maxWaitlistField)
		}
	}

	err = s.store.AddToWaitlist(ctx, entry)
	switch {
	case err == nil:
		created = true
		s.publisher.Publish(ctx, events.WaitlistJoined, map[string]any{
			"waitlist_id": entry.ID,
			"trade":       entry.Trade,
		})
	case errors.Is(err, storage.ErrConflict):
		existing, getErr := s.store.GetWaitlistEntry(ctx, entry.Email)
		if getErr != nil {
			return 0, false, getErr
		}
		entry = existing
	default:
		return 0, false, fmt.Errorf("failed to join waitlist: %w", err)
	}

	position, err = s.store.WaitlistPosition(ctx, entry.ID)
	if err != nil {
		return 0, false, err
	}
	return position, created, nil
}

// Count returns the number of people on the waitlist.
func (s *WaitlistService) Count(ctx context.Context) (int, error) {
	return s.store.CountWaitlist(ctx)
}
