package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cora-hq/cora/internal/events"
	"github.com/cora-hq/cora/internal/models"
	"github.com/cora-hq/cora/internal/storage"
)

// Checklist steps, in order.
const (
	StepCreateAccount      = "create_account"
	StepSetBusinessProfile = "set_business_profile"
	StepAddFirstExpense    = "add_first_expense"
	StepViewSummary        = "view_summary"
	StepInviteTeammate     = "invite_teammate"
)

// ChecklistStep is one step of the onboarding checklist.
type ChecklistStep struct {
	Key   string
	Title string
}

// Checklist is the fixed onboarding checklist.
var Checklist = []ChecklistStep{
	{StepCreateAccount, "Create your account"},
	{StepSetBusinessProfile, "Tell us about your business"},
	{StepAddFirstExpense, "Add your first expense"},
	{StepViewSummary, "Review your expense summary"},
	{StepInviteTeammate, "Invite a teammate"},
}

const (
	maxBusinessNameLength = 200
	maxFeedbackLength     = 2000
	maxPageLength         = 200
)

// ChecklistItem is a checklist step with the user's progress.
type ChecklistItem struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Completed   bool   `json:"completed"`
	CompletedAt int64  `json:"completed_at,omitempty"`
}

// Progress summarizes a user's checklist.
type Progress struct {
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Percent   int    `json:"percent"`
	NextStep  string `json:"next_step,omitempty"`
	Done      bool   `json:"done"`
}

// FeedbackInput is a feedback submission.
type FeedbackInput struct {
	Rating  int    `json:"rating"`
	Message string `json:"message"`
	Page    string `json:"page"`
}

// OnboardingStorage is the persistence the onboarding service needs.
type OnboardingStorage interface {
	storage.OnboardingStore
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
}

// OnboardingService tracks the checklist, profile and feedback.
type OnboardingService struct {
	store     OnboardingStorage
	audit     *AuditService
	publisher events.Publisher
	now       func() time.Time
}

// NewOnboardingService creates an onboarding service.
func NewOnboardingService(store OnboardingStorage, audit *AuditService, publisher events.Publisher) *OnboardingService {
	return &OnboardingService{store: store, audit: audit, publisher: publisher, now: time.Now}
}

func isStep(step string) bool {
	for _, s := range Checklist {
		if s.Key == step {
			return true
		}
	}
	return false
}

// Checklist returns every step with the user's completion state.
func (s *OnboardingService) Checklist(ctx context.Context, userID string) ([]ChecklistItem, error) {
	done, err := s.completed(ctx, userID)
	if err != nil {
		return nil, err
	}
	items := make([]ChecklistItem, len(Checklist))
	for i, step := range Checklist {
		at, ok := done[step.Key]
		items[i] = ChecklistItem{Key: step.Key, Title: step.Title, Completed: ok, CompletedAt: at}
	}
	return items, nil
}

func (s *OnboardingService) completed(ctx context.Context, userID string) (map[string]int64, error) {
	steps, err := s.store.ListCompletedSteps(ctx, userID)
	if err != nil {
		return nil, err
	}
	done := make(map[string]int64, len(steps))
	for _, st := range steps {
		done[st.Step] = st.CompletedAt
	}
	return done, nil
}

// Complete marks a step as done. Completing a step again is a no-op.
func (s *OnboardingService) Complete(ctx context.Context, userID, step string) error {
	if !isStep(step) {
		return notFoundf("unknown onboarding step %q", step)
	}
	if err := s.store.CompleteStep(ctx, userID, step, s.now().Unix()); err != nil {
		return fmt.Errorf("failed to complete step: %w", err)
	}
	return nil
}

// completeQuietly completes a step as a side effect of another action.
// Failures are logged and never returned.
func (s *OnboardingService) completeQuietly(ctx context.Context, userID, step string) {
	if err := s.Complete(ctx, userID, step); err != nil {
		slog.Warn("failed to complete onboarding step", "user_id", userID, "step", step, "error", err)
	}
}

// Progress summarizes the user's checklist.
func (s *OnboardingService) Progress(ctx context.Context, userID string) (*Progress, error) {
	done, err := s.completed(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := &Progress{Total: len(Checklist)}
	for _, step := range Checklist {
		if _, ok := done[step.Key]; ok {
			p.Completed++
		} else if p.NextStep == "" {
			p.NextStep = step.Key
		}
	}
	p.Percent = p.Completed * 100 / p.Total
	p.Done = p.Completed == p.Total
	return p, nil
}

// UpdateProfile sets the user's business name and completes set_business_profile.
func (s *OnboardingService) UpdateProfile(ctx context.Context, userID, businessName string) (*models.User, error) {
	businessName = strings.TrimSpace(businessName)
	if businessName == "" {
		return nil, invalidf("business_name is required")
	}
	if utf8.RuneCountInString(businessName) > maxBusinessNameLength {
		return nil, invalidf("business_name must be at most %d characters", maxBusinessNameLength)
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFoundf("user not found")
		}
		return nil, err
	}
	user.BusinessName = businessName
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	s.completeQuietly(ctx, userID, StepSetBusinessProfile)
	s.audit.RecordAction(ctx, userID, ActionProfileUpdated, "user", userID, nil)
	return user, nil
}

// SubmitFeedback stores feedback. userID is empty for anonymous visitors.
func (s *OnboardingService) SubmitFeedback(ctx context.Context, userID string, in FeedbackInput) (*models.FeedbackEntry, error) {
	message := strings.TrimSpace(in.Message)
	if in.Rating < 1 || in.Rating > 5 {
		return nil, invalidf("rating must be between 1 and 5")
	}
	if message == "" {
		return nil, invalidf("message is required")
	}
	if utf8.RuneCountInString(message) > maxFeedbackLength {
		return nil, invalidf("message must be at most %d characters", maxFeedbackLength)
	}
	page := strings.TrimSpace(in.Page)
	if utf8.RuneCountInString(page) > maxPageLength {
		return nil, invalidf("page must be at most %d characters", maxPageLength)
	}

	entry := &models.FeedbackEntry{
		UserID:    userID,
		Rating:    in.Rating,
		Message:   message,
		Page:      page,
		CreatedAt: s.now().Unix(),
	}
	if err := s.store.CreateFeedback(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to store feedback: %w", err)
	}

	s.publisher.Publish(ctx, events.FeedbackSubmitted, map[string]any{
		"feedback_id": entry.ID,
		"user_id":     userID,
		"rating":      entry.Rating,
		"page":        entry.Page,
	})
	return entry, nil
}
