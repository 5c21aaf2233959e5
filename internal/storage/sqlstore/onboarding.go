package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cora-hq/cora/internal/models"
)

// CompleteStep marks a checklist step done. Completing it again is a no-op.
func (s *Store) CompleteStep(ctx context.Context, userID, step string, at int64) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO onboarding_progress (user_id, step, completed_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, step) DO NOTHING`),
		userID, step, at,
	)
	if err != nil {
		return fmt.Errorf("failed to complete onboarding step: %w", err)
	}
	return nil
}

// ListCompletedSteps returns the user's completed steps in completion order.
func (s *Store) ListCompletedSteps(ctx context.Context, userID string) ([]models.OnboardingStep, error) {
	steps := []models.OnboardingStep{}
	err := s.db.SelectContext(ctx, &steps,
		s.q(`SELECT user_id, step, completed_at FROM onboarding_progress WHERE user_id = ? ORDER BY completed_at, step`),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list onboarding progress: %w", err)
	}
	return steps, nil
}

// CreateFeedback persists a feedback entry.
func (s *Store) CreateFeedback(ctx context.Context, entry *models.FeedbackEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}

	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO feedback (id, user_id, rating, message, page, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		entry.ID, nullString(entry.UserID), entry.Rating, entry.Message, entry.Page, entry.CreatedAt,
	)
	if err != nil {
		return wrapWriteErr(err, "feedback")
	}
	return nil
}
