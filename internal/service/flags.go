package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cora-hq/cora/internal/events"
	"github.com/cora-hq/cora/internal/flags"
	"github.com/cora-hq/cora/internal/models"
	"github.com/cora-hq/cora/internal/storage"
)

var flagNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// FlagInput updates a flag. Nil fields keep their current value.
type FlagInput struct {
	Enabled           *bool   `json:"enabled"`
	RolloutPercentage *int    `json:"rollout_percentage"`
	Description       *string `json:"description"`
}

// FlagService evaluates and administers feature flags.
type FlagService struct {
	store     storage.FlagStore
	audit     *AuditService
	publisher events.Publisher
}

// NewFlagService creates a flag service.
func NewFlagService(store storage.FlagStore, audit *AuditService, publisher events.Publisher) *FlagService {
	return &FlagService{store: store, audit: audit, publisher: publisher}
}

// Evaluate returns every flag evaluated for subject.
func (s *FlagService) Evaluate(ctx context.Context, subject string) (map[string]bool, error) {
	all, err := s.store.ListFlags(ctx)
	if err != nil {
		return nil, err
	}
	return flags.EvaluateAll(all, subject), nil
}

// Enabled evaluates one flag for subject. Unknown flags return fallback.
func (s *FlagService) Enabled(ctx context.Context, name, subject string, fallback bool) bool {
	flag, err := s.store.GetFlag(ctx, name)
	if err != nil {
		return fallback
	}
	return flags.Evaluate(flag, subject)
}

// List returns every flag with its raw configuration.
func (s *FlagService) List(ctx context.Context) ([]*models.FeatureFlag, error) {
	return s.store.ListFlags(ctx)
}

// Upsert creates or updates a flag. New flags start at full rollout.
// actorID is recorded in the audit log.
func (s *FlagService) Upsert(ctx context.Context, actorID, name string, in FlagInput) (*models.FeatureFlag, error) {
	name = strings.TrimSpace(name)
	if !flagNamePattern.MatchString(name) {
		return nil, invalidf("flag name must be lower-case letters, digits and underscores")
	}
	if in.RolloutPercentage != nil && (*in.RolloutPercentage < 0 || *in.RolloutPercentage > 100) {
		return nil, invalidf("rollout_percentage must be between 0 and 100")
	}

	flag, err := s.store.GetFlag(ctx, name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		flag = &models.FeatureFlag{Name: name, RolloutPercentage: 100}
	case err != nil:
		return nil, err
	}

	if in.Enabled != nil {
		flag.Enabled = *in.Enabled
	}
	if in.RolloutPercentage != nil {
		flag.RolloutPercentage = *in.RolloutPercentage
	}
	if in.Description != nil {
		flag.Description = strings.TrimSpace(*in.Description)
	}

	if err := s.store.UpsertFlag(ctx, flag); err != nil {
		return nil, fmt.Errorf("failed to save flag: %w", err)
	}

	metadata := map[string]any{"enabled": flag.Enabled, "rollout_percentage": flag.RolloutPercentage}
	s.audit.RecordAction(ctx, actorID, ActionFlagUpdated, "feature_flag", flag.Name, metadata)
	s.publisher.Publish(ctx, events.FlagUpdated, flag)
	return flag, nil
}
