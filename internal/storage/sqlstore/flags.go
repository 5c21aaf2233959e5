package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cora-hq/cora/internal/models"
)

const flagColumns = `name, description, enabled, rollout_percentage, updated_at`

// ListFlags returns all feature flags ordered by name.
func (s *Store) ListFlags(ctx context.Context) ([]*models.FeatureFlag, error) {
	flags := []*models.FeatureFlag{}
	if err := s.db.SelectContext(ctx, &flags, `SELECT `+flagColumns+` FROM feature_flags ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list feature flags: %w", err)
	}
	return flags, nil
}

// GetFlag retrieves one feature flag.
func (s *Store) GetFlag(ctx context.Context, name string) (*models.FeatureFlag, error) {
	flag := &models.FeatureFlag{}
	err := s.db.GetContext(ctx, flag, s.q(`SELECT `+flagColumns+` FROM feature_flags WHERE name = ?`), name)
	if err != nil {
		return nil, notFound(err, "feature flag", name)
	}
	return flag, nil
}

// UpsertFlag creates or replaces a feature flag.
func (s *Store) UpsertFlag(ctx context.Context, flag *models.FeatureFlag) error {
	flag.UpdatedAt = time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO feature_flags (`+flagColumns+`) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET
		   description = excluded.description,
		   enabled = excluded.enabled,
		   rollout_percentage = excluded.rollout_percentage,
		   updated_at = excluded.updated_at`),
		flag.Name, flag.Description, flag.Enabled, flag.RolloutPercentage, flag.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert feature flag: %w", err)
	}
	return nil
}
