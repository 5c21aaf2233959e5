package models

// FeatureFlag is a flag gated by an on/off switch and a rollout percentage.
type FeatureFlag struct {
	Name              string `json:"name" db:"name"`
	Description       string `json:"description" db:"description"`
	Enabled           bool   `json:"enabled" db:"enabled"`
	RolloutPercentage int    `json:"rollout_percentage" db:"rollout_percentage"`
	UpdatedAt         int64  `json:"updated_at" db:"updated_at"`
}

// AuditLog is an append-only record of a security-relevant action.
type AuditLog struct {
	ID         string `json:"id" db:"id"`
	UserID     string `json:"user_id,omitempty" db:"user_id"`
	Action     string `json:"action" db:"action"`
	EntityType string `json:"entity_type" db:"entity_type"`
	EntityID   string `json:"entity_id" db:"entity_id"`
	// Metadata is a JSON object encoded as text.
	Metadata  string `json:"metadata" db:"metadata"`
	IP        string `json:"ip" db:"ip"`
	CreatedAt int64  `json:"created_at" db:"created_at"`
}
