// Package flags evaluates feature flags with percentage rollouts.
//
// A subject (user ID or anonymous ID) lands in a stable bucket 0..99 per flag,
// so raising a rollout only ever adds subjects and never flips existing ones off.
package flags

import (
	"github.com/cespare/xxhash/v2"

	"github.com/cora-hq/cora/internal/models"
)

// Bucket returns the subject's stable bucket in [0, 100) for the named flag.
func Bucket(name, subject string) int {
	return int(xxhash.Sum64String(name+":"+subject) % 100)
}

// Evaluate reports whether the flag is on for subject.
func Evaluate(flag *models.FeatureFlag, subject string) bool {
	if flag == nil || !flag.Enabled {
		return false
	}
	switch {
	case flag.RolloutPercentage >= 100:
		return true
	case flag.RolloutPercentage <= 0:
		return false
	}
	return Bucket(flag.Name, subject) < flag.RolloutPercentage
}

// EvaluateAll evaluates every flag for subject.
func EvaluateAll(flags []*models.FeatureFlag, subject string) map[string]bool {
	result := make(map[string]bool, len(flags))
	for _, f := range flags {
		result[f.Name] = Evaluate(f, subject)
	}
	return result
}
