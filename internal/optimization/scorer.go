package optimization

import "math"

// Roles used by the default weights.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Candidate is one piece of context competing for the budget.
type Candidate struct {
	ID   string
	Role string
	Text string
	// Tokens overrides the estimate from Text when positive.
	Tokens int
	// Pinned candidates are reserved before anything else.
	Pinned bool
	Score  float64
}

// Cost is the candidate's token cost.
func (c Candidate) Cost() int {
	if c.Tokens > 0 {
		return c.Tokens
	}
	return EstimateTokens(c.Text)
}

// Scorer assigns scores to candidates ordered oldest to newest.
type Scorer struct {
	// HalfLife is the distance from the newest candidate, in positions, at which
	// the recency factor halves. Zero disables recency decay.
	HalfLife float64
	// RoleWeights multiplies the score by role. Missing roles weigh 1.
	RoleWeights map[string]float64
	// PinnedBoost is added to pinned candidates.
	PinnedBoost float64
}

// DefaultScorer favors recent user turns.
func DefaultScorer() Scorer {
	return Scorer{
		HalfLife: 4,
		RoleWeights: map[string]float64{
			RoleSystem:    1.5,
			RoleUser:      1.2,
			RoleAssistant: 1.0,
		},
		PinnedBoost: 10,
	}
}

// Score returns the score of the candidate at index i of n.
func (s Scorer) Score(c Candidate, i, n int) float64 {
	recency := 1.0
	if s.HalfLife > 0 {
		age := float64(n - 1 - i)
		recency = math.Pow(0.5, age/s.HalfLife)
	}
	weight := 1.0
	if w, ok := s.RoleWeights[c.Role]; ok {
		weight = w
	}
	score := recency * weight
	if c.Pinned {
		score += s.PinnedBoost
	}
	return score
}

// ScoreAll sets Score on every candidate in place.
func (s Scorer) ScoreAll(candidates []Candidate) {
	for i := range candidates {
		candidates[i].Score = s.Score(candidates[i], i, len(candidates))
	}
}
