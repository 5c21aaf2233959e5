package models

// OnboardingStep is one completed checklist step for a user.
type OnboardingStep struct {
	UserID      string `json:"user_id" db:"user_id"`
	Step        string `json:"step" db:"step"`
	CompletedAt int64  `json:"completed_at" db:"completed_at"`
}

// FeedbackEntry is product feedback left from the onboarding flow.
type FeedbackEntry struct {
	ID string `json:"id" db:"id"`
	// UserID is empty for anonymous feedback.
	UserID    string `json:"user_id,omitempty" db:"user_id"`
	Rating    int    `json:"rating" db:"rating"`
	Message   string `json:"message" db:"message"`
	Page      string `json:"page" db:"page"`
	CreatedAt int64  `json:"created_at" db:"created_at"`
}

// WaitlistEntry is a contractor waiting for access.
// ID is assigned by the database and doubles as the queue position.
type WaitlistEntry struct {
	ID           int64  `json:"id" db:"id"`
	Email        string `json:"email" db:"email"`
	Name         string `json:"name" db:"name"`
	Trade        string `json:"trade" db:"trade"`
	ReferralCode string `json:"referral_code" db:"referral_code"`
	CreatedAt    int64  `json:"created_at" db:"created_at"`
}
