package models

// Referral holds a user's referral code.
type Referral struct {
	UserID    string `json:"user_id" db:"user_id"`
	Code      string `json:"code" db:"code"`
	CreatedAt int64  `json:"created_at" db:"created_at"`
}

// Invite statuses.
const (
	InvitePending  = "pending"
	InviteAccepted = "accepted"
)

// ReferralInvite is an email invitation sent by a referrer.
type ReferralInvite struct {
	ID         string `json:"id" db:"id"`
	ReferrerID string `json:"referrer_id" db:"referrer_id"`
	Email      string `json:"email" db:"email"`
	Status     string `json:"status" db:"status"`
	CreatedAt  int64  `json:"created_at" db:"created_at"`
	AcceptedAt int64  `json:"accepted_at,omitempty" db:"accepted_at"`
}

// ReferralConversion records a user who registered with a referral code.
type ReferralConversion struct {
	ID             string `json:"id" db:"id"`
	ReferrerID     string `json:"referrer_id" db:"referrer_id"`
	ReferredUserID string `json:"referred_user_id" db:"referred_user_id"`
	Code           string `json:"code" db:"code"`
	CreatedAt      int64  `json:"created_at" db:"created_at"`
}
