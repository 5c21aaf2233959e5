package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User represents a registered user account.
type User struct {
	// ID is the unique identifier for the user (UUID format).
	ID string `json:"id" db:"id"`

	// Email is the user's login, stored lower-cased.
	Email string `json:"email" db:"email"`

	// DisplayName is the name shown in the UI.
	DisplayName string `json:"display_name" db:"display_name"`

	// BusinessName is the optional name of the user's business.
	BusinessName string `json:"business_name" db:"business_name"`

	// PasswordHash is the bcrypt hash. Never serialized.
	PasswordHash string `json:"-" db:"password_hash"`

	// IsAdmin grants access to the admin endpoints.
	IsAdmin bool `json:"is_admin" db:"is_admin"`

	CreatedAt int64 `json:"created_at" db:"created_at"`
	UpdatedAt int64 `json:"updated_at" db:"updated_at"`
}

// NewUser creates a user with a fresh ID and timestamps.
func NewUser(email, displayName, passwordHash string) *User {
	now := time.Now().Unix()
	return &User{
		ID:           uuid.New().String(),
		Email:        NormalizeEmail(email),
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NormalizeEmail lower-cases and trims an email address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Session is one issued bearer token. ID is the token's jti.
type Session struct {
	ID        string `json:"id" db:"id"`
	UserID    string `json:"user_id" db:"user_id"`
	CreatedAt int64  `json:"created_at" db:"created_at"`
	ExpiresAt int64  `json:"expires_at" db:"expires_at"`
	// RevokedAt is zero while the session is active.
	RevokedAt int64  `json:"revoked_at,omitempty" db:"revoked_at"`
	UserAgent string `json:"user_agent" db:"user_agent"`
	IP        string `json:"ip" db:"ip"`
}

// Active reports whether the session can still authenticate requests at now.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == 0 && now.Unix() < s.ExpiresAt
}
