package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/cora-hq/cora/internal/auth"
	"github.com/cora-hq/cora/internal/events"
	"github.com/cora-hq/cora/internal/metrics"
	"github.com/cora-hq/cora/internal/models"
	"github.com/cora-hq/cora/internal/storage"
)

const maxDisplayNameLength = 100

// RegisterInput is a registration request.
type RegisterInput struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	DisplayName  string `json:"display_name"`
	BusinessName string `json:"business_name"`
	ReferralCode string `json:"referral_code"`
}

// LoginInput is a login request.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Client describes the caller of an auth request.
type Client struct {
	UserAgent string
	IP        string
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt int64        `json:"expires_at"`
}

// AuthService handles registration, login, logout and the current user.
type AuthService struct {
	authenticator auth.Authenticator
	jwtManager    *auth.JWTManager
	sessions      *auth.SessionManager
	users         storage.UserStore
	referrals     *ReferralService
	onboarding    *OnboardingService
	audit         *AuditService
	publisher     events.Publisher
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// AuthDeps groups the collaborators of AuthService.
type AuthDeps struct {
	Authenticator auth.Authenticator
	JWTManager    *auth.JWTManager
	Sessions      *auth.SessionManager
	Users         storage.UserStore
	Referrals     *ReferralService
	Onboarding    *OnboardingService
	Audit         *AuditService
	Publisher     events.Publisher
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// NewAuthService creates a new authentication service.
func NewAuthService(d AuthDeps) *AuthService {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		authenticator: d.Authenticator,
		jwtManager:    d.JWTManager,
		sessions:      d.Sessions,
		users:         d.Users,
		referrals:     d.Referrals,
		onboarding:    d.Onboarding,
		audit:         d.Audit,
		publisher:     d.Publisher,
		metrics:       d.Metrics,
		logger:        logger,
	}
}

// Register creates a new user account and signs them in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, client Client) (*AuthResult, error) {
	s.logger.Info("Register request", "email", models.NormalizeEmail(in.Email))

	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return nil, invalidf("email and password are required")
	}
	if utf8.RuneCountInString(strings.TrimSpace(in.DisplayName)) > maxDisplayNameLength {
		return nil, invalidf("display_name must be at most %d characters", maxDisplayNameLength)
	}
	if utf8.RuneCountInString(strings.TrimSpace(in.BusinessName)) > maxBusinessNameLength {
		return nil, invalidf("business_name must be at most %d characters", maxBusinessNameLength)
	}

	user, err := s.authenticator.Register(ctx, in.Email, in.DisplayName, in.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailExists):
			return nil, conflictf("%s", err.Error())
		case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrPasswordTooLong), errors.Is(err, auth.ErrInvalidEmail):
			return nil, invalidf("%s", err.Error())
		}
		s.logger.Error("Registration failed", "error", err)
		return nil, err
	}

	if name := strings.TrimSpace(in.BusinessName); name != "" {
		user.BusinessName = name
		if err := s.users.UpdateUser(ctx, user); err != nil {
			s.logger.Warn("Failed to save business name", "user_id", user.ID, "error", err)
		} else {
			s.onboarding.completeQuietly(ctx, user.ID, StepSetBusinessProfile)
		}
	}

	if _, err := s.referrals.EnsureCode(ctx, user.ID); err != nil {
		s.logger.Warn("Failed to create referral code", "user_id", user.ID, "error", err)
	}
	s.onboarding.completeQuietly(ctx, user.ID, StepCreateAccount)
	converted := s.referrals.Convert(ctx, in.ReferralCode, user)

	result, err := s.issue(ctx, user, client)
	if err != nil {
		return nil, err
	}

	s.metrics.Signup()
	s.audit.RecordAction(ctx, user.ID, ActionUserRegistered, "user", user.ID, map[string]any{"referred": converted})
	s.publisher.Publish(ctx, events.UserRegistered, map[string]any{
		"user_id":  user.ID,
		"referred": converted,
	})

	s.logger.Info("User registered successfully", "user_id", user.ID)
	return result, nil
}

// Login authenticates a user and returns a token.
func (s *AuthService) Login(ctx context.Context, in LoginInput, client Client) (*AuthResult, error) {
	email := models.NormalizeEmail(in.Email)
	s.logger.Info("Login request", "email", email)

	if email == "" || in.Password == "" {
		return nil, invalidf("email and password are required")
	}

	user, err := s.authenticator.Authenticate(ctx, email, in.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			return nil, err
		}
		s.logger.Warn("Login failed", "email", email)
		s.metrics.Login(false)
		s.audit.RecordAction(ctx, "", ActionUserLoginFailed, "user", "", map[string]any{"email": email})
		return nil, newError(ErrUnauthorized, "%s", auth.ErrInvalidCredentials.Error())
	}

	result, err := s.issue(ctx, user, client)
	if err != nil {
		return nil, err
	}

	s.metrics.Login(true)
	s.audit.RecordAction(ctx, user.ID, ActionUserLogin, "session", "", nil)
	s.publisher.Publish(ctx, events.UserLoggedIn, map[string]any{"user_id": user.ID})

	s.logger.Info("User logged in successfully", "user_id", user.ID)
	return result, nil
}

// issue generates a token and records its session.
func (s *AuthService) issue(ctx context.Context, user *models.User, client Client) (*AuthResult, error) {
	token, claims, err := s.jwtManager.Generate(user)
	if err != nil {
		s.logger.Error("Failed to generate token", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	if _, err := s.sessions.Start(ctx, claims, client.UserAgent, client.IP); err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Token: token, ExpiresAt: claims.ExpiresAt.Unix()}, nil
}

// Logout revokes the session so its token stops authenticating.
func (s *AuthService) Logout(ctx context.Context, userID, sessionID string) error {
	if sessionID == "" {
		return newError(ErrUnauthorized, "%s", auth.ErrMissingToken.Error())
	}
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return err
	}
	s.audit.RecordAction(ctx, userID, ActionUserLogout, "session", sessionID, nil)
	s.logger.Info("User logged out", "user_id", userID)
	return nil
}

// CurrentUser returns the authenticated user from storage.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFoundf("user not found")
		}
		return nil, err
	}
	return user, nil
}
