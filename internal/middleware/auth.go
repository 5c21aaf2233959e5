package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/cora-hq/cora/internal/auth"
	"github.com/cora-hq/cora/internal/models"
	"github.com/cora-hq/cora/internal/storage"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// UserIDKey is the context key for storing the authenticated user ID.
	UserIDKey contextKey = "user_id"
	// EmailKey is the context key for storing the authenticated user's email.
	EmailKey contextKey = "email"
	// SessionIDKey is the context key for the token's session ID.
	SessionIDKey contextKey = "session_id"
	// ClientIPKey is the context key for the caller's IP address.
	ClientIPKey contextKey = "client_ip"
)

// GetUserID extracts the user ID from the context.
// Returns empty string if not found.
func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}

// GetEmail extracts the user email from the context.
// Returns empty string if not found.
func GetEmail(ctx context.Context) string {
	email, _ := ctx.Value(EmailKey).(string)
	return email
}

// GetSessionID extracts the session ID from the context.
func GetSessionID(ctx context.Context) string {
	id, _ := ctx.Value(SessionIDKey).(string)
	return id
}

// GetClientIP extracts the caller's IP from the context.
func GetClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(ClientIPKey).(string)
	return ip
}

// WithUser returns a context carrying an authenticated identity.
func WithUser(ctx context.Context, userID, email, sessionID string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, EmailKey, email)
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// SessionChecker reports whether a token's session is still active.
type SessionChecker interface {
	Check(ctx context.Context, sessionID string) error
}

// UserLookup loads users for the admin check.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", auth.ErrMissingToken
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", auth.ErrInvalidToken
	}
	return parts[1], nil
}

func authenticate(c echo.Context, jwtManager *auth.JWTManager, sessions SessionChecker) error {
	tokenString, err := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return err
	}

	claims, err := jwtManager.Validate(tokenString)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if sessions != nil {
		if err := sessions.Check(ctx, claims.ID); err != nil {
			return err
		}
	}

	c.SetRequest(c.Request().WithContext(WithUser(ctx, claims.UserID, claims.Email, claims.ID)))
	return nil
}

func unauthorized(err error) error {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return echo.NewHTTPError(http.StatusUnauthorized, auth.ErrMissingToken.Error())
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrSessionRevoked):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
	default:
		slog.Error("authentication failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// RequireAuth validates the bearer token and its session, and adds the user ID,
// email and session ID to the request context.
func RequireAuth(jwtManager *auth.JWTManager, sessions SessionChecker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := authenticate(c, jwtManager, sessions); err != nil {
				return unauthorized(err)
			}
			return next(c)
		}
	}
}

// OptionalAuth authenticates the request if a valid token is present, and
// otherwise lets it through anonymously.
func OptionalAuth(jwtManager *auth.JWTManager, sessions SessionChecker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get(echo.HeaderAuthorization) != "" {
				if err := authenticate(c, jwtManager, sessions); err != nil {
					slog.Debug("ignoring invalid optional token", "error", err)
				}
			}
			return next(c)
		}
	}
}

// RequireAdmin rejects authenticated users who are not admins. Use after RequireAuth.
func RequireAdmin(users UserLookup) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := GetUserID(c.Request().Context())
			if userID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, auth.ErrMissingToken.Error())
			}
			user, err := users.GetUserByID(c.Request().Context(), userID)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				return echo.NewHTTPError(http.StatusForbidden, "admin access required")
			case err != nil:
				slog.Error("failed to load user for admin check", "user_id", userID, "error", err)
				return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
			case !user.IsAdmin:
				return echo.NewHTTPError(http.StatusForbidden, "admin access required")
			}
			return next(c)
		}
	}
}

// ClientIP stores echo's view of the client IP in the request context.
func ClientIP() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := context.WithValue(c.Request().Context(), ClientIPKey, c.RealIP())
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
