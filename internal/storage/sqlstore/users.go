package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cora-hq/cora/internal/models"
	"github.com/cora-hq/cora/internal/storage"
)

const userColumns = `id, email, display_name, business_name, password_hash, is_admin, created_at, updated_at`

// CreateUser inserts a new user into the database.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, display_name, business_name, password_hash, is_admin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, s.q(query),
		user.ID,
		models.NormalizeEmail(user.Email),
		user.DisplayName,
		user.BusinessName,
		user.PasswordHash,
		user.IsAdmin,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return wrapWriteErr(err, "user "+user.Email)
	}

	return nil
}

// GetUserByEmail retrieves a user by their email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	err := s.db.GetContext(ctx, user,
		s.q(`SELECT `+userColumns+` FROM users WHERE email = ?`),
		models.NormalizeEmail(email),
	)
	if err != nil {
		return nil, notFound(err, "user", email)
	}
	return user, nil
}

// GetUserByID retrieves a user by their ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{}
	err := s.db.GetContext(ctx, user,
		s.q(`SELECT `+userColumns+` FROM users WHERE id = ?`),
		id,
	)
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return user, nil
}

// UpdateUser updates the mutable profile fields of a user.
func (s *Store) UpdateUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE users SET display_name = ?, business_name = ?, password_hash = ?, updated_at = ? WHERE id = ?`),
		user.DisplayName, user.BusinessName, user.PasswordHash, user.UpdatedAt, user.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return requireRow(res, "user", user.ID)
}

// SetAdmin grants or revokes admin access.
func (s *Store) SetAdmin(ctx context.Context, userID string, admin bool) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE users SET is_admin = ?, updated_at = ? WHERE id = ?`),
		admin, time.Now().Unix(), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return requireRow(res, "user", userID)
}

// requireRow returns storage.ErrNotFound when an UPDATE or DELETE touched nothing.
func requireRow(res interface{ RowsAffected() (int64, error) }, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", storage.ErrNotFound, what, id)
	}
	return nil
}
