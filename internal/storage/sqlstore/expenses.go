package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cora-hq/cora/internal/models"
)

const expenseColumns = `id, user_id, amount, currency, category, vendor, description, incurred_on, created_at, updated_at`

const insertExpense = `INSERT INTO expenses (` + expenseColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// prepareExpense fills in generated fields before insert.
func prepareExpense(expense *models.Expense) {
	if expense.ID == "" {
		expense.ID = uuid.New().String()
	}
	now := time.Now().Unix()
	if expense.CreatedAt == 0 {
		expense.CreatedAt = now
	}
	expense.UpdatedAt = expense.CreatedAt
	if expense.Currency == "" {
		expense.Currency = models.DefaultCurrency
	}
}

func expenseArgs(e *models.Expense) []interface{} {
	return []interface{}{
		e.ID, e.UserID, e.Amount, e.Currency, e.Category, e.Vendor, e.Description, e.IncurredOn, e.CreatedAt, e.UpdatedAt,
	}
}

// CreateExpense persists a new expense.
func (s *Store) CreateExpense(ctx context.Context, expense *models.Expense) error {
	prepareExpense(expense)
	if _, err := s.db.ExecContext(ctx, s.q(insertExpense), expenseArgs(expense)...); err != nil {
		return wrapWriteErr(err, "expense")
	}
	return nil
}

// CreateExpenses persists several expenses in one transaction.
func (s *Store) CreateExpenses(ctx context.Context, expenses []*models.Expense) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.q(insertExpense)
	for _, expense := range expenses {
		prepareExpense(expense)
		if _, err := tx.ExecContext(ctx, query, expenseArgs(expense)...); err != nil {
			return wrapWriteErr(err, "expense")
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetExpense retrieves one of the user's expenses.
func (s *Store) GetExpense(ctx context.Context, userID, expenseID string) (*models.Expense, error) {
	expense := &models.Expense{}
	err := s.db.GetContext(ctx, expense,
		s.q(`SELECT `+expenseColumns+` FROM expenses WHERE id = ? AND user_id = ?`),
		expenseID, userID,
	)
	if err != nil {
		return nil, notFound(err, "expense", expenseID)
	}
	return expense, nil
}

// ListExpenses returns the user's expenses, newest first.
func (s *Store) ListExpenses(ctx context.Context, userID string, filter models.ExpenseFilter) ([]*models.Expense, error) {
	var where strings.Builder
	where.WriteString("user_id = ?")
	args := []interface{}{userID}

	if filter.Category != "" {
		where.WriteString(" AND category = ?")
		args = append(args, filter.Category)
	}
	if filter.From != "" {
		where.WriteString(" AND incurred_on >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		where.WriteString(" AND incurred_on <= ?")
		args = append(args, filter.To)
	}

	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE ` + where.String() +
		` ORDER BY incurred_on DESC, created_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	expenses := []*models.Expense{}
	if err := s.db.SelectContext(ctx, &expenses, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	return expenses, nil
}

// UpdateExpense overwrites the editable fields of an expense.
func (s *Store) UpdateExpense(ctx context.Context, expense *models.Expense) error {
	expense.UpdatedAt = time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE expenses SET amount = ?, currency = ?, category = ?, vendor = ?, description = ?, incurred_on = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`),
		expense.Amount, expense.Currency, expense.Category, expense.Vendor, expense.Description,
		expense.IncurredOn, expense.UpdatedAt, expense.ID, expense.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update expense: %w", err)
	}
	return requireRow(res, "expense", expense.ID)
}

// DeleteExpense removes one of the user's expenses.
func (s *Store) DeleteExpense(ctx context.Context, userID, expenseID string) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM expenses WHERE id = ? AND user_id = ?`),
		expenseID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete expense: %w", err)
	}
	return requireRow(res, "expense", expenseID)
}

// CountExpenses returns how many expenses the user has recorded.
func (s *Store) CountExpenses(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM expenses WHERE user_id = ?`), userID); err != nil {
		return 0, fmt.Errorf("failed to count expenses: %w", err)
	}
	return n, nil
}
