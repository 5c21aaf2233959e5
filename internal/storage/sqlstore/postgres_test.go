package sqlstore

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cora-hq/cora/internal/models"
)

// TestPostgresRoundTrip runs against a real server when TEST_POSTGRES_DSN is set.
func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	store, err := Open(DriverPostgres, dsn)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Migrate())

	ctx := context.Background()
	user := models.NewUser("pg-"+strconv.Itoa(os.Getpid())+"@example.com", "PG", "hash")
	require.NoError(t, store.CreateUser(ctx, user))

	expense := &models.Expense{UserID: user.ID, Amount: decimal.RequireFromString("19.99"), Category: "software", IncurredOn: "2026-05-01"}
	require.NoError(t, store.CreateExpense(ctx, expense))

	got, err := store.GetExpense(ctx, user.ID, expense.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(expense.Amount))

	entry := &models.WaitlistEntry{Email: user.Email}
	require.NoError(t, store.AddToWaitlist(ctx, entry))
	assert.NotZero(t, entry.ID)
}
