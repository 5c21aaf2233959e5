package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/cora-hq/cora/internal/auth"
	"github.com/cora-hq/cora/internal/events"
	"github.com/cora-hq/cora/internal/mailer"
	"github.com/cora-hq/cora/internal/metrics"
	"github.com/cora-hq/cora/internal/models"
	"github.com/cora-hq/cora/internal/storage/sqlstore"
)

type fakeMailer struct {
	mu      sync.Mutex
	invites []mailer.Invite
	err     error
}

func (m *fakeMailer) SendReferralInvite(_ context.Context, invite mailer.Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites = append(m.invites, invite)
	return m.err
}

type harness struct {
	store      *sqlstore.Store
	events     *events.Recorder
	mailer     *fakeMailer
	audit      *AuditService
	onboarding *OnboardingService
	referrals  *ReferralService
	auth       *AuthService
	expenses   *ExpenseService
	waitlist   *WaitlistService
	flags      *FlagService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := sqlstore.New(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{store: store, events: &events.Recorder{}, mailer: &fakeMailer{}}
	met := metrics.New()
	h.audit = NewAuditService(store)
	h.onboarding = NewOnboardingService(store, h.audit, h.events)
	h.referrals = NewReferralService(store, h.mailer, h.onboarding, h.audit, h.events, met, "https://app.cora.test/")
	h.auth = NewAuthService(AuthDeps{
		Authenticator: auth.NewPasswordAuthenticator(store, bcrypt.MinCost),
		JWTManager:    auth.NewJWTManager("service-test-secret", time.Hour),
		Sessions:      auth.NewSessionManager(store, nil),
		Users:         store,
		Referrals:     h.referrals,
		Onboarding:    h.onboarding,
		Audit:         h.audit,
		Publisher:     h.events,
		Metrics:       met,
	})
	h.expenses = NewExpenseService(store, h.onboarding, h.audit, h.events, met)
	h.waitlist = NewWaitlistService(store, h.events)
	h.flags = NewFlagService(store, h.audit, h.events)
	return h
}

func (h *harness) register(t *testing.T, email string) *AuthResult {
	t.Helper()
	res, err := h.auth.Register(context.Background(), RegisterInput{
		Email:       email,
		Password:    "password123",
		DisplayName: "Test User",
	}, Client{UserAgent: "test", IP: "127.0.0.1"})
	require.NoError(t, err)
	return res
}

func completedSteps(t *testing.T, h *harness, userID string) map[string]bool {
	t.Helper()
	items, err := h.onboarding.Checklist(context.Background(), userID)
	require.NoError(t, err)
	done := make(map[string]bool)
	for _, item := range items {
		done[item.Key] = item.Completed
	}
	return done
}

func TestRegister(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.auth.Register(ctx, RegisterInput{
		Email:        "Owner@Example.com",
		Password:     "password123",
		DisplayName:  "Owner",
		BusinessName: "Owner Plumbing",
	}, Client{})
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", res.User.Email)
	assert.NotEmpty(t, res.Token)
	assert.Greater(t, res.ExpiresAt, time.Now().Unix())

	done := completedSteps(t, h, res.User.ID)
	assert.True(t, done[StepCreateAccount])
	assert.True(t, done[StepSetBusinessProfile])
	assert.False(t, done[StepAddFirstExpense])

	referral, err := h.store.GetReferralByUser(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Len(t, referral.Code, ReferralCodeLength)

	logs, err := h.audit.List(ctx, res.User.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, ActionUserRegistered, logs[0].Action)
	assert.Contains(t, h.events.Types(), events.UserRegistered)

	tests := []struct {
		name string
		in   RegisterInput
		kind error
	}{
		{"duplicate email", RegisterInput{Email: "owner@example.com", Password: "password123"}, ErrConflict},
		{"missing password", RegisterInput{Email: "new@example.com"}, ErrInvalidInput},
		{"missing email", RegisterInput{Password: "password123"}, ErrInvalidInput},
		{"weak password", RegisterInput{Email: "new@example.com", Password: "short"}, ErrInvalidInput},
		{"password longer than bcrypt accepts", RegisterInput{Email: "new@example.com", Password: strings.Repeat("p", 80)}, ErrInvalidInput},
		{"bad email", RegisterInput{Email: "not-an-email", Password: "password123"}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.auth.Register(ctx, tt.in, Client{})
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestLoginLogout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reg := h.register(t, "owner@example.com")

	_, err := h.auth.Login(ctx, LoginInput{Email: "owner@example.com", Password: "wrong-password"}, Client{})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = h.auth.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "password123"}, Client{})
	assert.ErrorIs(t, err, ErrUnauthorized)

	res, err := h.auth.Login(ctx, LoginInput{Email: "OWNER@example.com", Password: "password123"}, Client{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, res.User.ID)

	claims, err := auth.NewJWTManager("service-test-secret", time.Hour).Validate(res.Token)
	require.NoError(t, err)
	session, err := h.store.GetSession(ctx, claims.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", session.IP)

	require.NoError(t, h.auth.Logout(ctx, res.User.ID, claims.ID))
	session, err = h.store.GetSession(ctx, claims.ID)
	require.NoError(t, err)
	assert.NotZero(t, session.RevokedAt)

	assert.ErrorIs(t, h.auth.Logout(ctx, res.User.ID, ""), ErrUnauthorized)

	logs, err := h.audit.List(ctx, reg.User.ID, 10)
	require.NoError(t, err)
	var actions []string
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	assert.Contains(t, actions, ActionUserLogin)
	assert.Contains(t, actions, ActionUserLogout)

	me, err := h.auth.CurrentUser(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", me.Email)
	_, err = h.auth.CurrentUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpenses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := h.register(t, "owner@example.com").User
	other := h.register(t, "other@example.com").User

	created, err := h.expenses.Create(ctx, owner.ID, ExpenseInput{
		Amount:     decimal.RequireFromString("42.50"),
		Currency:   "usd",
		Category:   "Supplies",
		Vendor:     " Home Depot ",
		IncurredOn: "2024-03-15",
	})
	require.NoError(t, err)
	assert.Equal(t, "USD", created.Currency)
	assert.Equal(t, "supplies", created.Category)
	assert.Equal(t, "Home Depot", created.Vendor)
	assert.True(t, completedSteps(t, h, owner.ID)[StepAddFirstExpense])
	assert.Contains(t, h.events.Types(), events.ExpenseCreated)

	defaulted, err := h.expenses.Create(ctx, owner.ID, ExpenseInput{Amount: decimal.NewFromInt(10), Category: "meals"})
	require.NoError(t, err)
	assert.Equal(t, time.Now().UTC().Format(models.DateLayout), defaulted.IncurredOn)

	invalid := []struct {
		name string
		in   ExpenseInput
	}{
		{"zero amount", ExpenseInput{Category: "meals"}},
		{"negative amount", ExpenseInput{Amount: decimal.NewFromInt(-1), Category: "meals"}},
		{"three decimals", ExpenseInput{Amount: decimal.RequireFromString("1.005"), Category: "meals"}},
		{"unknown category", ExpenseInput{Amount: decimal.NewFromInt(1), Category: "yachts"}},
		{"missing category", ExpenseInput{Amount: decimal.NewFromInt(1)}},
		{"bad currency", ExpenseInput{Amount: decimal.NewFromInt(1), Category: "meals", Currency: "US1"}},
		{"bad date", ExpenseInput{Amount: decimal.NewFromInt(1), Category: "meals", IncurredOn: "03/15/2024"}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.expenses.Create(ctx, owner.ID, tt.in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	t.Run("scoped to owner", func(t *testing.T) {
		_, err := h.expenses.Get(ctx, other.ID, created.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = h.expenses.Update(ctx, other.ID, created.ID, ExpenseInput{Amount: decimal.NewFromInt(1), Category: "meals"})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, h.expenses.Delete(ctx, other.ID, created.ID), ErrNotFound)
	})

	t.Run("update keeps date when omitted", func(t *testing.T) {
		updated, err := h.expenses.Update(ctx, owner.ID, created.ID, ExpenseInput{
			Amount:   decimal.RequireFromString("50"),
			Category: "equipment",
		})
		require.NoError(t, err)
		assert.Equal(t, "2024-03-15", updated.IncurredOn)
		assert.Equal(t, created.CreatedAt, updated.CreatedAt)

		got, err := h.expenses.Get(ctx, owner.ID, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "equipment", got.Category)
		assert.True(t, got.Amount.Equal(decimal.NewFromInt(50)))
	})

	t.Run("list filters and limits", func(t *testing.T) {
		list, err := h.expenses.List(ctx, owner.ID, ListParams{})
		require.NoError(t, err)
		assert.Len(t, list, 2)

		list, err = h.expenses.List(ctx, owner.ID, ListParams{Category: "equipment"})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, created.ID, list[0].ID)

		_, err = h.expenses.List(ctx, owner.ID, ListParams{From: "2024-05-01", To: "2024-01-01"})
		assert.ErrorIs(t, err, ErrInvalidInput)
		_, err = h.expenses.List(ctx, owner.ID, ListParams{Limit: -1})
		assert.ErrorIs(t, err, ErrInvalidInput)

		list, err = h.expenses.List(ctx, other.ID, ListParams{})
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("summary completes view_summary", func(t *testing.T) {
		summary, err := h.expenses.Summary(ctx, owner.ID, "", "", "")
		require.NoError(t, err)
		assert.Equal(t, 2, summary.Count)
		assert.True(t, summary.Total.Equal(decimal.NewFromInt(60)))
		assert.True(t, completedSteps(t, h, owner.ID)[StepViewSummary])
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, h.expenses.Delete(ctx, owner.ID, defaulted.ID))
		_, err := h.expenses.Get(ctx, owner.ID, defaulted.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSplitReceipt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := h.register(t, "owner@example.com").User

	res, err := h.expenses.SplitReceipt(ctx, owner.ID, ReceiptInput{
		Total:      decimal.RequireFromString("110.00"),
		Subtotal:   decimal.RequireFromString("100.00"),
		Vendor:     "Costco",
		IncurredOn: "2024-04-01",
		Items: []ReceiptItemInput{
			{Description: "Paper", Amount: decimal.RequireFromString("30.00"), Category: "office"},
			{Description: "Lumber", Amount: decimal.RequireFromString("60.00"), Category: "supplies"},
			{Description: "Pens", Amount: decimal.RequireFromString("10.00"), Category: "office"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Expenses, 2)

	sum := decimal.Zero
	for _, e := range res.Expenses {
		sum = sum.Add(e.Amount)
		assert.Equal(t, "Costco", e.Vendor)
	}
	assert.True(t, sum.Equal(decimal.RequireFromString("110")))
	assert.True(t, res.Expenses[0].Amount.Equal(decimal.RequireFromString("44")))

	list, err := h.expenses.List(ctx, owner.ID, ListParams{})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = h.expenses.SplitReceipt(ctx, owner.ID, ReceiptInput{
		Total:    decimal.RequireFromString("110.00"),
		Subtotal: decimal.RequireFromString("100.00"),
		Items:    []ReceiptItemInput{{Amount: decimal.RequireFromString("90"), Category: "office"}},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.expenses.SplitReceipt(ctx, owner.ID, ReceiptInput{Total: decimal.NewFromInt(1), Subtotal: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestOnboarding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.register(t, "owner@example.com").User

	p, err := h.onboarding.Progress(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Completed)
	assert.Equal(t, 5, p.Total)
	assert.Equal(t, 20, p.Percent)
	assert.Equal(t, StepSetBusinessProfile, p.NextStep)
	assert.False(t, p.Done)

	assert.ErrorIs(t, h.onboarding.Complete(ctx, user.ID, "make_coffee"), ErrNotFound)

	require.NoError(t, h.onboarding.Complete(ctx, user.ID, StepViewSummary))
	require.NoError(t, h.onboarding.Complete(ctx, user.ID, StepViewSummary))

	updated, err := h.onboarding.UpdateProfile(ctx, user.ID, "  Acme Roofing ")
	require.NoError(t, err)
	assert.Equal(t, "Acme Roofing", updated.BusinessName)
	_, err = h.onboarding.UpdateProfile(ctx, user.ID, " ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	p, err = h.onboarding.Progress(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Completed)
	assert.Equal(t, StepAddFirstExpense, p.NextStep)

	for _, step := range Checklist {
		require.NoError(t, h.onboarding.Complete(ctx, user.ID, step.Key))
	}
	p, err = h.onboarding.Progress(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, p.Done)
	assert.Equal(t, 100, p.Percent)
	assert.Empty(t, p.NextStep)
}

func TestFeedback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.register(t, "owner@example.com").User

	entry, err := h.onboarding.SubmitFeedback(ctx, user.ID, FeedbackInput{Rating: 5, Message: " Love it ", Page: "/dashboard"})
	require.NoError(t, err)
	assert.Equal(t, "Love it", entry.Message)
	assert.NotEmpty(t, entry.ID)
	assert.Contains(t, h.events.Types(), events.FeedbackSubmitted)

	_, err = h.onboarding.SubmitFeedback(ctx, "", FeedbackInput{Rating: 3, Message: "anonymous"})
	require.NoError(t, err)

	for _, in := range []FeedbackInput{
		{Rating: 0, Message: "x"},
		{Rating: 6, Message: "x"},
		{Rating: 3, Message: "  "},
		{Rating: 3, Message: string(make([]rune, 2001))},
	} {
		_, err := h.onboarding.SubmitFeedback(ctx, "", in)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}

func TestReferrals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	referrer := h.register(t, "referrer@example.com").User
	h.register(t, "taken@example.com")

	summary, err := h.referrals.Summary(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://app.cora.test/signup?ref="+summary.Code, summary.Link)
	assert.Zero(t, summary.InvitesSent)

	invite, created, err := h.referrals.Invite(ctx, referrer.ID, "Friend@Example.com")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.InvitePending, invite.Status)
	require.Len(t, h.mailer.invites, 1)
	assert.Equal(t, summary.Code, h.mailer.invites[0].Code)
	assert.True(t, completedSteps(t, h, referrer.ID)[StepInviteTeammate])

	again, created, err := h.referrals.Invite(ctx, referrer.ID, "friend@example.com")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, invite.ID, again.ID)
	assert.Len(t, h.mailer.invites, 1)

	_, _, err = h.referrals.Invite(ctx, referrer.ID, "referrer@example.com")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, _, err = h.referrals.Invite(ctx, referrer.ID, "taken@example.com")
	assert.ErrorIs(t, err, ErrConflict)
	_, _, err = h.referrals.Invite(ctx, referrer.ID, "nope")
	assert.ErrorIs(t, err, ErrInvalidInput)

	friend, err := h.auth.Register(ctx, RegisterInput{
		Email:        "friend@example.com",
		Password:     "password123",
		ReferralCode: " " + summary.Code + " ",
	}, Client{})
	require.NoError(t, err)

	summary, err = h.referrals.Summary(ctx, referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Conversions)
	assert.Equal(t, 1, summary.InvitesSent)

	invites, err := h.referrals.Invites(ctx, referrer.ID)
	require.NoError(t, err)
	require.Len(t, invites, 1)
	assert.Equal(t, models.InviteAccepted, invites[0].Status)
	assert.Contains(t, h.events.Types(), events.ReferralConverted)

	friendCode, err := h.referrals.EnsureCode(ctx, friend.User.ID)
	require.NoError(t, err)
	assert.NotEqual(t, summary.Code, friendCode.Code)

	_, err = h.auth.Register(ctx, RegisterInput{Email: "lost@example.com", Password: "password123", ReferralCode: "NOTACODE"}, Client{})
	require.NoError(t, err, "unknown referral codes are ignored")
}

func TestInviteMailFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.mailer.err = errors.New("smtp down")
	referrer := h.register(t, "referrer@example.com").User

	_, created, err := h.referrals.Invite(context.Background(), referrer.ID, "friend@example.com")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, ReferralCodeLength)
		for _, r := range code {
			assert.NotContains(t, "01OIL", string(r))
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 190)
}

func TestWaitlist(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pos, created, err := h.waitlist.Join(ctx, WaitlistInput{Email: "a@example.com", Trade: "electrician"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, pos)

	pos, created, err = h.waitlist.Join(ctx, WaitlistInput{Email: "b@example.com"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2, pos)

	pos, created, err = h.waitlist.Join(ctx, WaitlistInput{Email: " A@Example.com "})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, pos)

	_, _, err = h.waitlist.Join(ctx, WaitlistInput{Email: "bad"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	count, err := h.waitlist.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestFlags(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := h.register(t, "admin@example.com").User

	enabled := true
	rollout := 100
	desc := "New dashboard"
	flag, err := h.flags.Upsert(ctx, admin.ID, "new_dashboard", FlagInput{Enabled: &enabled, RolloutPercentage: &rollout, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "New dashboard", flag.Description)

	values, err := h.flags.Evaluate(ctx, "anyone")
	require.NoError(t, err)
	assert.True(t, values["new_dashboard"])
	assert.True(t, values["cora_chat"])

	zero := 0
	flag, err = h.flags.Upsert(ctx, admin.ID, "new_dashboard", FlagInput{RolloutPercentage: &zero})
	require.NoError(t, err)
	assert.True(t, flag.Enabled)
	assert.Equal(t, "New dashboard", flag.Description)
	assert.False(t, h.flags.Enabled(ctx, "new_dashboard", "anyone", true))
	assert.True(t, h.flags.Enabled(ctx, "missing_flag", "anyone", true))

	bad := 101
	_, err = h.flags.Upsert(ctx, admin.ID, "new_dashboard", FlagInput{RolloutPercentage: &bad})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = h.flags.Upsert(ctx, admin.ID, "Bad-Name", FlagInput{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	logs, err := h.audit.List(ctx, admin.ID, 0)
	require.NoError(t, err)
	var updates int
	for _, l := range logs {
		if l.Action == ActionFlagUpdated && l.EntityID == "new_dashboard" {
			updates++
		}
	}
	assert.Equal(t, 2, updates)
	assert.Contains(t, h.events.Types(), events.FlagUpdated)
}

func TestAuditList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.register(t, "owner@example.com").User

	for i := 0; i < 5; i++ {
		h.audit.RecordAction(ctx, user.ID, "test.action", "thing", "", map[string]any{"i": i})
	}
	logs, err := h.audit.List(ctx, user.ID, 3)
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	_, err = h.audit.List(ctx, user.ID, -1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "limit must not be negative", se.Error())
}
