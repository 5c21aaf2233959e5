package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/cora-hq/cora/internal/calculator"
	"github.com/cora-hq/cora/internal/events"
	"github.com/cora-hq/cora/internal/metrics"
	"github.com/cora-hq/cora/internal/models"
	"github.com/cora-hq/cora/internal/storage"
)

const (
	defaultExpenseLimit = 50
	maxExpenseLimit     = 200
	maxVendorLength     = 200
	maxDescription      = 1000
	maxReceiptItems     = 100
)

// ExpenseInput creates or replaces an expense.
type ExpenseInput struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Category    string          `json:"category"`
	Vendor      string          `json:"vendor"`
	Description string          `json:"description"`
	IncurredOn  string          `json:"incurred_on"`
}

// ReceiptItemInput is one line of a receipt.
type ReceiptItemInput struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
}

// ReceiptInput is a receipt to split across categories.
type ReceiptInput struct {
	Total      decimal.Decimal    `json:"total"`
	Subtotal   decimal.Decimal    `json:"subtotal"`
	Currency   string             `json:"currency"`
	Vendor     string             `json:"vendor"`
	IncurredOn string             `json:"incurred_on"`
	Items      []ReceiptItemInput `json:"items"`
}

// ReceiptResult is the outcome of splitting a receipt.
type ReceiptResult struct {
	Allocations []calculator.Allocation `json:"allocations"`
	Expenses    []*models.Expense       `json:"expenses"`
}

// ExpenseService manages a user's expenses.
type ExpenseService struct {
	store      storage.ExpenseStore
	onboarding *OnboardingService
	audit      *AuditService
	publisher  events.Publisher
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewExpenseService creates an expense service.
func NewExpenseService(store storage.ExpenseStore, onboarding *OnboardingService, audit *AuditService,
	publisher events.Publisher, met *metrics.Metrics) *ExpenseService {
	return &ExpenseService{
		store:      store,
		onboarding: onboarding,
		audit:      audit,
		publisher:  publisher,
		metrics:    met,
		now:        time.Now,
	}
}

// Categories returns the known expense categories.
func (s *ExpenseService) Categories() []string {
	return append([]string(nil), models.Categories...)
}

func validCurrency(c string) (string, error) {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return models.DefaultCurrency, nil
	}
	if len(c) != 3 {
		return "", invalidf("currency must be a 3-letter code")
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", invalidf("currency must be a 3-letter code")
		}
	}
	return c, nil
}

func validAmount(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return invalidf("%s must be greater than zero", field)
	}
	if !d.Equal(d.Round(2)) {
		return invalidf("%s must have at most 2 decimal places", field)
	}
	return nil
}

func validDate(field, v string) error {
	if _, err := time.Parse(models.DateLayout, v); err != nil {
		return invalidf("%s must be a date in YYYY-MM-DD format", field)
	}
	return nil
}

func validCategory(c string) (string, error) {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return "", invalidf("category is required")
	}
	if !models.IsCategory(c) {
		return "", invalidf("unknown category %q", c)
	}
	return c, nil
}

func (s *ExpenseService) today() string {
	return s.now().UTC().Format(models.DateLayout)
}

// build validates the input and fills an expense for userID.
func (s *ExpenseService) build(userID string, in ExpenseInput) (*models.Expense, error) {
	if err := validAmount("amount", in.Amount); err != nil {
		return nil, err
	}
	currency, err := validCurrency(in.Currency)
	if err != nil {
		return nil, err
	}
	category, err := validCategory(in.Category)
	if err != nil {
		return nil, err
	}
	vendor := strings.TrimSpace(in.Vendor)
	if utf8.RuneCountInString(vendor) > maxVendorLength {
		return nil, invalidf("vendor must be at most %d characters", maxVendorLength)
	}
	description := strings.TrimSpace(in.Description)
	if utf8.RuneCountInString(description) > maxDescription {
		return nil, invalidf("description must be at most %d characters", maxDescription)
	}
	incurredOn := strings.TrimSpace(in.IncurredOn)
	if incurredOn == "" {
		incurredOn = s.today()
	} else if err := validDate("incurred_on", incurredOn); err != nil {
		return nil, err
	}

	return &models.Expense{
		UserID:      userID,
		Amount:      in.Amount.Round(2),
		Currency:    currency,
		Category:    category,
		Vendor:      vendor,
		Description: description,
		IncurredOn:  incurredOn,
	}, nil
}

// Create records a new expense.
func (s *ExpenseService) Create(ctx context.Context, userID string, in ExpenseInput) (*models.Expense, error) {
	expense, err := s.build(userID, in)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateExpense(ctx, expense); err != nil {
		return nil, err
	}
	s.created(ctx, userID, expense)
	return expense, nil
}

// created runs the side effects of new expenses.
func (s *ExpenseService) created(ctx context.Context, userID string, expenses ...*models.Expense) {
	s.metrics.ExpensesCreated(len(expenses))
	s.onboarding.completeQuietly(ctx, userID, StepAddFirstExpense)
	for _, e := range expenses {
		s.audit.RecordAction(ctx, userID, ActionExpenseCreated, "expense", e.ID, map[string]any{
			"amount":   e.Amount.StringFixed(2),
			"category": e.Category,
		})
		s.publisher.Publish(ctx, events.ExpenseCreated, map[string]any{
			"expense_id": e.ID,
			"user_id":    userID,
			"amount":     e.Amount.StringFixed(2),
			"currency":   e.Currency,
			"category":   e.Category,
		})
	}
}

// ListParams are the query parameters of List.
type ListParams struct {
	Category string
	From     string
	To       string
	Limit    int
	Offset   int
}

func validRange(from, to string) error {
	if from != "" {
		if err := validDate("from", from); err != nil {
			return err
		}
	}
	if to != "" {
		if err := validDate("to", to); err != nil {
			return err
		}
	}
	if from != "" && to != "" && from > to {
		return invalidf("from must not be after to")
	}
	return nil
}

// List returns the user's expenses, newest first.
func (s *ExpenseService) List(ctx context.Context, userID string, p ListParams) ([]*models.Expense, error) {
	filter := models.ExpenseFilter{From: p.From, To: p.To, Limit: p.Limit, Offset: p.Offset}
	if p.Category != "" {
		category, err := validCategory(p.Category)
		if err != nil {
			return nil, err
		}
		filter.Category = category
	}
	if err := validRange(p.From, p.To); err != nil {
		return nil, err
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, invalidf("limit and offset must not be negative")
	}
	if filter.Limit == 0 {
		filter.Limit = defaultExpenseLimit
	}
	if filter.Limit > maxExpenseLimit {
		filter.Limit = maxExpenseLimit
	}
	return s.store.ListExpenses(ctx, userID, filter)
}

func expenseNotFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return notFoundf("expense not found")
	}
	return err
}

// Get returns one of the user's expenses.
func (s *ExpenseService) Get(ctx context.Context, userID, expenseID string) (*models.Expense, error) {
	expense, err := s.store.GetExpense(ctx, userID, expenseID)
	if err != nil {
		return nil, expenseNotFound(err)
	}
	return expense, nil
}

// Update replaces the editable fields of one of the user's expenses.
func (s *ExpenseService) Update(ctx context.Context, userID, expenseID string, in ExpenseInput) (*models.Expense, error) {
	current, err := s.store.GetExpense(ctx, userID, expenseID)
	if err != nil {
		return nil, expenseNotFound(err)
	}
	if strings.TrimSpace(in.IncurredOn) == "" {
		in.IncurredOn = current.IncurredOn
	}
	updated, err := s.build(userID, in)
	if err != nil {
		return nil, err
	}
	updated.ID = current.ID
	updated.CreatedAt = current.CreatedAt
	if err := s.store.UpdateExpense(ctx, updated); err != nil {
		return nil, expenseNotFound(err)
	}
	s.audit.RecordAction(ctx, userID, ActionExpenseUpdated, "expense", updated.ID, nil)
	return updated, nil
}

// Delete removes one of the user's expenses.
func (s *ExpenseService) Delete(ctx context.Context, userID, expenseID string) error {
	if err := s.store.DeleteExpense(ctx, userID, expenseID); err != nil {
		return expenseNotFound(err)
	}
	s.audit.RecordAction(ctx, userID, ActionExpenseDeleted, "expense", expenseID, nil)
	return nil
}

// Summary totals the user's expenses in one currency between from and to
// (inclusive, optional) and completes the view_summary step.
func (s *ExpenseService) Summary(ctx context.Context, userID, from, to, currency string) (*calculator.Summary, error) {
	if err := validRange(from, to); err != nil {
		return nil, err
	}
	currency, err := validCurrency(currency)
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListExpenses(ctx, userID, models.ExpenseFilter{From: from, To: to})
	if err != nil {
		return nil, err
	}
	matching := all[:0]
	for _, e := range all {
		if e.Currency == currency {
			matching = append(matching, e)
		}
	}
	summary := calculator.Summarize(matching)
	s.onboarding.completeQuietly(ctx, userID, StepViewSummary)
	return &summary, nil
}

// SplitReceipt records one expense per category on the receipt, with tax
// spread proportionally. All expenses are stored in one transaction.
func (s *ExpenseService) SplitReceipt(ctx context.Context, userID string, in ReceiptInput) (*ReceiptResult, error) {
	if len(in.Items) == 0 {
		return nil, invalidf("%s", calculator.ErrNoItems.Error())
	}
	if len(in.Items) > maxReceiptItems {
		return nil, invalidf("a receipt can have at most %d items", maxReceiptItems)
	}
	if err := validAmount("total", in.Total); err != nil {
		return nil, err
	}
	if !in.Subtotal.IsPositive() {
		return nil, invalidf("%s", calculator.ErrZeroSubtotal.Error())
	}
	if in.Total.LessThan(in.Subtotal) {
		return nil, invalidf("total must not be less than subtotal")
	}

	items := make([]calculator.ReceiptItem, len(in.Items))
	for i, item := range in.Items {
		category, err := validCategory(item.Category)
		if err != nil {
			return nil, err
		}
		if err := validAmount(fmt.Sprintf("items[%d].amount", i), item.Amount); err != nil {
			return nil, err
		}
		items[i] = calculator.ReceiptItem{
			Description: strings.TrimSpace(item.Description),
			Amount:      item.Amount,
			Category:    category,
		}
	}

	allocations, err := calculator.AllocateReceipt(items, in.Total, in.Subtotal)
	if err != nil {
		return nil, invalidf("%s", err.Error())
	}

	expenses := make([]*models.Expense, 0, len(allocations))
	for _, alloc := range allocations {
		description := alloc.Description
		if utf8.RuneCountInString(description) > maxDescription {
			description = string([]rune(description)[:maxDescription])
		}
		expense, err := s.build(userID, ExpenseInput{
			Amount:      alloc.Total,
			Currency:    in.Currency,
			Category:    alloc.Category,
			Vendor:      in.Vendor,
			Description: description,
			IncurredOn:  in.IncurredOn,
		})
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, expense)
	}

	if err := s.store.CreateExpenses(ctx, expenses); err != nil {
		return nil, err
	}
	s.created(ctx, userID, expenses...)
	s.audit.RecordAction(ctx, userID, ActionReceiptSplit, "receipt", "", map[string]any{
		"total":      in.Total.StringFixed(2),
		"categories": len(expenses),
	})
	return &ReceiptResult{Allocations: allocations, Expenses: expenses}, nil
}
