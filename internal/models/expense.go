package models

import (
	"github.com/shopspring/decimal"
)

// DateLayout is the layout of Expense.IncurredOn.
const DateLayout = "2006-01-02"

// DefaultCurrency is used when an expense does not name one.
const DefaultCurrency = "USD"

// Expense represents one business expense owned by a user.
type Expense struct {
	// ID is the unique identifier for the expense (UUID format).
	ID string `json:"id" db:"id"`

	// UserID is the owner. Every query is scoped by it.
	UserID string `json:"user_id" db:"user_id"`

	// Amount is the positive amount spent, at most two decimal places.
	Amount decimal.Decimal `json:"amount" db:"amount"`

	// Currency is an ISO 4217 code such as "USD".
	Currency string `json:"currency" db:"currency"`

	// Category is one of Categories.
	Category string `json:"category" db:"category"`

	Vendor      string `json:"vendor" db:"vendor"`
	Description string `json:"description" db:"description"`

	// IncurredOn is the date of the expense in DateLayout.
	IncurredOn string `json:"incurred_on" db:"incurred_on"`

	CreatedAt int64 `json:"created_at" db:"created_at"`
	UpdatedAt int64 `json:"updated_at" db:"updated_at"`
}

// ExpenseFilter narrows a listing of a user's expenses.
// Empty fields do not filter.
type ExpenseFilter struct {
	Category string
	From     string // inclusive, DateLayout
	To       string // inclusive, DateLayout
	Limit    int
	Offset   int
}

// Categories are the expense categories, loosely following Schedule C lines.
var Categories = []string{
	"advertising",
	"car_truck",
	"contract_labor",
	"equipment",
	"insurance",
	"meals",
	"office",
	"rent",
	"repairs",
	"software",
	"supplies",
	"travel",
	"utilities",
	"other",
}

// IsCategory reports whether c is a known category.
func IsCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}
