// Package calculator holds the money arithmetic for expenses. All amounts are
// decimals rounded to cents.
package calculator

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	ErrZeroSubtotal     = errors.New("subtotal must be greater than zero")
	ErrNoItems          = errors.New("receipt must have at least one item")
	ErrSubtotalMismatch = errors.New("item amounts must add up to the subtotal")
	ErrNegativeAmount   = errors.New("amounts must be positive")
)

// ReceiptItem is one line on a receipt.
type ReceiptItem struct {
	Description string
	Amount      decimal.Decimal
	Category    string
}

// Allocation is the share of a receipt that belongs to one category.
type Allocation struct {
	Category    string          `json:"category"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	Total       decimal.Decimal `json:"total"`
	Description string          `json:"description"`
}

// AllocateReceipt splits a receipt into one allocation per category, spreading
// tax (total - subtotal) proportionally to each category's subtotal:
//
//	category_total = category_subtotal × (1 + tax / subtotal)
//
// Each share is rounded to cents and the rounding remainder is added to the
// largest category, so the totals always sum exactly to total.
// Allocations are ordered by first appearance on the receipt.
func AllocateReceipt(items []ReceiptItem, total, subtotal decimal.Decimal) ([]Allocation, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if !subtotal.IsPositive() {
		return nil, ErrZeroSubtotal
	}
	if total.IsNegative() {
		return nil, ErrNegativeAmount
	}

	byCategory := make(map[string]*Allocation)
	var order []string
	sum := decimal.Zero
	for _, item := range items {
		if !item.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: item %q", ErrNegativeAmount, item.Description)
		}
		sum = sum.Add(item.Amount)

		alloc, ok := byCategory[item.Category]
		if !ok {
			alloc = &Allocation{Category: item.Category, Subtotal: decimal.Zero, Description: item.Description}
			byCategory[item.Category] = alloc
			order = append(order, item.Category)
		} else if item.Description != "" {
			alloc.Description += ", " + item.Description
		}
		alloc.Subtotal = alloc.Subtotal.Add(item.Amount)
	}
	if !sum.Equal(subtotal) {
		return nil, fmt.Errorf("%w: items sum to %s, subtotal is %s", ErrSubtotalMismatch, sum.StringFixed(2), subtotal.StringFixed(2))
	}

	tax := total.Sub(subtotal)
	result := make([]Allocation, 0, len(order))
	allocated := decimal.Zero
	largest := 0
	for i, category := range order {
		alloc := byCategory[category]
		alloc.Tax = alloc.Subtotal.Mul(tax).Div(subtotal).Round(2)
		alloc.Total = alloc.Subtotal.Add(alloc.Tax)
		allocated = allocated.Add(alloc.Total)
		if alloc.Subtotal.GreaterThan(byCategory[order[largest]].Subtotal) {
			largest = i
		}
		result = append(result, *alloc)
	}

	if remainder := total.Sub(allocated); !remainder.IsZero() {
		result[largest].Tax = result[largest].Tax.Add(remainder)
		result[largest].Total = result[largest].Total.Add(remainder)
	}
	return result, nil
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
