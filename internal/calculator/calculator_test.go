package calculator

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cora-hq/cora/internal/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAllocateReceipt(t *testing.T) {
	tests := []struct {
		name         string
		items        []ReceiptItem
		total        string
		subtotal     string
		wantErr      error
		validateFunc func(t *testing.T, allocs []Allocation)
	}{
		{
			name: "tax spread proportionally across two categories",
			items: []ReceiptItem{
				{Description: "Printer paper", Amount: d("20.00"), Category: "supplies"},
				{Description: "Lunch", Amount: d("10.00"), Category: "meals"},
			},
			total:    "33.00",
			subtotal: "30.00",
			validateFunc: func(t *testing.T, allocs []Allocation) {
				// supplies: 20 + 20 * (3/30) = 22; meals: 10 + 1 = 11
				if len(allocs) != 2 {
					t.Fatalf("got %d allocations, want 2", len(allocs))
				}
				if allocs[0].Category != "supplies" || !allocs[0].Total.Equal(d("22")) {
					t.Errorf("supplies = %+v", allocs[0])
				}
				if allocs[1].Category != "meals" || !allocs[1].Tax.Equal(d("1")) || !allocs[1].Total.Equal(d("11")) {
					t.Errorf("meals = %+v", allocs[1])
				}
			},
		},
		{
			name: "items in the same category are merged",
			items: []ReceiptItem{
				{Description: "Pens", Amount: d("4.50"), Category: "office"},
				{Description: "Stapler", Amount: d("5.50"), Category: "office"},
			},
			total:    "10.80",
			subtotal: "10.00",
			validateFunc: func(t *testing.T, allocs []Allocation) {
				if len(allocs) != 1 {
					t.Fatalf("got %d allocations, want 1", len(allocs))
				}
				if !allocs[0].Total.Equal(d("10.80")) {
					t.Errorf("total = %s, want 10.80", allocs[0].Total)
				}
				if allocs[0].Description != "Pens, Stapler" {
					t.Errorf("description = %q", allocs[0].Description)
				}
			},
		},
		{
			name: "rounding remainder goes to the largest category",
			items: []ReceiptItem{
				{Amount: d("10.00"), Category: "meals"},
				{Amount: d("10.00"), Category: "travel"},
				{Amount: d("20.00"), Category: "software"},
			},
			total:    "40.10",
			subtotal: "40.00",
			validateFunc: func(t *testing.T, allocs []Allocation) {
				// 0.10 tax: 0.025 -> 0.03, 0.025 -> 0.03, 0.05 -> 0.05 = 0.11, remainder -0.01
				sum := decimal.Zero
				for _, a := range allocs {
					sum = sum.Add(a.Total)
				}
				if !sum.Equal(d("40.10")) {
					t.Errorf("allocations sum to %s, want 40.10", sum)
				}
				if !allocs[2].Tax.Equal(d("0.04")) {
					t.Errorf("largest category tax = %s, want 0.04", allocs[2].Tax)
				}
			},
		},
		{
			name:     "no tax",
			items:    []ReceiptItem{{Amount: d("12.34"), Category: "other"}},
			total:    "12.34",
			subtotal: "12.34",
			validateFunc: func(t *testing.T, allocs []Allocation) {
				if !allocs[0].Tax.IsZero() || !allocs[0].Total.Equal(d("12.34")) {
					t.Errorf("unexpected allocation %+v", allocs[0])
				}
			},
		},
		{
			name:     "zero subtotal should error",
			items:    []ReceiptItem{{Amount: d("10"), Category: "meals"}},
			total:    "10",
			subtotal: "0",
			wantErr:  ErrZeroSubtotal,
		},
		{
			name:     "no items should error",
			items:    nil,
			total:    "10",
			subtotal: "10",
			wantErr:  ErrNoItems,
		},
		{
			name:     "item sum must match subtotal",
			items:    []ReceiptItem{{Amount: d("9.99"), Category: "meals"}},
			total:    "11",
			subtotal: "10",
			wantErr:  ErrSubtotalMismatch,
		},
		{
			name:     "non-positive item should error",
			items:    []ReceiptItem{{Amount: d("-1"), Category: "meals"}, {Amount: d("11"), Category: "meals"}},
			total:    "10",
			subtotal: "10",
			wantErr:  ErrNegativeAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allocs, err := AllocateReceipt(tt.items, d(tt.total), d(tt.subtotal))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("AllocateReceipt() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("AllocateReceipt() unexpected error: %v", err)
			}
			if tt.validateFunc != nil {
				tt.validateFunc(t, allocs)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	expenses := []*models.Expense{
		{Amount: d("10.00"), Category: "meals", IncurredOn: "2026-01-15"},
		{Amount: d("5.25"), Category: "meals", IncurredOn: "2026-02-01"},
		{Amount: d("99.99"), Category: "software", IncurredOn: "2026-01-20"},
		{Amount: d("15.25"), Category: "advertising", IncurredOn: "2026-02-10"},
	}

	s := Summarize(expenses)

	if s.Count != 4 {
		t.Errorf("Count = %d, want 4", s.Count)
	}
	if !s.Total.Equal(d("130.49")) {
		t.Errorf("Total = %s, want 130.49", s.Total)
	}

	wantCategories := []string{"software", "advertising", "meals"}
	for i, want := range wantCategories {
		if s.ByCategory[i].Category != want {
			t.Errorf("ByCategory[%d] = %s, want %s", i, s.ByCategory[i].Category, want)
		}
	}
	// advertising and meals tie at 15.25; name order breaks the tie.
	if !s.ByCategory[2].Total.Equal(d("15.25")) || s.ByCategory[2].Count != 2 {
		t.Errorf("meals = %+v", s.ByCategory[2])
	}

	if len(s.ByMonth) != 2 || s.ByMonth[0].Month != "2026-01" || !s.ByMonth[0].Total.Equal(d("109.99")) {
		t.Errorf("ByMonth = %+v", s.ByMonth)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	if s.Count != 0 || !s.Total.IsZero() || len(s.ByCategory) != 0 || len(s.ByMonth) != 0 {
		t.Errorf("unexpected summary %+v", s)
	}
}
