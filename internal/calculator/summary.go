package calculator

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/cora-hq/cora/internal/models"
)

// CategoryTotal is the amount spent in one category.
type CategoryTotal struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
	Count    int             `json:"count"`
}

// MonthTotal is the amount spent in one calendar month (YYYY-MM).
type MonthTotal struct {
	Month string          `json:"month"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// Summary aggregates a set of expenses.
type Summary struct {
	Total      decimal.Decimal `json:"total"`
	Count      int             `json:"count"`
	ByCategory []CategoryTotal `json:"by_category"`
	ByMonth    []MonthTotal    `json:"by_month"`
}

// Summarize totals expenses per category and per month.
// Categories are ordered by total descending (ties by name); months chronologically.
// Currencies are not converted: callers summarize one currency at a time.
func Summarize(expenses []*models.Expense) Summary {
	categoryTotals := make(map[string]decimal.Decimal)
	categoryCounts := make(map[string]int)
	monthTotals := make(map[string]decimal.Decimal)
	monthCounts := make(map[string]int)

	summary := Summary{Total: decimal.Zero}
	for _, e := range expenses {
		summary.Total = summary.Total.Add(e.Amount)
		summary.Count++

		categoryTotals[e.Category] = categoryTotals[e.Category].Add(e.Amount)
		categoryCounts[e.Category]++

		month := e.IncurredOn
		if len(month) >= 7 {
			month = month[:7]
		}
		monthTotals[month] = monthTotals[month].Add(e.Amount)
		monthCounts[month]++
	}

	summary.ByCategory = make([]CategoryTotal, 0, len(categoryTotals))
	for _, c := range sortedKeys(categoryTotals) {
		summary.ByCategory = append(summary.ByCategory, CategoryTotal{Category: c, Total: categoryTotals[c], Count: categoryCounts[c]})
	}
	sort.SliceStable(summary.ByCategory, func(i, j int) bool {
		return summary.ByCategory[i].Total.GreaterThan(summary.ByCategory[j].Total)
	})

	summary.ByMonth = make([]MonthTotal, 0, len(monthTotals))
	for _, m := range sortedKeys(monthTotals) {
		summary.ByMonth = append(summary.ByMonth, MonthTotal{Month: m, Total: monthTotals[m], Count: monthCounts[m]})
	}
	return summary
}
