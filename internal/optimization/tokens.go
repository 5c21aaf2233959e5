// Package optimization chooses which pieces of context fit a token budget.
//
// Candidates are scored by recency, role and pinning, then selected with a
// 0/1 knapsack so the kept set has the highest total score without exceeding
// the budget.
package optimization

import "unicode/utf8"

// charsPerToken approximates English text tokenization.
const charsPerToken = 4

// EstimateTokens approximates the token count of text: one token per four
// runes, rounded up. Empty text costs nothing.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}
