package chat

import (
	"context"
	"strings"
	"unicode"
)

// Intents.
const (
	IntentGreeting = "greeting"
	IntentPricing  = "pricing"
	IntentFeatures = "features"
	IntentSignup   = "signup"
	IntentSupport  = "support"
	IntentTax      = "tax"
	IntentFallback = "fallback"
)

// intentKeywords is checked in order; the first intent with a matching keyword wins.
var intentKeywords = []struct {
	intent   string
	keywords []string
}{
	{IntentSignup, []string{"sign up", "signup", "register", "create an account", "create account", "get started", "free trial", "trial"}},
	{IntentPricing, []string{"price", "pricing", "cost", "how much", "plan", "plans", "subscription", "per month", "discount"}},
	{IntentTax, []string{"tax", "taxes", "irs", "deduct", "deduction", "deductible", "schedule c", "1099", "write off", "writeoff"}},
	{IntentFeatures, []string{"feature", "features", "what can", "what does", "receipt", "receipts", "categorize", "track", "report", "reports", "export", "mileage"}},
	{IntentSupport, []string{"help", "support", "problem", "issue", "bug", "broken", "contact", "not working", "error"}},
	{IntentGreeting, []string{"hi", "hello", "hey", "good morning", "good afternoon", "good evening", "howdy"}},
}

var cannedReplies = map[string]string{
	IntentGreeting: "Hi, I'm Cora! I help contractors and small business owners keep their expenses organized and tax-ready. " +
		"What kind of business do you run?",
	IntentPricing: "CORA is free while you're getting started, and the Pro plan is $15/month once you need receipt splitting, " +
		"reports and exports. There's no contract, so you can cancel anytime.",
	IntentFeatures: "CORA tracks your business expenses by category, splits receipts with tax across categories, " +
		"and builds monthly and per-category summaries you can hand to your accountant.",
	IntentSignup: "Great! Creating an account takes under a minute. Click \"Get started\", enter your email and a password, " +
		"and the onboarding checklist will walk you through your first expense.",
	IntentSupport: "Sorry you're running into trouble. Tell me what happened and I'll point you in the right direction, " +
		"or email support@cora.app and a person will get back to you within one business day.",
	IntentTax: "CORA organizes expenses into categories that line up with Schedule C, so tax time is mostly done for you. " +
		"I can't give tax advice, but your summary makes it easy to share everything with your tax preparer.",
	IntentFallback: "I'm not sure I followed that. I can tell you about CORA's features, pricing, or how to get started. " +
		"What would you like to know?",
}

// Classify returns the intent of message by keyword matching.
func Classify(message string) string {
	normalized := " " + normalize(message) + " "
	for _, group := range intentKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(normalized, " "+kw+" ") {
				return group.intent
			}
		}
	}
	return IntentFallback
}

// normalize lower-cases text and collapses everything but letters and digits into single spaces.
func normalize(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Rules answers from canned copy based on the classified intent.
type Rules struct{}

// Reply implements Responder.
func (Rules) Reply(_ context.Context, _ []Turn, message string) (Reply, error) {
	intent := Classify(message)
	return Reply{Text: cannedReplies[intent], Intent: intent}, nil
}

// Name implements Responder.
func (Rules) Name() string { return "rules" }
