// Package models defines the core domain models for CORA.
//
// # Models
//
//   - User: a registered account; owns expenses, sessions and a referral code
//   - Session: one issued bearer token, keyed by the token's jti
//   - Expense: a single business expense with a decimal amount
//   - OnboardingStep / FeedbackEntry: onboarding checklist progress and product feedback
//   - Referral, ReferralInvite, ReferralConversion: the referral program
//   - WaitlistEntry: a contractor waiting for access
//   - FeatureFlag: a percentage-gated flag
//   - AuditLog: an append-only record of security-relevant actions
//
// # Design Principles
//
// 1. Timestamps are Unix seconds, matching the storage columns
// 2. Relationships use ID strings, never pointers
// 3. Money uses decimal.Decimal; floats never touch an amount
package models
