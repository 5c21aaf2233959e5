// Package smoke runs an end-to-end check suite against a live CORA server.
// Each step prints a PASS, FAIL or SKIP line; steps after a failure are skipped
// because they depend on state (token, expense, chat state) from earlier steps.
package smoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// ErrFailed is returned by Run when any step failed.
var ErrFailed = errors.New("smoke checks failed")

// Result is the outcome of one step.
type Result struct {
	Name     string
	Err      error
	Skipped  bool
	Duration time.Duration
}

// Passed reports whether the step ran and succeeded.
func (r Result) Passed() bool {
	return !r.Skipped && r.Err == nil
}

// Runner drives the suite. It is not safe for concurrent use.
type Runner struct {
	baseURL string
	client  *http.Client
	out     io.Writer

	email     string
	password  string
	token     string
	expenseID string
	chatState string
}

// New creates a runner for the server at baseURL that reports to out.
func New(baseURL string, out io.Writer) *Runner {
	return &Runner{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
		out:      out,
		email:    "smoke+" + uuid.NewString()[:8] + "@example.com",
		password: "smoke-" + uuid.NewString(),
	}
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

func (r *Runner) steps() []step {
	return []step{
		{"healthz", r.checkHealth},
		{"register", r.checkRegister},
		{"login", r.checkLogin},
		{"me", r.checkMe},
		{"create expense", r.checkCreateExpense},
		{"list expenses", r.checkListExpenses},
		{"checklist", r.checkChecklist},
		{"feedback", r.checkFeedback},
		{"chat", r.checkChat},
		{"logout", r.checkLogout},
	}
}

// Run executes every step in order and returns ErrFailed if any step failed.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	var results []Result
	failed := false
	for _, s := range r.steps() {
		res := Result{Name: s.name}
		if failed {
			res.Skipped = true
			fmt.Fprintf(r.out, "SKIP %s\n", s.name)
			results = append(results, res)
			continue
		}

		start := time.Now()
		res.Err = s.run(ctx)
		res.Duration = time.Since(start)
		if res.Err != nil {
			failed = true
			fmt.Fprintf(r.out, "FAIL %s: %v\n", s.name, res.Err)
		} else {
			fmt.Fprintf(r.out, "PASS %s (%s)\n", s.name, res.Duration.Round(time.Millisecond))
		}
		results = append(results, res)
	}
	if failed {
		return results, ErrFailed
	}
	return results, nil
}

// Health fetches /healthz?verbose=true and returns the parsed body.
func (r *Runner) Health(ctx context.Context) (gjson.Result, error) {
	return r.call(ctx, http.MethodGet, "/healthz?verbose=true", nil, http.StatusOK)
}

func (r *Runner) checkHealth(ctx context.Context) error {
	body, err := r.Health(ctx)
	if err != nil {
		return err
	}
	return expect(body, "status", "ok")
}

func (r *Runner) checkRegister(ctx context.Context) error {
	body, err := r.call(ctx, http.MethodPost, "/api/auth/register", map[string]any{
		"email":        r.email,
		"password":     r.password,
		"display_name": "Smoke Test",
	}, http.StatusCreated)
	if err != nil {
		return err
	}
	return expect(body, "user.email", r.email)
}

func (r *Runner) checkLogin(ctx context.Context) error {
	body, err := r.call(ctx, http.MethodPost, "/api/auth/login", map[string]any{
		"email":    r.email,
		"password": r.password,
	}, http.StatusOK)
	if err != nil {
		return err
	}
	r.token = body.Get("token").String()
	if r.token == "" {
		return errors.New("login response has no token")
	}
	return nil
}

func (r *Runner) checkMe(ctx context.Context) error {
	body, err := r.call(ctx, http.MethodGet, "/api/auth/me", nil, http.StatusOK)
	if err != nil {
		return err
	}
	return expect(body, "user.email", r.email)
}

func (r *Runner) checkCreateExpense(ctx context.Context) error {
	body, err := r.call(ctx, http.MethodPost, "/api/expenses", map[string]any{
		"amount":   "12.34",
		"category": "supplies",
		"vendor":   "Smoke Hardware",
	}, http.StatusCreated)
	if err != nil {
		return err
	}
	r.expenseID = body.Get("id").String()
	if r.expenseID == "" {
		return errors.New("created expense has no id")
	}
	return expect(body, "amount", "12.34")
}

func (r *Runner) checkListExpenses(ctx context.Context) error {
	body, err := r.call(ctx, http.MethodGet, "/api/expenses", nil, http.StatusOK)
	if err != nil {
		return err
	}
	for _, e := range body.Get("expenses").Array() {
		if e.Get("id").String() == r.expenseID {
			return nil
		}
	}
	return fmt.Errorf("expense %s not listed", r.expenseID)
}

func (r *Runner) checkChecklist(ctx context.Context) error {
	body, err := r.call(ctx, http.MethodGet, "/api/onboarding/checklist", nil, http.StatusOK)
	if err != nil {
		return err
	}
	done := body.Get(`items.#(key=="add_first_expense").completed`)
	if !done.Bool() {
		return errors.New("add_first_expense is not completed")
	}
	return nil
}

func (r *Runner) checkFeedback(ctx context.Context) error {
	body, err := r.call(ctx, http.MethodPost, "/api/onboarding/feedback", map[string]any{
		"rating":  5,
		"message": "smoke test",
		"page":    "smoke",
	}, http.StatusCreated)
	if err != nil {
		return err
	}
	return expect(body, "rating", "5")
}

func (r *Runner) checkChat(ctx context.Context) error {
	body, err := r.call(ctx, http.MethodPost, "/api/cora-chat/", map[string]any{
		"message": "How much does CORA cost?",
		"state":   r.chatState,
	}, http.StatusOK)
	if err != nil {
		return err
	}
	if body.Get("reply").String() == "" {
		return errors.New("chat reply is empty")
	}
	r.chatState = body.Get("state").String()
	return expect(body, "message_count", "1")
}

func (r *Runner) checkLogout(ctx context.Context) error {
	if _, err := r.call(ctx, http.MethodPost, "/api/auth/logout", nil, http.StatusNoContent); err != nil {
		return err
	}
	// The revoked token must no longer authenticate.
	_, err := r.call(ctx, http.MethodGet, "/api/auth/me", nil, http.StatusUnauthorized)
	return err
}

// call sends a request and checks the status code. The bearer token is sent
// once login has succeeded.
func (r *Runner) call(ctx context.Context, method, path string, body any, want int) (gjson.Result, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to send request to %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != want {
		msg := gjson.GetBytes(raw, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return gjson.Result{}, fmt.Errorf("%s %s: want status %d, got %d: %s", method, path, want, resp.StatusCode, msg)
	}
	if len(bytes.TrimSpace(raw)) > 0 && !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%s %s: response is not valid JSON", method, path)
	}
	return gjson.ParseBytes(raw), nil
}

func expect(body gjson.Result, path, want string) error {
	if got := body.Get(path).String(); got != want {
		return fmt.Errorf("%s: want %q, got %q", path, want, got)
	}
	return nil
}
