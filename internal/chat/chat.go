// Package chat implements the CORA sales assistant.
//
// The server keeps no conversation state. Each reply carries a signed,
// compressed snapshot of the conversation that the client sends back with
// its next message; the history inside it is trimmed to a token budget.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cora-hq/cora/internal/compression"
	"github.com/cora-hq/cora/internal/optimization"
)

// Roles of conversation turns.
const (
	RoleUser      = optimization.RoleUser
	RoleAssistant = optimization.RoleAssistant
)

var (
	ErrEmptyMessage   = errors.New("message is required")
	ErrMessageTooLong = errors.New("message is too long")
	ErrInvalidState   = errors.New("invalid conversation state")
	ErrLimitReached   = errors.New("message limit reached, create a free account to keep chatting")
)

// Turn is one message in the conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reply is a responder's answer.
type Reply struct {
	Text   string
	Intent string
}

// Responder produces replies to visitor messages.
type Responder interface {
	Reply(ctx context.Context, history []Turn, message string) (Reply, error)
	Name() string
}

// State is the snapshot carried by the client between requests.
type State struct {
	MessageCount int    `json:"message_count"`
	History      []Turn `json:"history"`
}

// Limits bound a conversation.
type Limits struct {
	TokenBudget           int
	AnonymousMessageLimit int
	SignupPromptAfter     int
	MaxMessageLength      int
}

// Request is one incoming chat message.
type Request struct {
	Message string `json:"message"`
	State   string `json:"state,omitempty"`
}

// Response is the reply to a Request.
type Response struct {
	Reply         string `json:"reply"`
	Intent        string `json:"intent"`
	MessageCount  int    `json:"message_count"`
	SuggestSignup bool   `json:"suggest_signup"`
	State         string `json:"state"`
}

// Service answers chat messages.
type Service struct {
	responder Responder
	fallback  Responder
	codec     *compression.Codec
	scorer    optimization.Scorer
	limits    Limits
}

// NewService creates a chat service. A nil responder uses the rule-based one.
func NewService(responder Responder, codec *compression.Codec, limits Limits) *Service {
	if responder == nil {
		responder = Rules{}
	}
	return &Service{
		responder: responder,
		fallback:  Rules{},
		codec:     codec,
		scorer:    optimization.DefaultScorer(),
		limits:    limits,
	}
}

// Responder returns the name of the primary responder.
func (s *Service) Responder() string {
	return s.responder.Name()
}

// Handle answers one message. Anonymous callers are subject to the message limit.
func (s *Service) Handle(ctx context.Context, req Request, anonymous bool) (*Response, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if s.limits.MaxMessageLength > 0 && utf8.RuneCountInString(message) > s.limits.MaxMessageLength {
		return nil, fmt.Errorf("%w: at most %d characters", ErrMessageTooLong, s.limits.MaxMessageLength)
	}

	var state State
	if req.State != "" {
		if err := s.codec.Decode(req.State, &state); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		if state.MessageCount < 0 {
			return nil, ErrInvalidState
		}
	}

	if anonymous && s.limits.AnonymousMessageLimit > 0 && state.MessageCount >= s.limits.AnonymousMessageLimit {
		return nil, ErrLimitReached
	}

	reply, err := s.responder.Reply(ctx, state.History, message)
	if err != nil {
		slog.Warn("chat responder failed, using rules",
			"responder", s.responder.Name(),
			"error", err,
		)
		reply, _ = s.fallback.Reply(ctx, state.History, message)
	}

	state.MessageCount++
	state.History = append(state.History,
		Turn{Role: RoleUser, Content: message},
		Turn{Role: RoleAssistant, Content: reply.Text},
	)
	state.History = s.trim(state.History)

	token, err := s.codec.Encode(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conversation state: %w", err)
	}

	return &Response{
		Reply:         reply.Text,
		Intent:        reply.Intent,
		MessageCount:  state.MessageCount,
		SuggestSignup: anonymous && s.limits.SignupPromptAfter > 0 && state.MessageCount >= s.limits.SignupPromptAfter,
		State:         token,
	}, nil
}

// trim keeps the highest-value turns that fit the token budget. The newest
// user turn is always kept, even alone over budget; the other turns share
// whatever budget it leaves.
func (s *Service) trim(history []Turn) []Turn {
	if s.limits.TokenBudget <= 0 {
		return history
	}

	newestUser := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			newestUser = i
			break
		}
	}

	budget := s.limits.TokenBudget
	candidates := make([]optimization.Candidate, 0, len(history))
	for i, turn := range history {
		if i == newestUser {
			budget -= optimization.EstimateTokens(turn.Content)
			continue
		}
		candidates = append(candidates, optimization.Candidate{
			ID:   strconv.Itoa(i),
			Role: turn.Role,
			Text: turn.Content,
		})
	}

	keep := make(map[int]bool, len(candidates)+1)
	if newestUser >= 0 {
		keep[newestUser] = true
	}
	if budget > 0 {
		for _, c := range optimization.Trim(s.scorer, candidates, budget) {
			i, _ := strconv.Atoi(c.ID)
			keep[i] = true
		}
	}

	out := make([]Turn, 0, len(keep))
	for i, turn := range history {
		if keep[i] {
			out = append(out, turn)
		}
	}
	return out
}
