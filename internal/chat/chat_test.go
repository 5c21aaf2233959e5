package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cora-hq/cora/internal/compression"
)

func newCodec(t *testing.T) *compression.Codec {
	t.Helper()
	codec, err := compression.New([]byte("chat-test-key"))
	require.NoError(t, err)
	t.Cleanup(codec.Close)
	return codec
}

func defaultLimits() Limits {
	return Limits{
		TokenBudget:           1024,
		AnonymousMessageLimit: 3,
		SignupPromptAfter:     2,
		MaxMessageLength:      50,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"Hello there!", IntentGreeting},
		{"How much does it cost?", IntentPricing},
		{"What's your PRICING?", IntentPricing},
		{"Can it split a receipt?", IntentFeatures},
		{"How do I sign up", IntentSignup},
		{"hi, I want to create an account", IntentSignup},
		{"Is this deductible on my Schedule C?", IntentTax},
		{"the app is broken", IntentSupport},
		{"purple elephants", IntentFallback},
		{"", IntentFallback},
		{"this", IntentFallback},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.message))
		})
	}
}

func TestHandleNewConversation(t *testing.T) {
	svc := NewService(nil, newCodec(t), defaultLimits())

	resp, err := svc.Handle(context.Background(), Request{Message: "hello"}, true)
	require.NoError(t, err)
	assert.Equal(t, IntentGreeting, resp.Intent)
	assert.Equal(t, 1, resp.MessageCount)
	assert.False(t, resp.SuggestSignup)
	assert.NotEmpty(t, resp.Reply)
	assert.NotEmpty(t, resp.State)

	resp, err = svc.Handle(context.Background(), Request{Message: "pricing?", State: resp.State}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.MessageCount)
	assert.True(t, resp.SuggestSignup)

	var state State
	require.NoError(t, svc.codec.Decode(resp.State, &state))
	require.Len(t, state.History, 4)
	assert.Equal(t, RoleUser, state.History[2].Role)
	assert.Equal(t, "pricing?", state.History[2].Content)
}

func TestHandleValidation(t *testing.T) {
	svc := NewService(nil, newCodec(t), defaultLimits())
	ctx := context.Background()

	_, err := svc.Handle(ctx, Request{Message: "   "}, true)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.Handle(ctx, Request{Message: strings.Repeat("é", 51)}, true)
	assert.ErrorIs(t, err, ErrMessageTooLong)

	_, err = svc.Handle(ctx, Request{Message: strings.Repeat("é", 50)}, true)
	assert.NoError(t, err)

	_, err = svc.Handle(ctx, Request{Message: "hi", State: "garbage"}, true)
	assert.ErrorIs(t, err, ErrInvalidState)

	other, err := compression.New([]byte("another-key"))
	require.NoError(t, err)
	defer other.Close()
	forged, err := other.Encode(State{MessageCount: 0})
	require.NoError(t, err)
	_, err = svc.Handle(ctx, Request{Message: "hi", State: forged}, true)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAnonymousLimit(t *testing.T) {
	svc := NewService(nil, newCodec(t), defaultLimits())
	ctx := context.Background()

	token, err := svc.codec.Encode(State{MessageCount: 3})
	require.NoError(t, err)

	_, err = svc.Handle(ctx, Request{Message: "hi", State: token}, true)
	assert.ErrorIs(t, err, ErrLimitReached)

	resp, err := svc.Handle(ctx, Request{Message: "hi", State: token}, false)
	require.NoError(t, err)
	assert.Equal(t, 4, resp.MessageCount)
	assert.False(t, resp.SuggestSignup)
}

func TestHistoryTrimmedToBudget(t *testing.T) {
	limits := defaultLimits()
	limits.TokenBudget = 40
	limits.AnonymousMessageLimit = 0
	svc := NewService(nil, newCodec(t), limits)
	ctx := context.Background()

	var token string
	for i := 0; i < 10; i++ {
		resp, err := svc.Handle(ctx, Request{Message: "tell me about features", State: token}, true)
		require.NoError(t, err)
		token = resp.State
	}

	var state State
	require.NoError(t, svc.codec.Decode(token, &state))
	assert.Equal(t, 10, state.MessageCount)

	total := 0
	for _, turn := range state.History {
		total += (len([]rune(turn.Content)) + 3) / 4
	}
	assert.LessOrEqual(t, total, 40)

	var users int
	for _, turn := range state.History {
		if turn.Role == RoleUser {
			users++
		}
	}
	assert.GreaterOrEqual(t, users, 1)
}

func TestNewestMessageKeptOverBudget(t *testing.T) {
	limits := defaultLimits()
	limits.TokenBudget = 100
	limits.MaxMessageLength = 1000
	svc := NewService(nil, newCodec(t), limits)
	ctx := context.Background()

	first, err := svc.Handle(ctx, Request{Message: "hello"}, false)
	require.NoError(t, err)

	long := strings.TrimSpace(strings.Repeat("receipt ", 75)) + " ok?"
	require.Equal(t, 603, len([]rune(long)))
	resp, err := svc.Handle(ctx, Request{Message: long, State: first.State}, false)
	require.NoError(t, err)

	var state State
	require.NoError(t, svc.codec.Decode(resp.State, &state))
	require.Len(t, state.History, 1)
	assert.Equal(t, Turn{Role: RoleUser, Content: long}, state.History[0])

	// The next short exchange fits again alongside the newest question.
	resp, err = svc.Handle(ctx, Request{Message: "thanks", State: resp.State}, false)
	require.NoError(t, err)
	state = State{}
	require.NoError(t, svc.codec.Decode(resp.State, &state))
	require.NotEmpty(t, state.History)
	var newest Turn
	for _, turn := range state.History {
		if turn.Role == RoleUser {
			newest = turn
		}
	}
	assert.Equal(t, "thanks", newest.Content)
}

type failingResponder struct{}

func (failingResponder) Reply(context.Context, []Turn, string) (Reply, error) {
	return Reply{}, errors.New("upstream down")
}

func (failingResponder) Name() string { return "failing" }

func TestFallbackToRules(t *testing.T) {
	svc := NewService(failingResponder{}, newCodec(t), defaultLimits())
	resp, err := svc.Handle(context.Background(), Request{Message: "what does it cost"}, false)
	require.NoError(t, err)
	assert.Equal(t, IntentPricing, resp.Intent)
	assert.Equal(t, cannedReplies[IntentPricing], resp.Reply)
}

func TestAnthropicResponder(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("Anthropic-Version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":" CORA starts free. "}]}`))
	}))
	defer srv.Close()

	a, err := NewAnthropic("test-key", "claude-test", srv.URL)
	require.NoError(t, err)

	history := []Turn{
		{Role: RoleAssistant, Content: "orphan"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}
	reply, err := a.Reply(context.Background(), history, "how much is it?")
	require.NoError(t, err)
	assert.Equal(t, "CORA starts free.", reply.Text)
	assert.Equal(t, IntentPricing, reply.Intent)

	assert.Equal(t, "claude-test", got.Model)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, RoleUser, got.Messages[0].Role)
	assert.Equal(t, "how much is it?", got.Messages[2].Content)
}

func TestAnthropicErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	a, err := NewAnthropic("k", "m", srv.URL)
	require.NoError(t, err)
	_, err = a.Reply(context.Background(), nil, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow down")

	_, err = NewAnthropic("", "m", "")
	assert.Error(t, err)
}

func TestConversationMergesSameRole(t *testing.T) {
	msgs := conversation([]Turn{{Role: RoleUser, Content: "a"}}, "b")
	require.Len(t, msgs, 1)
	assert.Equal(t, "a\n\nb", msgs[0].Content)
}
