package chat

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
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 400
)

const salesPrompt = `You are Cora, the friendly sales assistant for CORA, an expense-tracking app for contractors and small businesses.
Answer in two to four short sentences. Stay on the topics of CORA's features, pricing, onboarding and general bookkeeping habits.
Pricing: free to start, Pro is $15/month with receipt splitting, reports and exports, cancel anytime.
Never give specific tax or legal advice; suggest talking to a tax professional instead.
When the visitor seems interested, invite them to create an account.`

// Anthropic answers with the Anthropic Messages API.
type Anthropic struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropic creates an Anthropic responder. An empty baseURL uses the public API.
func NewAnthropic(apiKey, model, baseURL string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic API key required")
	}
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &Anthropic{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}, nil
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Name implements Responder.
func (a *Anthropic) Name() string { return "anthropic" }

// Reply implements Responder. The intent comes from keyword classification.
func (a *Anthropic) Reply(ctx context.Context, history []Turn, message string) (Reply, error) {
	req := anthropicRequest{
		Model:     a.model,
		MaxTokens: anthropicMaxTokens,
		System:    salesPrompt,
		Messages:  conversation(history, message),
	}
	jsonData, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return Reply{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", a.apiKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return Reply{}, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Reply{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp anthropicError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return Reply{}, fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return Reply{}, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Reply{}, fmt.Errorf("failed to parse response: %w", err)
	}
	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return Reply{}, errors.New("empty response from API")
	}

	return Reply{Text: strings.TrimSpace(text.String()), Intent: Classify(message)}, nil
}

// conversation converts history into alternating user/assistant messages
// starting with a user turn, followed by the new message.
func conversation(history []Turn, message string) []anthropicMessage {
	var msgs []anthropicMessage
	for _, turn := range history {
		if turn.Role != RoleUser && turn.Role != RoleAssistant {
			continue
		}
		if len(msgs) == 0 && turn.Role != RoleUser {
			continue
		}
		if n := len(msgs); n > 0 && msgs[n-1].Role == turn.Role {
			msgs[n-1].Content += "\n\n" + turn.Content
			continue
		}
		msgs = append(msgs, anthropicMessage{Role: turn.Role, Content: turn.Content})
	}
	if n := len(msgs); n > 0 && msgs[n-1].Role == RoleUser {
		msgs[n-1].Content += "\n\n" + message
		return msgs
	}
	return append(msgs, anthropicMessage{Role: RoleUser, Content: message})
}
