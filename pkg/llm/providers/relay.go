package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/forgeflow/forgeflow/pkg/errors"
	"github.com/forgeflow/forgeflow/pkg/llm"
)

// Relay is the chat-relay transport: a single prompt is posted to an
// external chat endpoint and the reply comes back whole. No streaming,
// no continuation (the relay always reports a terminal stop).
type Relay struct {
	url       string
	sessionID string
	client    *http.Client
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRelayHTTPClient overrides the HTTP client (mainly for tests).
func WithRelayHTTPClient(c *http.Client) RelayOption {
	return func(r *Relay) { r.client = c }
}

// WithSessionID pins the relay session instead of minting one per provider.
func WithSessionID(id string) RelayOption {
	return func(r *Relay) { r.sessionID = id }
}

// NewRelay creates a chat-relay provider for the given endpoint URL.
func NewRelay(url string, opts ...RelayOption) *Relay {
	r := &Relay{
		url:       url,
		sessionID: uuid.NewString(),
		client:    &http.Client{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the provider identifier.
func (r *Relay) Name() string { return "relay" }

// relayRequest is the relay wire request.
type relayRequest struct {
	Message      string `json:"message"`
	SessionID    string `json:"sessionId"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// relayResponse is the relay wire response.
type relayResponse struct {
	Reply string `json:"reply"`
}

// Complete posts the final message's content as the relay prompt, with the
// first system message (if any) carried as the wire systemPrompt. The relay
// holds no other history; intermediate messages are the caller's concern
// and are not transmitted.
func (r *Relay) Complete(ctx context.Context, messages []llm.Message) (llm.Response, error) {
	if len(messages) == 0 {
		return llm.Response{}, &errors.ProviderError{Provider: r.Name(), Message: "no messages to send"}
	}
	prompt := messages[len(messages)-1].Content

	var system string
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			system = m.Content
			break
		}
	}

	payload, err := json.Marshal(relayRequest{Message: prompt, SessionID: r.sessionID, SystemPrompt: system})
	if err != nil {
		return llm.Response{}, &errors.ProviderError{Provider: r.Name(), Message: fmt.Sprintf("marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return llm.Response{}, &errors.ProviderError{Provider: r.Name(), Message: fmt.Sprintf("create request: %v", err), Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return llm.Response{}, &errors.ProviderError{Provider: r.Name(), Message: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return llm.Response{}, &errors.ProviderError{
			Provider:   r.Name(),
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	var rr relayResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return llm.Response{}, &errors.ProviderError{Provider: r.Name(), Message: fmt.Sprintf("decode response: %v", err), Cause: err}
	}

	return llm.Response{Content: rr.Reply, FinishReason: llm.FinishStop}, nil
}

// Compile-time interface check.
var _ llm.Provider = (*Relay)(nil)
