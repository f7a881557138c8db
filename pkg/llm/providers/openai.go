// Package providers contains the concrete LLM transports: the chat relay
// and the direct OpenAI-compatible streaming client.
package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/forgeflow/forgeflow/pkg/errors"
	"github.com/forgeflow/forgeflow/pkg/llm"
)

// OpenAIStream is a streaming client for any OpenAI-compatible chat
// completions API. It consumes SSE token deltas until a finish_reason
// arrives and returns the assembled content.
//
// Works with OpenAI, DeepSeek, Qianwen/DashScope, and any other backend
// that implements the chat completions wire format.
type OpenAIStream struct {
	name    string
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// OpenAIOption configures an OpenAIStream.
type OpenAIOption func(*OpenAIStream)

// WithHTTPClient overrides the HTTP client (mainly for tests).
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(p *OpenAIStream) { p.client = c }
}

// NewOpenAIStream creates a streaming provider. name identifies the variant
// in logs and errors ("qianwen", "deepseek"); baseURL is the API base, the
// /chat/completions path is appended automatically.
func NewOpenAIStream(name, apiKey, model, baseURL string, opts ...OpenAIOption) *OpenAIStream {
	p := &OpenAIStream{
		name:    name,
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *OpenAIStream) Name() string { return p.name }

// chatRequest is the OpenAI chat completions request body.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
}

// chatChunk is one streamed SSE payload.
type chatChunk struct {
	Choices []chunkChoice `json:"choices"`
}

type chunkChoice struct {
	Delta        *chunkDelta `json:"delta,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// chunkDelta carries the incremental content. ReasoningContent is emitted
// by some backends as diagnostic chain-of-thought and is discarded.
type chunkDelta struct {
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// Complete issues a streaming request and consumes the SSE stream until a
// finish_reason arrives. A stream that ends without one is malformed.
func (p *OpenAIStream) Complete(ctx context.Context, messages []llm.Message) (llm.Response, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return llm.Response{}, &errors.ProviderError{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return llm.Response{}, &errors.ProviderError{Provider: p.name, Message: fmt.Sprintf("create request: %v", err), Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return llm.Response{}, &errors.ProviderError{Provider: p.name, Message: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return llm.Response{}, &errors.ProviderError{
			Provider:   p.name,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	return p.consumeStream(resp.Body)
}

// consumeStream reads SSE lines, concatenating delta.content across chunks.
//
// SSE format expected:
//
//	data: {"choices":[{"delta":{"content":"..."}}]}\n
//	data: [DONE]\n
func (p *OpenAIStream) consumeStream(body io.Reader) (llm.Response, error) {
	scanner := bufio.NewScanner(body)
	// Large SSE payloads exceed the default scanner buffer.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var content strings.Builder
	var finish llm.FinishReason

	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if data == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta != nil && choice.Delta.Content != "" {
			content.WriteString(choice.Delta.Content)
		}
		if choice.FinishReason != "" {
			finish = llm.FinishReason(choice.FinishReason)
		}
	}

	if err := scanner.Err(); err != nil {
		return llm.Response{}, &errors.ProviderError{Provider: p.name, Message: fmt.Sprintf("read stream: %v", err), Cause: err}
	}
	if finish == "" {
		return llm.Response{}, &errors.ProviderError{Provider: p.name, Message: "stream ended without a finish reason"}
	}

	return llm.Response{Content: content.String(), FinishReason: finish}, nil
}

// Compile-time interface check.
var _ llm.Provider = (*OpenAIStream)(nil)
