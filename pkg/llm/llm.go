// Package llm provides the chat-completion client contract used by step
// execution. It defines a transport-agnostic Provider interface, the
// continuation protocol for truncated streaming completions, and fenced
// code extraction.
package llm

import "context"

// Provider is a single chat-completion transport. Implementations hold no
// mutable state between calls and are safe for concurrent use.
type Provider interface {
	// Name returns the unique identifier for this provider (e.g. "relay", "qianwen").
	Name() string

	// Complete sends one completion request and blocks until the full
	// response is assembled (streaming transports consume the stream
	// internally).
	Complete(ctx context.Context, messages []Message) (Response, error)
}

// Message represents a single message in a conversation.
type Message struct {
	// Role indicates who sent this message (system, user, assistant).
	Role Role `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`
}

// Role identifies the sender of a message.
type Role string

const (
	// RoleSystem indicates a system message (context, instructions).
	RoleSystem Role = "system"

	// RoleUser indicates a message from the user.
	RoleUser Role = "user"

	// RoleAssistant indicates a message from the LLM.
	RoleAssistant Role = "assistant"
)

// Response contains the assembled output of a single completion request.
type Response struct {
	// Content is the generated text.
	Content string

	// FinishReason explains why generation stopped.
	FinishReason FinishReason
}

// FinishReason indicates why completion generation stopped.
type FinishReason string

const (
	// FinishStop indicates natural completion.
	FinishStop FinishReason = "stop"

	// FinishLength indicates the max-token limit was reached; the
	// completion is truncated and eligible for continuation.
	FinishLength FinishReason = "length"

	// FinishEndTurn is the vendor equivalent of stop used by some backends.
	FinishEndTurn FinishReason = "end_turn"

	// FinishToolCalls indicates the model requested function calls.
	FinishToolCalls FinishReason = "tool_calls"

	// FinishContentFilter indicates a content policy stop.
	FinishContentFilter FinishReason = "content_filter"
)

// Terminal reports whether the reason ends the continuation loop.
// Only a length stop is continuable.
func (f FinishReason) Terminal() bool {
	switch f {
	case FinishStop, FinishEndTurn, FinishToolCalls, FinishContentFilter:
		return true
	default:
		return false
	}
}

// Completer is the engine-facing completion surface: a Provider wrapped
// with the continuation protocol.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (Result, error)
}

// Result is a fully assembled completion, possibly spanning several
// continuation rounds.
type Result struct {
	// Content is the concatenation of all rounds' content.
	Content string

	// Warning carries a non-fatal condition (e.g. the continuation
	// ceiling was hit before a terminal finish reason).
	Warning string
}
