package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ContinuePrompt is appended as a user message when a completion is
// truncated by the token limit.
const ContinuePrompt = "Continue directly from the previous content, ensure seamless continuation, correct syntax, no repetition, do not acknowledge — just continue."

// DefaultMaxContinuations is the ceiling on continuation rounds after the
// initial request.
const DefaultMaxContinuations = 8

// Client wraps a Provider with the continuation protocol: when a round
// finishes with a length reason, the accumulated assistant content and the
// continue prompt are appended to the original message list and the request
// is re-issued, until a terminal reason arrives or the ceiling is hit.
type Client struct {
	provider         Provider
	maxContinuations int
	logger           *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMaxContinuations overrides the continuation ceiling.
func WithMaxContinuations(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxContinuations = n
		}
	}
}

// WithLogger sets the logger used for continuation diagnostics.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a continuation-aware client around a provider.
func NewClient(p Provider, opts ...ClientOption) *Client {
	c := &Client{
		provider:         p,
		maxContinuations: DefaultMaxContinuations,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the underlying provider's name.
func (c *Client) Name() string { return c.provider.Name() }

// Complete runs the continuation loop. The continuation prompt never
// appears in the returned content; the result is exactly the concatenation
// of every round's content in order.
func (c *Client) Complete(ctx context.Context, messages []Message) (Result, error) {
	var accumulated strings.Builder

	for round := 0; ; round++ {
		msgs := messages
		if round > 0 {
			// Rebuild from the original list each round so the
			// assistant message always carries the full accumulated
			// content, not a chain of partial fragments.
			msgs = make([]Message, 0, len(messages)+2)
			msgs = append(msgs, messages...)
			msgs = append(msgs,
				Message{Role: RoleAssistant, Content: accumulated.String()},
				Message{Role: RoleUser, Content: ContinuePrompt},
			)
		}

		resp, err := c.provider.Complete(ctx, msgs)
		if err != nil {
			return Result{}, err
		}
		accumulated.WriteString(resp.Content)

		if resp.FinishReason.Terminal() {
			return Result{Content: accumulated.String()}, nil
		}

		if round >= c.maxContinuations {
			warning := fmt.Sprintf("continuation ceiling reached after %d rounds, response may be truncated", round+1)
			c.logger.Warn("continuation ceiling reached",
				slog.String("provider", c.provider.Name()),
				slog.Int("rounds", round+1),
			)
			return Result{Content: accumulated.String(), Warning: warning}, nil
		}

		c.logger.Debug("continuing truncated completion",
			slog.String("provider", c.provider.Name()),
			slog.Int("round", round+1),
		)
	}
}

// Compile-time interface check.
var _ Completer = (*Client)(nil)
