package llm

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider returns canned responses in order and records the
// message lists it was called with.
type scriptedProvider struct {
	responses []Response
	calls     [][]Message
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, messages []Message) (Response, error) {
	p.calls = append(p.calls, append([]Message(nil), messages...))
	resp := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return resp, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientSingleRound(t *testing.T) {
	p := &scriptedProvider{responses: []Response{
		{Content: "done", FinishReason: FinishStop},
	}}
	c := NewClient(p, WithLogger(quietLogger()))

	res, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "prompt"}})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Content)
	assert.Empty(t, res.Warning)
	assert.Len(t, p.calls, 1)
}

func TestClientContinuation(t *testing.T) {
	p := &scriptedProvider{responses: []Response{
		{Content: "first half ", FinishReason: FinishLength},
		{Content: "second half", FinishReason: FinishStop},
	}}
	c := NewClient(p, WithLogger(quietLogger()))

	res, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "prompt"}})
	require.NoError(t, err)

	// Content is the concatenation of both rounds' deltas in order.
	assert.Equal(t, "first half second half", res.Content)
	assert.Empty(t, res.Warning)

	// The continuation round carries the accumulated assistant content
	// and the fixed continue prompt; the continue prompt never appears
	// in the user-facing output.
	require.Len(t, p.calls, 2)
	second := p.calls[1]
	require.Len(t, second, 3)
	assert.Equal(t, RoleAssistant, second[1].Role)
	assert.Equal(t, "first half ", second[1].Content)
	assert.Equal(t, RoleUser, second[2].Role)
	assert.Equal(t, ContinuePrompt, second[2].Content)
	assert.NotContains(t, res.Content, ContinuePrompt)
}

func TestClientAccumulatedAssistantContent(t *testing.T) {
	p := &scriptedProvider{responses: []Response{
		{Content: "a", FinishReason: FinishLength},
		{Content: "b", FinishReason: FinishLength},
		{Content: "c", FinishReason: FinishStop},
	}}
	c := NewClient(p, WithLogger(quietLogger()))

	res, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "prompt"}})
	require.NoError(t, err)
	assert.Equal(t, "abc", res.Content)

	// The third round's assistant message holds everything so far, not
	// a chain of partial fragments.
	require.Len(t, p.calls, 3)
	third := p.calls[2]
	require.Len(t, third, 3)
	assert.Equal(t, "ab", third[1].Content)
}

func TestClientCeiling(t *testing.T) {
	p := &scriptedProvider{responses: []Response{
		{Content: "x", FinishReason: FinishLength},
	}}
	c := NewClient(p, WithMaxContinuations(2), WithLogger(quietLogger()))

	res, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "prompt"}})
	require.NoError(t, err)

	// Initial round plus two continuations, then give up with a warning.
	assert.Equal(t, "xxx", res.Content)
	assert.NotEmpty(t, res.Warning)
	assert.Len(t, p.calls, 3)
}

func TestFinishReasonTerminal(t *testing.T) {
	terminal := []FinishReason{FinishStop, FinishEndTurn, FinishToolCalls, FinishContentFilter}
	for _, f := range terminal {
		assert.True(t, f.Terminal(), "expected %q to be terminal", f)
	}
	assert.False(t, FinishLength.Terminal())
}
