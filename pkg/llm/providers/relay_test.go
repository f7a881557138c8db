package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeflow/forgeflow/pkg/errors"
	"github.com/forgeflow/forgeflow/pkg/llm"
)

func TestRelayComplete(t *testing.T) {
	var captured relayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(relayResponse{Reply: "relayed answer"})
	}))
	defer srv.Close()

	p := NewRelay(srv.URL, WithSessionID("session-1"))
	resp, err := p.Complete(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "the prompt"},
	})
	require.NoError(t, err)

	assert.Equal(t, "relayed answer", resp.Content)
	assert.Equal(t, llm.FinishStop, resp.FinishReason)
	assert.Equal(t, "the prompt", captured.Message)
	assert.Equal(t, "session-1", captured.SessionID)
}

func TestRelaySendsLastMessage(t *testing.T) {
	var captured relayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(relayResponse{Reply: "ok"})
	}))
	defer srv.Close()

	p := NewRelay(srv.URL)
	_, err := p.Complete(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "system"},
		{Role: llm.RoleUser, Content: "actual prompt"},
	})
	require.NoError(t, err)
	assert.Equal(t, "actual prompt", captured.Message)
	assert.Equal(t, "system", captured.SystemPrompt)
}

func TestRelayOmitsSystemPromptWhenAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, present := raw["systemPrompt"]
		assert.False(t, present, "systemPrompt must be omitted from the wire request")
		_ = json.NewEncoder(w).Encode(relayResponse{Reply: "ok"})
	}))
	defer srv.Close()

	p := NewRelay(srv.URL)
	_, err := p.Complete(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "q"}})
	require.NoError(t, err)
}

func TestRelayHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewRelay(srv.URL)
	_, err := p.Complete(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "q"}})
	require.Error(t, err)

	var perr *errors.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusBadGateway, perr.StatusCode)
}

func TestRelayNoMessages(t *testing.T) {
	p := NewRelay("http://unused.invalid")
	_, err := p.Complete(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsProvider(err))
}
