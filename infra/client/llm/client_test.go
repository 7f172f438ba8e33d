package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/webitel/im-support-bot/config"
	"github.com/webitel/im-support-bot/internal/domain/model"
)

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

func TestGenerate_Success(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"c1","choices":[{"index":0,"message":{"role":"assistant","content":"  Restart the router.  "}}]}`))
	}))
	defer srv.Close()

	c := New(config.LLMConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-test", SystemPrompt: "be brief"}, srv.Client())

	answer, err := c.Generate(context.Background(), "wifi is slow", model.GenerationContext{SenderID: "ou_1", TurnCount: 2})
	require.NoError(t, err)
	require.Equal(t, "Restart the router.", answer)

	require.Equal(t, "gpt-test", got.Model)
	require.Equal(t, "ou_1", got.User)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Contains(t, got.Messages[0].Content, "2 earlier turn(s)")
	require.Equal(t, "wifi is slow", got.Messages[1].Content)
}

func TestGenerate_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(config.LLMConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-test"}, srv.Client())

	_, err := c.Generate(context.Background(), "hi", model.GenerationContext{})
	var se *HTTPStatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusServiceUnavailable, se.HTTPStatusCode())
}

func TestGenerate_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := New(config.LLMConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-test"}, srv.Client())

	_, err := c.Generate(context.Background(), "hi", model.GenerationContext{})
	require.ErrorContains(t, err, "no choices")
}

func TestGenerate_NotConfigured(t *testing.T) {
	c := New(config.LLMConfig{}, http.DefaultClient)

	_, err := c.Generate(context.Background(), "hi", model.GenerationContext{})
	require.ErrorIs(t, err, ErrNotConfigured)
}
