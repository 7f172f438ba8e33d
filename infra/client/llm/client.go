// Package llm is a focused OpenAI-compatible chat completions client.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/webitel/im-support-bot/config"
	"github.com/webitel/im-support-bot/internal/domain/model"
)

const defaultBaseURL = "https://api.openai.com/v1"

// ErrNotConfigured is returned when no API key is set; callers fall back to a canned reply.
var ErrNotConfigured = errors.New("llm: api key is not configured")

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the minimal request shape for the Chat Completions endpoint.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	User     string        `json:"user,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index   int         `json:"index"`
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("llm: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type Client struct {
	baseURL      string
	apiKey       string
	model        string
	systemPrompt string
	httpClient   *http.Client
}

func New(cfg config.LLMConfig, httpClient *http.Client) *Client {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		baseURL:      base,
		apiKey:       strings.TrimSpace(cfg.APIKey),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		httpClient:   httpClient,
	}
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// Generate asks the model for a single reply to prompt.
func (c *Client) Generate(ctx context.Context, prompt string, gctx model.GenerationContext) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}
	if c.model == "" {
		return "", errors.New("llm: model must not be empty")
	}

	messages := make([]chatMessage, 0, 2)
	if c.systemPrompt != "" {
		system := c.systemPrompt
		if gctx.TurnCount > 0 {
			system += "\nThis conversation has " + strconv.Itoa(gctx.TurnCount) + " earlier turn(s)."
		}
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages, User: gctx.SenderID})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}

	var payload chatResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&payload); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("llm: no choices in response")
	}

	answer := strings.TrimSpace(payload.Choices[0].Message.Content)
	if answer == "" {
		return "", errors.New("llm: empty answer")
	}
	return answer, nil
}
