// Package platform talks to the chat platform's open API.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/webitel/im-support-bot/config"
	"github.com/webitel/im-support-bot/internal/domain/model"
	"golang.org/x/sync/singleflight"
)

// Interface guard
var (
	_ Messenger = (*Client)(nil)
	_ Messenger = (*LogClient)(nil)
)

const (
	tokenPath    = "/auth/v3/tenant_access_token/internal"
	messagesPath = "/im/v1/messages"

	// tokenSkew refreshes the tenant token before the platform expires it.
	tokenSkew = time.Minute
)

// Messenger sends a single message attempt and returns the platform message id.
type Messenger interface {
	Send(ctx context.Context, msg model.OutboundMessage) (string, error)
}

type Client struct {
	baseURL    string
	appID      string
	appSecret  string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	refresh   singleflight.Group
}

func New(cfg config.PlatformConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		appID:      cfg.AppID,
		appSecret:  cfg.AppSecret,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}
}

type tokenRequest struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
}

type tokenResponse struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Token  string `json:"tenant_access_token"`
	Expire int    `json:"expire"`
}

// Authenticate returns a cached tenant token, refreshing it when close to expiry.
// [SINGLE_FLIGHT] Concurrent callers share one refresh request.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, exp := c.token, c.expiresAt
	c.mu.RUnlock()
	if token != "" && c.now().Before(exp) {
		return token, nil
	}

	ch := c.refresh.DoChan("token", func() (any, error) {
		return c.fetchToken(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	body, err := json.Marshal(tokenRequest{AppID: c.appID, AppSecret: c.appSecret})
	if err != nil {
		return "", fmt.Errorf("platform: marshal token request: %w", err)
	}

	var out tokenResponse
	if err := c.do(ctx, "authenticate", http.MethodPost, c.baseURL+tokenPath, "", body, &out); err != nil {
		return "", err
	}
	if out.Code != codeOK || out.Token == "" {
		return "", &StatusError{StatusCode: http.StatusOK, Code: out.Code, Msg: out.Msg, Op: "authenticate"}
	}

	ttl := time.Duration(out.Expire)*time.Second - tokenSkew
	if ttl <= 0 {
		ttl = time.Duration(out.Expire) * time.Second / 2
	}

	c.mu.Lock()
	c.token = out.Token
	c.expiresAt = c.now().Add(ttl)
	c.mu.Unlock()

	c.logger.Debug("PLATFORM_TOKEN_REFRESHED", "expires_in_s", out.Expire)
	return out.Token, nil
}

// Invalidate drops the cached token so the next call re-authenticates.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

type sendRequest struct {
	ReceiveID string `json:"receive_id"`
	MsgType   string `json:"msg_type"`
	Content   string `json:"content"`
	UUID      string `json:"uuid,omitempty"`
}

type sendResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		MessageID string `json:"message_id"`
	} `json:"data"`
}

// Send performs one delivery attempt. Retries belong to the caller;
// the only replay here is a single re-authentication after a rejected token.
func (c *Client) Send(ctx context.Context, msg model.OutboundMessage) (string, error) {
	msgType, content, err := encodeContent(msg)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(sendRequest{
		ReceiveID: msg.ConversationID,
		MsgType:   msgType,
		Content:   content,
		UUID:      msg.IdempotencyKey,
	})
	if err != nil {
		return "", fmt.Errorf("platform: marshal message: %w", err)
	}

	id, err := c.send(ctx, body)
	var se *StatusError
	if errors.As(err, &se) && se.Unauthorized() {
		// [TOKEN_ROTATION] The cached token was revoked early.
		c.logger.Warn("PLATFORM_TOKEN_REJECTED", "code", se.Code)
		c.Invalidate()
		id, err = c.send(ctx, body)
	}
	return id, err
}

func (c *Client) send(ctx context.Context, body []byte) (string, error) {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return "", err
	}

	u := c.baseURL + messagesPath + "?" + url.Values{"receive_id_type": {"chat_id"}}.Encode()

	var out sendResponse
	if err := c.do(ctx, "send", http.MethodPost, u, token, body, &out); err != nil {
		return "", err
	}
	if out.Code != codeOK {
		return "", &StatusError{StatusCode: http.StatusOK, Code: out.Code, Msg: out.Msg, Op: "send"}
	}
	return out.Data.MessageID, nil
}

func (c *Client) do(ctx context.Context, op, method, u, token string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("platform: create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("platform: %s: %w", op, err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("platform: read %s response: %w", op, err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		se := &StatusError{StatusCode: res.StatusCode, Op: op, retryAfter: parseRetryAfter(res.Header)}
		// The platform often explains itself in the usual envelope.
		var env struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(raw, &env) == nil {
			se.Code, se.Msg = env.Code, env.Msg
		}
		if se.Msg == "" {
			se.Msg = string(raw)
		}
		return se
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("platform: decode %s response: %w", op, err)
	}
	return nil
}
