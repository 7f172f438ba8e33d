package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/webitel/im-support-bot/internal/domain/model"
	"github.com/webitel/im-support-bot/internal/domain/registry"
	"github.com/webitel/im-support-bot/internal/service"
	"github.com/webitel/im-support-bot/internal/store"
)

type recordingReceiver struct {
	mu     sync.Mutex
	bodies [][]byte
	ack    service.AckDecision
}

func (r *recordingReceiver) Receive(_ context.Context, raw []byte) service.AckDecision {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, raw)
	return r.ack
}

type staticBreakers map[string]string

func (s staticBreakers) States() map[string]string { return s }

type staticHub model.HubStats

func (s staticHub) Stats() model.HubStats { return model.HubStats(s) }

func newTestHandler(recv Receiver, cfg HandlerConfig) http.Handler {
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = time.Second
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 1 << 10
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewWebhookHandler(recv, staticBreakers{"platform": "closed"}, staticHub{}, cfg, logger)
	return h.Routes()
}

func post(t *testing.T, h http.Handler, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, EventPath, bytes.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEvent_EchoesChallenge(t *testing.T) {
	recv := &recordingReceiver{ack: service.AckDecision{Challenge: "abc123"}}
	rec := post(t, newTestHandler(recv, HandlerConfig{}), []byte(`{"type":"url_verification","challenge":"abc123"}`), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"challenge":"abc123"}`, rec.Body.String())
}

func TestEvent_AcknowledgesEverythingElse(t *testing.T) {
	recv := &recordingReceiver{ack: service.AckDecision{Dropped: true}}
	rec := post(t, newTestHandler(recv, HandlerConfig{}), []byte(`not json`), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"code":0}`, rec.Body.String())
	require.Len(t, recv.bodies, 1)
}

func TestEvent_OversizedBodyIsAcknowledgedWithoutProcessing(t *testing.T) {
	recv := &recordingReceiver{}
	rec := post(t, newTestHandler(recv, HandlerConfig{MaxBodyBytes: 16}), bytes.Repeat([]byte("x"), 64), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"code":0}`, rec.Body.String())
	require.Empty(t, recv.bodies)
}

func TestEvent_SignatureChecked(t *testing.T) {
	recv := &recordingReceiver{}
	h := newTestHandler(recv, HandlerConfig{EncryptKey: "secret"})
	body := []byte(`{"schema":"2.0"}`)

	rec := post(t, h, body, http.Header{
		HeaderTimestamp: {"1700000000"},
		HeaderNonce:     {"n1"},
		HeaderSignature: {"deadbeef"},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, recv.bodies)

	rec = post(t, h, body, http.Header{
		HeaderTimestamp: {"1700000000"},
		HeaderNonce:     {"n1"},
		HeaderSignature: {Sign("1700000000", "n1", "secret", body)},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, recv.bodies, 1)
	require.Equal(t, body, recv.bodies[0])
}

func TestHealth_ReportsDegradedBreaker(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewWebhookHandler(&recordingReceiver{},
		staticBreakers{"platform": "open", "generation": "closed"},
		staticHub{ActiveConversations: 2},
		HandlerConfig{AckTimeout: time.Second, MaxBodyBytes: 1024}, logger)

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, HealthPath, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "degraded", body.Status)
	require.Equal(t, "open", body.Breakers["platform"])
	require.Equal(t, 2, body.Hub.ActiveConversations)
}

func TestEvent_AckReturnsBeforeProcessingFinishes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	release := make(chan struct{})
	processed := make(chan string, 1)

	hub := registry.NewHub(func(_ context.Context, ev *model.InboundEvent) {
		<-release
		processed <- ev.Text
	})
	hub.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
	})

	intake := service.NewIntake(store.NewDedupSet(16, time.Hour), hub, "", logger)
	h := newTestHandler(intake, HandlerConfig{MaxBodyBytes: 1 << 16})

	body := `{"schema":"2.0","header":{"event_id":"ev-1","event_type":"im.message.receive_v1"},` +
		`"event":{"sender":{"sender_id":{"open_id":"ou_1"},"sender_type":"user"},` +
		`"message":{"message_id":"om_1","chat_id":"oc_1","message_type":"text","content":"{\"text\":\"hello there\"}"}}}`

	rec := post(t, h, []byte(body), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `"code":0`))

	select {
	case <-processed:
		t.Fatal("processed before release")
	default:
	}
	close(release)

	select {
	case text := <-processed:
		require.Equal(t, "hello there", text)
	case <-time.After(2 * time.Second):
		t.Fatal("event never processed")
	}
}
