package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/webitel/im-support-bot/internal/domain/model"
	"github.com/webitel/im-support-bot/internal/service"
)

const (
	EventPath  = "/webhook/event"
	HealthPath = "/healthz"
)

// Receiver turns a raw callback body into an acknowledgment decision.
type Receiver interface {
	Receive(ctx context.Context, raw []byte) service.AckDecision
}

type BreakerReporter interface {
	States() map[string]string
}

type HubReporter interface {
	Stats() model.HubStats
}

type HandlerConfig struct {
	AckTimeout   time.Duration
	MaxBodyBytes int64
	// EncryptKey enables signature checks when non-empty.
	EncryptKey string
}

type WebhookHandler struct {
	receiver Receiver
	breakers BreakerReporter
	hub      HubReporter
	cfg      HandlerConfig
	logger   *slog.Logger
}

func NewWebhookHandler(receiver Receiver, breakers BreakerReporter, hub HubReporter, cfg HandlerConfig, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		receiver: receiver,
		breakers: breakers,
		hub:      hub,
		cfg:      cfg,
		logger:   logger,
	}
}

// Routes builds the chi router serving platform callbacks and health.
func (h *WebhookHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get(HealthPath, h.Health)
	r.Group(func(r chi.Router) {
		r.Use(VerifySignature(h.cfg.EncryptKey, h.cfg.MaxBodyBytes, h.logger))
		r.Post(EventPath, h.Event)
	})
	return r
}

type ackBody struct {
	Code int `json:"code"`
}

type challengeBody struct {
	Challenge string `json:"challenge"`
}

// Event acknowledges a platform callback. Anything that is not a verification
// request gets the same success body, so the platform never redelivers junk.
func (h *WebhookHandler) Event(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.AckTimeout)
	defer cancel()

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.WarnContext(ctx, "WEBHOOK_BODY_TOO_LARGE", "limit", tooLarge.Limit)
		} else {
			h.logger.WarnContext(ctx, "WEBHOOK_BODY_READ_FAILED", "err", err)
		}
		writeJSON(w, http.StatusOK, ackBody{})
		return
	}

	ack := h.receiver.Receive(ctx, raw)
	if ack.Challenge != "" {
		writeJSON(w, http.StatusOK, challengeBody{Challenge: ack.Challenge})
		return
	}
	writeJSON(w, http.StatusOK, ackBody{})
}

type healthBody struct {
	Status   string            `json:"status"`
	Breakers map[string]string `json:"breakers"`
	Hub      model.HubStats    `json:"hub"`
}

// Health reports "degraded" while any dependency breaker is not closed.
func (h *WebhookHandler) Health(w http.ResponseWriter, _ *http.Request) {
	body := healthBody{
		Status:   "ok",
		Breakers: h.breakers.States(),
		Hub:      h.hub.Stats(),
	}
	for _, state := range body.Breakers {
		if state != "closed" {
			body.Status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
