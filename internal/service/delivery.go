package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/webitel/im-support-bot/config"
	"github.com/webitel/im-support-bot/infra/resilience"
	"github.com/webitel/im-support-bot/internal/domain/model"
)

// Interface guard
var _ Sender = (*Delivery)(nil)

// DeliveryError is returned once every attempt failed or a terminal error stopped the retries.
type DeliveryError struct {
	ConversationID string
	Attempts       int
	// Terminal is true when the failure was not worth retrying (4xx, open breaker).
	Terminal bool
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed after %d attempt(s): %v", e.ConversationID, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Delivery is the single resilient path for every outbound platform message.
type Delivery struct {
	client  MessagingClient
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	policy  resilience.RetryPolicy
	logger  *slog.Logger
}

func NewDelivery(client MessagingClient, breakers *resilience.Breakers, cfg config.DeliveryConfig, logger *slog.Logger) *Delivery {
	return &Delivery{
		client:  client,
		breaker: breakers.Get(resilience.DependencyPlatform),
		timeout: cfg.Timeout,
		policy: resilience.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.BackoffBase,
			MaxDelay:    cfg.BackoffMax,
			Jitter:      0.5,
		},
		logger: logger,
	}
}

// Send delivers msg to conversationID.
// [IDEMPOTENCY] Every attempt carries the same key so the platform can collapse duplicates.
func (d *Delivery) Send(ctx context.Context, conversationID string, msg model.OutboundMessage) (model.DeliveryAck, error) {
	msg.ConversationID = conversationID
	if msg.IdempotencyKey == "" {
		msg.IdempotencyKey = uuid.NewString()
	}

	start := time.Now()
	attempt := func(ctx context.Context, _ int) (string, error) {
		// [FAIL_FAST] An open breaker rejects before any network call.
		return resilience.Execute(d.breaker, func() (string, error) {
			return resilience.WithTimeout(ctx, d.timeout, func(ctx context.Context) (string, error) {
				return d.client.Send(ctx, msg)
			})
		})
	}

	messageID, attempts, err := resilience.Retry(ctx, d.policy, attempt, func(err error, wait time.Duration) {
		d.logger.Warn("DELIVERY_ATTEMPT_FAILED",
			"conversation_id", conversationID,
			"idempotency_key", msg.IdempotencyKey,
			"retry_in_ms", wait.Milliseconds(),
			"err", err,
		)
	})
	if err != nil {
		return model.DeliveryAck{Attempts: attempts}, &DeliveryError{
			ConversationID: conversationID,
			Attempts:       attempts,
			Terminal:       resilience.IsTerminal(err),
			Err:            err,
		}
	}

	d.logger.Debug("DELIVERY_SUCCEEDED",
		"conversation_id", conversationID,
		"message_id", messageID,
		"attempts", attempts,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return model.DeliveryAck{MessageID: messageID, Attempts: attempts}, nil
}
