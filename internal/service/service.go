// Package service holds the bot's core: webhook intake, the dispatch pipeline,
// resilient delivery and the ticket collection flow.
package service

import (
	"context"

	"github.com/webitel/im-support-bot/internal/domain/model"
)

// ConversationStore owns per-conversation sessions.
// Implementations serialize operations on the same conversation.
type ConversationStore interface {
	GetOrCreate(ctx context.Context, conversationID string) (*model.Session, error)
	Get(ctx context.Context, conversationID string) (*model.Session, error)
	SetPendingFlow(ctx context.Context, conversationID string, flow model.FlowState) error
	ClearPendingFlow(ctx context.Context, conversationID string) error
	IncrementTurn(ctx context.Context, conversationID string) (int, error)
}

// ResponseCache short-circuits generation for repeated questions.
type ResponseCache interface {
	Lookup(text string) (string, bool)
	Store(text, answer string)
}

// EventDeduper remembers event ids inside the platform redelivery window.
type EventDeduper interface {
	// MarkSeen records id and reports whether it was new.
	MarkSeen(id string) bool
	Forget(id string)
}

// Scheduler runs events in the background, FIFO per conversation.
type Scheduler interface {
	Dispatch(ev *model.InboundEvent) (<-chan struct{}, error)
}

// MessagingClient is the raw platform send call. It returns the platform message id.
type MessagingClient interface {
	Send(ctx context.Context, msg model.OutboundMessage) (string, error)
}

// Generator asks the language model for a reply.
type Generator interface {
	Generate(ctx context.Context, prompt string, gctx model.GenerationContext) (string, error)
}

// TicketRepository persists tickets and returns their identifier.
type TicketRepository interface {
	CreateTicket(ctx context.Context, t model.Ticket) (string, error)
}

// Analytics is fire-and-forget; implementations must never block the caller.
type Analytics interface {
	LogMessage(ctx context.Context, ev model.AnalyticsEvent)
}

// Sender delivers a message with timeout, retry and circuit breaking.
type Sender interface {
	Send(ctx context.Context, conversationID string, msg model.OutboundMessage) (model.DeliveryAck, error)
}

// NopAnalytics discards every event.
type NopAnalytics struct{}

func (NopAnalytics) LogMessage(context.Context, model.AnalyticsEvent) {}
