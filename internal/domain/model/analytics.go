package model

import (
	"time"

	"github.com/google/uuid"
)

type AnalyticsKind string

const (
	AnalyticsUserMessage       AnalyticsKind = "user_message"
	AnalyticsBotMessage        AnalyticsKind = "bot_message"
	AnalyticsCacheHit          AnalyticsKind = "cache_hit"
	AnalyticsEscalationStarted AnalyticsKind = "escalation_started"
	AnalyticsTicketCreated     AnalyticsKind = "ticket_created"
	AnalyticsTicketFailed      AnalyticsKind = "ticket_failed"
	AnalyticsTicketCancelled   AnalyticsKind = "ticket_cancelled"
	AnalyticsDeliveryFailed    AnalyticsKind = "delivery_failed"
)

// IsSystem reports whether the event is a system log row rather than a chat message.
func (k AnalyticsKind) IsSystem() bool {
	return k != AnalyticsUserMessage && k != AnalyticsBotMessage
}

// AnalyticsEvent is a fire-and-forget log entry published for reporting.
type AnalyticsEvent struct {
	ID             string            `json:"id"`
	Kind           AnalyticsKind     `json:"kind"`
	ConversationID string            `json:"conversation_id"`
	SessionID      string            `json:"session_id,omitempty"`
	SenderID       string            `json:"sender_id,omitempty"`
	EventID        string            `json:"event_id,omitempty"`
	Text           string            `json:"text,omitempty"`
	Meta           map[string]string `json:"meta,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

// NewAnalyticsEvent stamps a fresh event with an ID and the current time.
func NewAnalyticsEvent(kind AnalyticsKind, conversationID string) AnalyticsEvent {
	return AnalyticsEvent{
		ID:             uuid.NewString(),
		Kind:           kind,
		ConversationID: conversationID,
		OccurredAt:     time.Now().UTC(),
	}
}

// GetRoutingKey builds the topic used by broker-backed analytics publishers.
func (e AnalyticsEvent) GetRoutingKey() string {
	return "im_support.analytics." + string(e.Kind)
}
