package model

import "time"

type EventType int16

const (
	// [ZERO_VALUE_GUARD] Unknown payloads keep the zero value and are dropped by intake.
	EventUnknown EventType = iota
	EventURLVerification
	EventMessageReceived
	EventCardAction
)

func (t EventType) String() string {
	switch t {
	case EventURLVerification:
		return "url_verification"
	case EventMessageReceived:
		return "message_received"
	case EventCardAction:
		return "card_action"
	default:
		return "unknown"
	}
}

// Card action values recognized by the dispatch pipeline.
const (
	ActionKey          = "action"
	ActionCreateTicket = "create_ticket"
	ActionAsk          = "ask"
	ActionCategoryKey  = "category"
	ActionTextKey      = "text"
)

// InboundEvent is a decoded platform webhook delivery.
// It is immutable once received; only its ID outlives processing (inside the dedup set).
type InboundEvent struct {
	ID             string
	Type           EventType
	ConversationID string
	SenderID       string
	MessageID      string
	Text           string
	Challenge      string
	// Action carries the value map of a card button for EventCardAction.
	Action     map[string]string
	ReceivedAt time.Time
	Raw        []byte
}

// IsTerminal reports whether the acknowledgment itself is the full response.
func (e *InboundEvent) IsTerminal() bool {
	return e.Type == EventURLVerification
}
