package model

// Button is an interactive element attached to an outbound message.
type Button struct {
	Text  string            `json:"text"`
	Value map[string]string `json:"value"`
}

// OutboundMessage is a reply addressed to a conversation on the chat platform.
type OutboundMessage struct {
	ConversationID string
	Text           string
	Buttons        []Button
	// IdempotencyKey is reused by every attempt so the platform can collapse duplicates.
	IdempotencyKey string
}

// DeliveryAck is returned by the platform when a message is accepted.
type DeliveryAck struct {
	MessageID string
	Attempts  int
}

// GenerationContext carries session data available to the language model.
type GenerationContext struct {
	ConversationID string
	SessionID      string
	SenderID       string
	TurnCount      int
}
