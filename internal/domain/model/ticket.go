package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TicketIDPrefix is prepended to every generated ticket identifier.
const TicketIDPrefix = "TKT-"

// Ticket is the record handed to the ticketing collaborator.
type Ticket struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SessionID      string    `json:"session_id"`
	SenderID       string    `json:"sender_id"`
	Category       string    `json:"category"`
	InitialMessage string    `json:"initial_message"`
	Description    string    `json:"description"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewTicketID returns a short human-friendly id like TKT-1A2B3C4D.
func NewTicketID() string {
	return TicketIDPrefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Summary joins the escalation trigger and the follow-up into one description.
func (t Ticket) Summary() string {
	switch {
	case t.InitialMessage == "":
		return t.Description
	case t.Description == "":
		return t.InitialMessage
	default:
		return t.InitialMessage + "\n\n" + t.Description
	}
}
