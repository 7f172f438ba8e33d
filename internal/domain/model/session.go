package model

import "time"

// Session is the per-conversation state owned by the conversation store.
type Session struct {
	ConversationID string
	SessionID      string
	TurnCount      int
	PendingFlow    *FlowState
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// Clone returns a deep copy so callers never share the store's internal state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.PendingFlow != nil {
		f := *s.PendingFlow
		cp.PendingFlow = &f
	}
	return &cp
}

// HasPendingFlow reports whether a ticket flow is waiting for input.
func (s *Session) HasPendingFlow() bool {
	return s != nil && s.PendingFlow != nil && s.PendingFlow.Step == FlowAwaitingDescription
}

type FlowStep int16

const (
	FlowAwaitingDescription FlowStep = iota + 1
	FlowCompleted
)

func (s FlowStep) String() string {
	switch s {
	case FlowAwaitingDescription:
		return "awaiting_description"
	case FlowCompleted:
		return "completed"
	default:
		return "none"
	}
}

// FlowState tracks an in-progress ticket creation flow.
type FlowState struct {
	Step           FlowStep
	Category       string
	InitialMessage string
	SenderID       string
	StartedAt      time.Time
}
