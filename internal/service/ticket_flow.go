package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/webitel/im-support-bot/config"
	"github.com/webitel/im-support-bot/infra/resilience"
	"github.com/webitel/im-support-bot/internal/domain/model"
)

// DefaultTicketCategory is used when a ticket is opened without a matching rule.
const DefaultTicketCategory = "general"

// TicketFlow turns an escalation into a two-step ticket collection dialog.
//
//	(none) --Start--> AwaitingDescription --Continue--> Completed --> (none)
//	                  AwaitingDescription --cancel word--> (none)
//
// Completed is never stored: the flow is removed from the session as soon as it is reached.
type TicketFlow struct {
	sessions  ConversationStore
	tickets   TicketRepository
	analytics Analytics
	matcher   *Matcher
	replies   config.RepliesConfig
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewTicketFlow(
	sessions ConversationStore,
	tickets TicketRepository,
	analytics Analytics,
	matcher *Matcher,
	replies config.RepliesConfig,
	timeout time.Duration,
	logger *slog.Logger,
) *TicketFlow {
	return &TicketFlow{
		sessions:  sessions,
		tickets:   tickets,
		analytics: analytics,
		matcher:   matcher,
		replies:   replies,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}
}

// Start puts the conversation into AwaitingDescription and returns the prompt.
// Calling it again overwrites the pending flow with the latest message and category.
func (f *TicketFlow) Start(ctx context.Context, conversationID, senderID, initialMessage, category string) string {
	if category == "" {
		category = DefaultTicketCategory
	}

	err := f.sessions.SetPendingFlow(ctx, conversationID, model.FlowState{
		Step:           model.FlowAwaitingDescription,
		Category:       category,
		InitialMessage: initialMessage,
		SenderID:       senderID,
		StartedAt:      f.now(),
	})
	if err != nil {
		f.logger.Error("TICKET_FLOW_START_FAILED",
			"conversation_id", conversationID,
			"category", category,
			"err", err,
		)
		return f.replies.TicketFailed
	}

	ev := f.event(ctx, model.AnalyticsEscalationStarted, conversationID, senderID)
	ev.Text = initialMessage
	ev.Meta = map[string]string{"category": category}
	f.analytics.LogMessage(ctx, ev)

	f.logger.Info("TICKET_FLOW_STARTED", "conversation_id", conversationID, "category", category)
	return f.replies.TicketPrompt
}

// Continue completes (or cancels) the pending flow with the follow-up message.
// It returns an empty string when the conversation has no pending flow.
func (f *TicketFlow) Continue(ctx context.Context, conversationID, followup string) string {
	sess, err := f.sessions.Get(ctx, conversationID)
	if err != nil {
		f.logger.Error("TICKET_FLOW_LOOKUP_FAILED", "conversation_id", conversationID, "err", err)
		return ""
	}
	if !sess.HasPendingFlow() {
		return ""
	}
	flow := *sess.PendingFlow

	// [ALWAYS_CLEAR] Never trap the user in a broken flow, whatever happens below.
	defer func() {
		if err := f.sessions.ClearPendingFlow(ctx, conversationID); err != nil {
			f.logger.Error("TICKET_FLOW_CLEAR_FAILED", "conversation_id", conversationID, "err", err)
		}
	}()

	if f.matcher != nil && f.matcher.IsCancel(followup) {
		f.analytics.LogMessage(ctx, f.event(ctx, model.AnalyticsTicketCancelled, conversationID, flow.SenderID))
		f.logger.Info("TICKET_FLOW_CANCELLED", "conversation_id", conversationID)
		return f.replies.TicketCancelled
	}

	flow.Step = model.FlowCompleted
	ticket := model.Ticket{
		ConversationID: conversationID,
		SessionID:      sess.SessionID,
		SenderID:       flow.SenderID,
		Category:       flow.Category,
		InitialMessage: flow.InitialMessage,
		Description:    strings.TrimSpace(followup),
		CreatedAt:      f.now().UTC(),
	}

	start := time.Now()
	ticketID, err := resilience.WithTimeout(ctx, f.timeout, func(ctx context.Context) (string, error) {
		return f.tickets.CreateTicket(ctx, ticket)
	})
	if err == nil && ticketID == "" {
		err = errors.New("ticket repository returned an empty id")
	}
	if err != nil {
		f.logger.Error("TICKET_PERSIST_FAILED",
			"conversation_id", conversationID,
			"category", flow.Category,
			"duration_ms", time.Since(start).Milliseconds(),
			"err", err,
		)
		ev := f.event(ctx, model.AnalyticsTicketFailed, conversationID, flow.SenderID)
		ev.Meta = map[string]string{"category": flow.Category, "err": err.Error()}
		f.analytics.LogMessage(ctx, ev)
		return f.replies.TicketFailed
	}

	ev := f.event(ctx, model.AnalyticsTicketCreated, conversationID, flow.SenderID)
	ev.Text = ticket.Summary()
	ev.Meta = map[string]string{"category": flow.Category, "ticket_id": ticketID}
	f.analytics.LogMessage(ctx, ev)

	f.logger.Info("TICKET_CREATED",
		"conversation_id", conversationID,
		"ticket_id", ticketID,
		"category", flow.Category,
		"step", flow.Step.String(),
	)
	return fmt.Sprintf(f.replies.TicketCreated, ticketID)
}

func (f *TicketFlow) event(ctx context.Context, kind model.AnalyticsKind, conversationID, senderID string) model.AnalyticsEvent {
	ev := model.NewAnalyticsEvent(kind, conversationID)
	ev.SenderID = senderID
	if sess, err := f.sessions.Get(ctx, conversationID); err == nil && sess != nil {
		ev.SessionID = sess.SessionID
	}
	return ev
}
