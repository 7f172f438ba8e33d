package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/webitel/im-support-bot/config"
	"github.com/webitel/im-support-bot/infra/resilience"
	"github.com/webitel/im-support-bot/internal/domain/model"
)

func TestPipeline_GreetingRepliesWithMenu(t *testing.T) {
	h := newHarness(t)

	h.pipeline.Process(context.Background(), message("oc_1", "Hi!"))

	last := h.fakeSender(t).Last(t)
	require.Equal(t, testRules.MenuText, last.Text)
	require.Len(t, last.Buttons, 1)
	require.Equal(t, model.ActionCreateTicket, last.Buttons[0].Value[model.ActionKey])
	require.Zero(t, h.tickets.(*MemoryTicketRepository).Len())
	require.Zero(t, h.cache.Len(), "quick replies never populate the cache")
	require.Zero(t, h.generator.Calls())
}

func TestPipeline_EscalationThenFollowupCreatesTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sender := h.fakeSender(t)

	h.pipeline.Process(ctx, message("oc_1", "login is broken"))
	require.Equal(t, testReplies.TicketPrompt, sender.Last(t).Text)

	sess, err := h.sessions.Get(ctx, "oc_1")
	require.NoError(t, err)
	require.True(t, sess.HasPendingFlow())
	require.Equal(t, model.FlowAwaitingDescription, sess.PendingFlow.Step)
	require.Equal(t, "access", sess.PendingFlow.Category)

	h.pipeline.Process(ctx, message("oc_1", "happens every morning"))
	reply := sender.Last(t).Text
	require.Contains(t, reply, model.TicketIDPrefix)

	ticketID := strings.Fields(reply)[1]
	ticket, ok := h.tickets.(*MemoryTicketRepository).Ticket(ticketID)
	require.True(t, ok)
	require.Equal(t, "login is broken", ticket.InitialMessage)
	require.Equal(t, "happens every morning", ticket.Description)
	require.Equal(t, sess.SessionID, ticket.SessionID)

	sess, err = h.sessions.Get(ctx, "oc_1")
	require.NoError(t, err)
	require.Nil(t, sess.PendingFlow)
	require.Equal(t, 2, sess.TurnCount)

	require.Equal(t, 1, h.analytics.Count(model.AnalyticsEscalationStarted))
	require.Equal(t, 1, h.analytics.Count(model.AnalyticsTicketCreated))
	require.Zero(t, h.generator.Calls())
}

func TestPipeline_PendingFlowWinsOverTriggerKeywords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.pipeline.Process(ctx, message("oc_1", "my password expired"))
	h.pipeline.Process(ctx, message("oc_1", "and now the login page is broken too"))

	require.Contains(t, h.fakeSender(t).Last(t).Text, model.TicketIDPrefix)
	require.Equal(t, 1, h.tickets.(*MemoryTicketRepository).Len())
	require.Equal(t, 1, h.analytics.Count(model.AnalyticsEscalationStarted))
}

func TestPipeline_RepeatedQuestionHitsCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sender := h.fakeSender(t)

	h.pipeline.Process(ctx, message("oc_1", "How do I configure the VPN?"))
	h.pipeline.Process(ctx, message("oc_2", "how do i configure my vpn on a laptop"))

	require.Equal(t, 1, h.generator.Calls())
	sent := sender.Sent()
	require.Len(t, sent, 2)
	require.Equal(t, "generated answer", sent[0].Text)
	require.Equal(t, "generated answer", sent[1].Text)
	require.Equal(t, 1, h.analytics.Count(model.AnalyticsCacheHit))
}

func TestPipeline_GenerationFailureSendsApology(t *testing.T) {
	h := newHarness(t)
	h.generator.err = errors.New("model overloaded")

	h.pipeline.Process(context.Background(), message("oc_1", "what is the meaning of life"))

	require.Equal(t, testReplies.Apology, h.fakeSender(t).Last(t).Text)
	require.Zero(t, h.cache.Len())
}

func TestPipeline_PanicIsRecoveredWithFallback(t *testing.T) {
	h := newHarness(t)
	h.generator.panics = true

	require.NotPanics(t, func() {
		h.pipeline.Process(context.Background(), message("oc_1", "tell me something"))
	})
	require.Equal(t, testReplies.Apology, h.fakeSender(t).Last(t).Text)
	require.Contains(t, h.logs.String(), "PIPELINE_PANIC_RECOVERED")
}

func TestPipeline_EmptyTextIsIgnored(t *testing.T) {
	h := newHarness(t)

	h.pipeline.Process(context.Background(), message("oc_1", "   "))
	h.pipeline.Process(context.Background(), message("", "hello"))

	require.Empty(t, h.fakeSender(t).Sent())
	require.Zero(t, h.sessions.Len())
}

func TestPipeline_TicketPersistenceFailureClearsFlow(t *testing.T) {
	h := newHarness(t, withTickets(failingTickets{}))
	ctx := context.Background()

	h.pipeline.Process(ctx, message("oc_1", "vpn is not working"))
	h.pipeline.Process(ctx, message("oc_1", "since yesterday"))

	require.Equal(t, testReplies.TicketFailed, h.fakeSender(t).Last(t).Text)
	sess, err := h.sessions.Get(ctx, "oc_1")
	require.NoError(t, err)
	require.False(t, sess.HasPendingFlow())
	require.Equal(t, 1, h.analytics.Count(model.AnalyticsTicketFailed))
}

func TestPipeline_CancelWordAbortsFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.pipeline.Process(ctx, message("oc_1", "printer is broken"))
	h.pipeline.Process(ctx, message("oc_1", "Never mind"))

	require.Equal(t, testReplies.TicketCancelled, h.fakeSender(t).Last(t).Text)
	require.Zero(t, h.tickets.(*MemoryTicketRepository).Len())
	sess, err := h.sessions.Get(ctx, "oc_1")
	require.NoError(t, err)
	require.Nil(t, sess.PendingFlow)
}

func TestPipeline_CardActions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.pipeline.Process(ctx, &model.InboundEvent{
		ID:             "card-1",
		Type:           model.EventCardAction,
		ConversationID: "oc_1",
		SenderID:       "ou_user",
		Action:         map[string]string{model.ActionKey: model.ActionCreateTicket, model.ActionCategoryKey: "billing"},
	})
	require.Equal(t, testReplies.TicketPrompt, h.fakeSender(t).Last(t).Text)
	sess, err := h.sessions.Get(ctx, "oc_1")
	require.NoError(t, err)
	require.Equal(t, "billing", sess.PendingFlow.Category)

	h.pipeline.Process(ctx, &model.InboundEvent{
		ID:             "card-2",
		Type:           model.EventCardAction,
		ConversationID: "oc_2",
		Action:         map[string]string{model.ActionKey: model.ActionAsk, model.ActionTextKey: "what are the office hours"},
	})
	require.Equal(t, "generated answer", h.fakeSender(t).Last(t).Text)

	h.pipeline.Process(ctx, &model.InboundEvent{
		ID:             "card-3",
		Type:           model.EventCardAction,
		ConversationID: "oc_3",
		Action:         map[string]string{model.ActionKey: "unknown"},
	})
	require.Len(t, h.fakeSender(t).Sent(), 2)
}

func TestPipeline_DeliveryTimeoutsAreLoggedNotRaised(t *testing.T) {
	client := &blockingClient{}
	logger, logs := newTestLogger()
	breakers := resilience.NewBreakers(logger, map[string]resilience.BreakerSettings{
		resilience.DependencyPlatform: {Threshold: 5, OpenDuration: time.Minute},
	})
	delivery := NewDelivery(client, breakers, config.DeliveryConfig{
		Timeout:     20 * time.Millisecond,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	}, logger)

	h := newHarness(t, withSender(delivery))
	h.logs, h.pipeline.logger = logs, logger

	require.NotPanics(t, func() {
		h.pipeline.Process(context.Background(), message("oc_1", "hello there, quick question"))
	})

	require.Equal(t, int32(3), client.calls.Load())
	require.Contains(t, logs.String(), "DELIVERY_FAILED")
	require.Contains(t, logs.String(), "attempts=3")
	require.Equal(t, 1, h.analytics.Count(model.AnalyticsDeliveryFailed))
	require.Zero(t, h.analytics.Count(model.AnalyticsBotMessage))

	sess, err := h.sessions.Get(context.Background(), "oc_1")
	require.NoError(t, err)
	require.Equal(t, 1, sess.TurnCount, "turn is counted even when delivery fails")
}

func TestIdempotencyKey_IsStablePerEvent(t *testing.T) {
	require.Equal(t, IdempotencyKey("ev-1", RouteGeneration), IdempotencyKey("ev-1", RouteGeneration))
	require.NotEqual(t, IdempotencyKey("ev-1", RouteGeneration), IdempotencyKey("ev-2", RouteGeneration))
}
