package service

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
	"github.com/webitel/im-support-bot/config"
	"github.com/webitel/im-support-bot/internal/domain/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Routes taken by the pipeline, recorded on spans and analytics.
const (
	RouteFlow       = "flow"
	RouteEscalation = "escalation"
	RouteQuickReply = "quick_reply"
	RouteCache      = "cache"
	RouteGeneration = "generation"
	RouteFallback   = "fallback"
)

// idempotencyNamespace scopes outbound idempotency keys derived from event ids.
var idempotencyNamespace = uuid.MustParse("5b0c2e8a-7a53-4f0e-9a4c-3d1f6f1b2c77")

// ticketButton is offered next to the menu text.
var ticketButton = model.Button{
	Text: "Open a ticket",
	Value: map[string]string{
		model.ActionKey:         model.ActionCreateTicket,
		model.ActionCategoryKey: DefaultTicketCategory,
	},
}

// Pipeline routes one event to a reply and delivers it.
type Pipeline struct {
	sessions  ConversationStore
	cache     ResponseCache
	flow      *TicketFlow
	matcher   *Matcher
	generator Generator
	sender    Sender
	analytics Analytics
	replies   config.RepliesConfig
	logger    *slog.Logger
	tracer    trace.Tracer
}

type PipelineDeps struct {
	Sessions  ConversationStore
	Cache     ResponseCache
	Flow      *TicketFlow
	Matcher   *Matcher
	Generator Generator
	Sender    Sender
	Analytics Analytics
	Replies   config.RepliesConfig
	Logger    *slog.Logger
}

func NewPipeline(d PipelineDeps) *Pipeline {
	analytics := d.Analytics
	if analytics == nil {
		analytics = NopAnalytics{}
	}
	return &Pipeline{
		sessions:  d.Sessions,
		cache:     d.Cache,
		flow:      d.Flow,
		matcher:   d.Matcher,
		generator: d.Generator,
		sender:    d.Sender,
		analytics: analytics,
		replies:   d.Replies,
		logger:    d.Logger,
		tracer:    otel.Tracer("github.com/webitel/im-support-bot/internal/service"),
	}
}

// request is the routable part of an event.
type request struct {
	text string
	// openTicket forces the ticket flow (card button), category may be empty.
	openTicket bool
	category   string
}

// Process handles one event end to end. Nothing is returned: the webhook was acknowledged long ago.
func (p *Pipeline) Process(ctx context.Context, ev *model.InboundEvent) {
	req, ok := extract(ev)
	if !ok {
		p.logger.DebugContext(ctx, "EVENT_SKIPPED", "event_id", ev.ID, "event_type", ev.Type.String())
		return
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", ev.Type.String()),
		attribute.String("conversation.id", ev.ConversationID),
	))
	defer span.End()

	replied := false
	// [ERROR_BOUNDARY] Any panic still ends with a reply to the user.
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "PIPELINE_PANIC_RECOVERED",
				"event_id", ev.ID,
				"conversation_id", ev.ConversationID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			span.SetStatus(codes.Error, "panic")
			if !replied {
				p.reply(ctx, ev, nil, RouteFallback, p.replies.Apology, nil)
			}
		}
	}()

	sess, err := p.sessions.GetOrCreate(ctx, ev.ConversationID)
	if err != nil {
		p.logger.ErrorContext(ctx, "SESSION_LOAD_FAILED",
			"conversation_id", ev.ConversationID,
			"err", err,
		)
		p.reply(ctx, ev, nil, RouteFallback, p.replies.Apology, nil)
		replied = true
		return
	}

	in := model.NewAnalyticsEvent(model.AnalyticsUserMessage, ev.ConversationID)
	in.SessionID = sess.SessionID
	in.SenderID = ev.SenderID
	in.EventID = ev.ID
	in.Text = req.text
	p.analytics.LogMessage(ctx, in)

	route, text, buttons := p.route(ctx, ev, req, sess)
	span.SetAttributes(attribute.String("pipeline.route", route))

	p.reply(ctx, ev, sess, route, text, buttons)
	replied = true

	if _, err := p.sessions.IncrementTurn(ctx, ev.ConversationID); err != nil {
		p.logger.ErrorContext(ctx, "TURN_INCREMENT_FAILED",
			"conversation_id", ev.ConversationID,
			"err", err,
		)
	}
}

func (p *Pipeline) route(ctx context.Context, ev *model.InboundEvent, req request, sess *model.Session) (string, string, []model.Button) {
	// [FLOW_FIRST] A pending flow owns the next message, even one that looks like a trigger.
	if sess.HasPendingFlow() && !req.openTicket {
		if reply := p.flow.Continue(ctx, ev.ConversationID, req.text); reply != "" {
			return RouteFlow, reply, nil
		}
	}

	if req.openTicket {
		return RouteEscalation, p.flow.Start(ctx, ev.ConversationID, ev.SenderID, req.text, req.category), nil
	}
	if category, ok := p.matcher.Escalation(req.text); ok {
		return RouteEscalation, p.flow.Start(ctx, ev.ConversationID, ev.SenderID, req.text, category), nil
	}

	if menu, ok := p.matcher.QuickReply(req.text); ok {
		return RouteQuickReply, menu, []model.Button{ticketButton}
	}

	if answer, ok := p.cache.Lookup(req.text); ok {
		hit := model.NewAnalyticsEvent(model.AnalyticsCacheHit, ev.ConversationID)
		hit.SessionID = sess.SessionID
		hit.EventID = ev.ID
		hit.Text = req.text
		p.analytics.LogMessage(ctx, hit)
		return RouteCache, answer, nil
	}

	answer, err := p.generator.Generate(ctx, req.text, model.GenerationContext{
		ConversationID: ev.ConversationID,
		SessionID:      sess.SessionID,
		SenderID:       ev.SenderID,
		TurnCount:      sess.TurnCount,
	})
	if err == nil && strings.TrimSpace(answer) == "" {
		err = errors.New("empty answer")
	}
	if err != nil {
		// [GRACEFUL_DEGRADATION] The raw error never reaches the user.
		p.logger.WarnContext(ctx, "GENERATION_FALLBACK",
			"conversation_id", ev.ConversationID,
			"event_id", ev.ID,
			"err", err,
		)
		return RouteFallback, p.replies.Apology, nil
	}

	p.cache.Store(req.text, answer)
	return RouteGeneration, answer, nil
}

// reply delivers text and records the outcome. Delivery failures are logged, never retried here.
func (p *Pipeline) reply(ctx context.Context, ev *model.InboundEvent, sess *model.Session, route, text string, buttons []model.Button) {
	if text == "" {
		return
	}

	msg := model.OutboundMessage{
		ConversationID: ev.ConversationID,
		Text:           text,
		Buttons:        buttons,
		IdempotencyKey: IdempotencyKey(ev.ID, route),
	}

	out := model.NewAnalyticsEvent(model.AnalyticsBotMessage, ev.ConversationID)
	out.EventID = ev.ID
	out.Text = text
	if sess != nil {
		out.SessionID = sess.SessionID
	}

	ack, err := p.sender.Send(ctx, ev.ConversationID, msg)
	if err != nil {
		var derr *DeliveryError
		attempts, terminal := ack.Attempts, false
		if errors.As(err, &derr) {
			attempts, terminal = derr.Attempts, derr.Terminal
		}
		p.logger.ErrorContext(ctx, "DELIVERY_FAILED",
			"conversation_id", ev.ConversationID,
			"event_id", ev.ID,
			"route", route,
			"attempts", attempts,
			"terminal", terminal,
			"err", err,
		)
		trace.SpanFromContext(ctx).RecordError(err)

		out.Kind = model.AnalyticsDeliveryFailed
		out.Meta = map[string]string{"route": route, "err": err.Error()}
		p.analytics.LogMessage(ctx, out)
		return
	}

	out.Meta = map[string]string{"route": route, "message_id": ack.MessageID}
	p.analytics.LogMessage(ctx, out)
}

// IdempotencyKey derives a stable outbound key from the event id,
// so retries and platform redeliveries of the same event reuse it.
func IdempotencyKey(eventID, route string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(eventID+"/"+route)).String()
}

// extract pulls the routable request out of an event.
func extract(ev *model.InboundEvent) (request, bool) {
	if ev == nil || ev.ConversationID == "" {
		return request{}, false
	}

	switch ev.Type {
	case model.EventMessageReceived:
		text := strings.TrimSpace(ev.Text)
		return request{text: text}, text != ""
	case model.EventCardAction:
		switch ev.Action[model.ActionKey] {
		case model.ActionCreateTicket:
			return request{
				text:       strings.TrimSpace(ev.Action[model.ActionTextKey]),
				openTicket: true,
				category:   ev.Action[model.ActionCategoryKey],
			}, true
		case model.ActionAsk:
			text := strings.TrimSpace(ev.Action[model.ActionTextKey])
			return request{text: text}, text != ""
		}
	}
	return request{}, false
}
