package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-support-bot/config"
	"github.com/webitel/im-support-bot/infra/resilience"
	"github.com/webitel/im-support-bot/internal/domain/model"
	"github.com/webitel/im-support-bot/internal/store"
)

var testReplies = config.RepliesConfig{
	Apology:         "sorry, try again later",
	TicketPrompt:    "please describe the problem",
	TicketCreated:   "ticket %s created",
	TicketFailed:    "could not create ticket",
	TicketCancelled: "ticket cancelled",
}

var testRules = config.RulesConfig{
	Escalation: []config.EscalationRule{
		{Category: "access", Keywords: []string{"login", "password"}},
		{Category: "incident", Keywords: []string{"broken", "not working"}},
	},
	Greetings:   []string{"hi", "hello"},
	MenuText:    "MENU: ask a question or report a problem",
	CancelWords: []string{"cancel", "never mind"},
	CachePatterns: []config.CachePattern{
		{Name: "vpn_setup", Pattern: `\b(setup|configure)\b.*\bvpn\b`},
	},
}

// syncBuffer is a log sink safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

type fakeSender struct {
	mu   sync.Mutex
	sent []model.OutboundMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, conversationID string, msg model.OutboundMessage) (model.DeliveryAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.DeliveryAck{Attempts: 1}, f.err
	}
	msg.ConversationID = conversationID
	f.sent = append(f.sent, msg)
	return model.DeliveryAck{MessageID: "om_reply", Attempts: 1}, nil
}

func (f *fakeSender) Sent() []model.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.OutboundMessage(nil), f.sent...)
}

func (f *fakeSender) Last(t *testing.T) model.OutboundMessage {
	t.Helper()
	sent := f.Sent()
	if len(sent) == 0 {
		t.Fatal("nothing was sent")
	}
	return sent[len(sent)-1]
}

type fakeGenerator struct {
	mu     sync.Mutex
	calls  int
	answer string
	err    error
	panics bool
}

func (f *fakeGenerator) Generate(context.Context, string, model.GenerationContext) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panics {
		panic("generator exploded")
	}
	return f.answer, f.err
}

func (f *fakeGenerator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type failingTickets struct{}

func (failingTickets) CreateTicket(context.Context, model.Ticket) (string, error) {
	return "", errors.New("database unavailable")
}

type recordingAnalytics struct {
	mu     sync.Mutex
	events []model.AnalyticsEvent
}

func (r *recordingAnalytics) LogMessage(_ context.Context, ev model.AnalyticsEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingAnalytics) Count(kind model.AnalyticsKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// syncScheduler runs the pipeline inline, so Receive returns after processing.
type syncScheduler struct {
	handle func(context.Context, *model.InboundEvent)
	err    error
	calls  int
}

func (s *syncScheduler) Dispatch(ev *model.InboundEvent) (<-chan struct{}, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	done := make(chan struct{})
	if s.handle != nil {
		s.handle(context.Background(), ev)
	}
	close(done)
	return done, nil
}

// harness wires a pipeline over real in-memory stores and fake collaborators.
type harness struct {
	sessions  *store.SessionStore
	cache     *store.ResponseCache
	tickets   TicketRepository
	generator *fakeGenerator
	sender    Sender
	analytics *recordingAnalytics
	logs      *syncBuffer
	logger    *slog.Logger
	matcher   *Matcher
	flow      *TicketFlow
	pipeline  *Pipeline
}

type harnessOption func(*harness)

func withTickets(r TicketRepository) harnessOption { return func(h *harness) { h.tickets = r } }
func withSender(s Sender) harnessOption           { return func(h *harness) { h.sender = s } }

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	logger, logs := newTestLogger()

	h := &harness{
		sessions:  store.NewSessionStore(30 * time.Minute),
		cache:     store.NewResponseCache(128, 24*time.Hour, testRules.CachePatterns, logger),
		tickets:   NewMemoryTicketRepository(),
		generator: &fakeGenerator{answer: "generated answer"},
		sender:    &fakeSender{},
		analytics: &recordingAnalytics{},
		logs:      logs,
		logger:    logger,
		matcher:   NewMatcher(testRules),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.flow = NewTicketFlow(h.sessions, h.tickets, h.analytics, h.matcher, testReplies, time.Second, logger)
	h.pipeline = NewPipeline(PipelineDeps{
		Sessions:  h.sessions,
		Cache:     h.cache,
		Flow:      h.flow,
		Matcher:   h.matcher,
		Generator: h.generator,
		Sender:    h.sender,
		Analytics: h.analytics,
		Replies:   testReplies,
		Logger:    logger,
	})
	return h
}

func (h *harness) fakeSender(t *testing.T) *fakeSender {
	t.Helper()
	fs, ok := h.sender.(*fakeSender)
	if !ok {
		t.Fatal("harness sender is not a fakeSender")
	}
	return fs
}

func message(conversationID, text string) *model.InboundEvent {
	return &model.InboundEvent{
		ID:             uuid.NewString(),
		Type:           model.EventMessageReceived,
		ConversationID: conversationID,
		SenderID:       "ou_user",
		Text:           text,
		ReceivedAt:     time.Now(),
	}
}

type statusErr int

func (e statusErr) Error() string       { return "upstream status" }
func (e statusErr) HTTPStatusCode() int { return int(e) }

var _ resilience.StatusCoder = statusErr(0)
