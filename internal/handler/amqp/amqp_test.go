package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-support-bot/config"
	infrapubsub "github.com/webitel/im-support-bot/infra/pubsub"
	"github.com/webitel/im-support-bot/internal/domain/model"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingSink struct {
	mu     sync.Mutex
	events []model.AnalyticsEvent
	saved  chan struct{}
}

func (s *recordingSink) Save(_ context.Context, ev model.AnalyticsEvent) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.saved <- struct{}{}
	return nil
}

func TestBind_DecodesAndCalls(t *testing.T) {
	var got *model.AnalyticsEvent
	h := Bind(discard, func(_ context.Context, ev *model.AnalyticsEvent) error {
		got = ev
		return nil
	})

	payload, err := json.Marshal(model.NewAnalyticsEvent(model.AnalyticsCacheHit, "oc_1"))
	require.NoError(t, err)
	require.NoError(t, h(message.NewMessage("m1", payload)))
	require.Equal(t, "oc_1", got.ConversationID)
}

func TestBind_PoisonPillIsAcked(t *testing.T) {
	called := false
	h := Bind(discard, func(context.Context, *model.AnalyticsEvent) error {
		called = true
		return nil
	})

	require.NoError(t, h(message.NewMessage("m1", []byte("not json"))))
	require.False(t, called)
}

func TestBind_PanicIsRecovered(t *testing.T) {
	h := Bind(discard, func(context.Context, *model.AnalyticsEvent) error {
		panic("boom")
	})

	require.NotPanics(t, func() {
		require.NoError(t, h(message.NewMessage("m1", []byte("{}"))))
	})
}

func TestBind_ErrorIsReturnedForRetry(t *testing.T) {
	h := Bind(discard, func(context.Context, *model.AnalyticsEvent) error {
		return errors.New("db down")
	})

	require.Error(t, h(message.NewMessage("m1", []byte("{}"))))
}

func TestOnAnalyticsEvent_SkipsInvalid(t *testing.T) {
	sink := &recordingSink{saved: make(chan struct{}, 1)}
	h := NewAnalyticsHandler(sink, &config.Config{}, discard)

	require.NoError(t, h.OnAnalyticsEvent(context.Background(), &model.AnalyticsEvent{ID: "x"}))
	require.Empty(t, sink.events)
}

func TestRouter_ConsumesAnalyticsIntoSink(t *testing.T) {
	cfg := &config.Config{Analytics: config.AnalyticsConfig{Backend: config.AnalyticsGoChannel, Topic: "analytics", QueueSize: 8}}
	provider, err := infrapubsub.NewProvider(cfg, watermill.NopLogger{})
	require.NoError(t, err)
	defer func() { _ = provider.Close() }()

	router, err := NewWatermillRouter(watermill.NopLogger{})
	require.NoError(t, err)

	sink := &recordingSink{saved: make(chan struct{}, 1)}
	h := NewAnalyticsHandler(sink, cfg, discard)
	require.NoError(t, h.RegisterHandlers(router, provider))

	go func() { _ = router.Run(context.Background()) }()
	defer func() { _ = router.Close() }()
	<-router.Running()

	ev := model.NewAnalyticsEvent(model.AnalyticsTicketCreated, "oc_1")
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, provider.Publisher.Publish("analytics", message.NewMessage(ev.ID, payload)))

	select {
	case <-sink.saved:
	case <-time.After(3 * time.Second):
		t.Fatal("event never reached the sink")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Equal(t, ev.ID, sink.events[0].ID)
}

func TestLogSink_Save(t *testing.T) {
	require.NoError(t, NewLogSink(discard).Save(context.Background(), model.NewAnalyticsEvent(model.AnalyticsBotMessage, "oc_1")))
}
