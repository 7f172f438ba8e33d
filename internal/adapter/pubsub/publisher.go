package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/segmentio/kafka-go"
	"github.com/webitel/im-support-bot/internal/domain/model"
)

// Metadata keys set on every analytics message.
const (
	MetaRoutingKey     = "routing_key"
	MetaConversationID = "conversation_id"
	MetaKind           = "kind"
)

// EventPublisher ships one analytics event to a broker.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.AnalyticsEvent) error
	Close() error
}

// WatermillPublisher publishes JSON events to a single watermill topic.
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillPublisher(pub message.Publisher, topic string) *WatermillPublisher {
	return &WatermillPublisher{publisher: pub, topic: topic}
}

func (p *WatermillPublisher) Publish(ctx context.Context, ev model.AnalyticsEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("analytics publisher: marshal failure: %w", err)
	}

	// The event id doubles as the message id so consumers can deduplicate.
	msgID := ev.ID
	if msgID == "" {
		msgID = watermill.NewUUID()
	}
	msg := message.NewMessage(msgID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetaRoutingKey, ev.GetRoutingKey())
	msg.Metadata.Set(MetaConversationID, ev.ConversationID)
	msg.Metadata.Set(MetaKind, string(ev.Kind))

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("analytics publisher: failed to publish to topic %s: %w", p.topic, err)
	}
	return nil
}

// Close is a no-op: the broker connection belongs to the pubsub provider.
func (p *WatermillPublisher) Close() error { return nil }

// KafkaWriter is the subset of *kafka.Writer used here.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher streams events to a Kafka topic keyed by conversation.
type KafkaPublisher struct {
	writer KafkaWriter
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
}

func NewKafkaPublisher(w KafkaWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev model.AnalyticsEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("analytics publisher: marshal failure: %w", err)
	}

	// [PARTITIONING] One conversation stays on one partition, keeping its order.
	msg := kafka.Message{
		Key:   []byte(ev.ConversationID),
		Value: data,
		Headers: []kafka.Header{
			{Key: MetaRoutingKey, Value: []byte(ev.GetRoutingKey())},
			{Key: MetaKind, Value: []byte(ev.Kind)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("analytics publisher: kafka write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
