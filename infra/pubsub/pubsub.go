// Package pubsub builds the watermill publisher/subscriber pair for the configured broker.
package pubsub

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/webitel/im-support-bot/config"
)

// QueueSuffix names the durable consumer queue of this service.
const QueueSuffix = "im-support-bot"

// Provider holds the broker handles. Both are nil when analytics do not go through watermill.
type Provider struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	Backend    string
}

func NewProvider(cfg *config.Config, logger watermill.LoggerAdapter) (*Provider, error) {
	p := &Provider{Backend: cfg.Analytics.Backend}

	switch cfg.Analytics.Backend {
	case config.AnalyticsGoChannel:
		// [IN_PROCESS] One GoChannel serves both sides.
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: int64(max(cfg.Analytics.QueueSize, 1)),
		}, logger)
		p.Publisher, p.Subscriber = ch, ch

	case config.AnalyticsAMQP:
		amqpCfg := amqp.NewDurablePubSubConfig(cfg.AMQP.URL, amqp.GenerateQueueNameTopicNameWithSuffix(QueueSuffix))

		pub, err := amqp.NewPublisher(amqpCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("pubsub: amqp publisher: %w", err)
		}
		sub, err := amqp.NewSubscriber(amqpCfg, logger)
		if err != nil {
			_ = pub.Close()
			return nil, fmt.Errorf("pubsub: amqp subscriber: %w", err)
		}
		p.Publisher, p.Subscriber = pub, sub

	case config.AnalyticsKafka, config.AnalyticsNone:
		// Kafka is written by its own producer; nothing to consume here.

	default:
		return nil, fmt.Errorf("pubsub: unknown backend %q", cfg.Analytics.Backend)
	}

	return p, nil
}

// Close releases both sides. The GoChannel is closed once.
func (p *Provider) Close() error {
	var errs []error
	if p.Subscriber != nil {
		errs = append(errs, p.Subscriber.Close())
	}
	if p.Publisher != nil && any(p.Publisher) != any(p.Subscriber) {
		errs = append(errs, p.Publisher.Close())
	}
	return errors.Join(errs...)
}
