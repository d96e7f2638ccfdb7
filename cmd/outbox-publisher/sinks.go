package main

import (
	"context"
	"errors"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type pubSubPublisherSource interface {
	Publisher(name string) *gcppubsub.Publisher
}

// newPubSubFactory publishes to whichever topic the registry resolved.
func newPubSubFactory(client pubSubPublisherSource) publisherFactory {
	return func(topic string) publisher {
		p := client.Publisher(topic)
		if p == nil {
			return nil
		}
		return &gcpPublisher{publisher: p}
	}
}

type gcpPublisher struct {
	publisher *gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg outboundMessage) error {
	if p == nil || p.publisher == nil {
		return errors.New("pubsub publisher is nil")
	}
	result := p.publisher.Publish(ctx, &gcppubsub.Message{
		Data:        msg.Data,
		Attributes:  msg.Attributes,
		OrderingKey: msg.Key,
	})
	if _, err := result.Get(ctx); err != nil {
		// a failed ordered publish pauses the key until resumed
		p.publisher.ResumePublish(msg.Key)
		return err
	}
	return nil
}

type kafkaWriter interface {
	Topic() string
	Publish(ctx context.Context, key string, value []byte, headers map[string]string) error
}

// newKafkaFactory only serves the producer's own topic; anything else is unroutable.
func newKafkaFactory(producer kafkaWriter) publisherFactory {
	return func(topic string) publisher {
		if !strings.EqualFold(strings.TrimSpace(topic), producer.Topic()) {
			return nil
		}
		return &kafkaPublisher{producer: producer}
	}
}

type kafkaPublisher struct {
	producer kafkaWriter
}

func (p *kafkaPublisher) Publish(ctx context.Context, msg outboundMessage) error {
	return p.producer.Publish(ctx, msg.Key, msg.Data, msg.Attributes)
}
