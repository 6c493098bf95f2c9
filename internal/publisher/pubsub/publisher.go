// Package pubsub publishes outcome events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/JakeFAU/docverify/internal/document"
)

// EventAttribute carries the event name on every message so subscribers can
// filter without decoding the payload.
const EventAttribute = "event"

// Topic is the subset of *pubsub.Topic used by Publisher.
type Topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
	Stop()
}

// Publisher sends JSON-encoded events to a single Pub/Sub topic.
type Publisher struct {
	topic  Topic
	client *pubsub.Client
}

var _ document.Publisher = (*Publisher)(nil)

// New wraps an existing topic.
func New(topic Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Dial opens a client for projectID and publishes to topicID.
func Dial(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	return &Publisher{topic: client.Topic(topicID), client: client}, nil
}

// Publish marshals payload to JSON and publishes it with the event name as
// an attribute. The trace context of ctx is propagated in the attributes.
func (p *Publisher) Publish(ctx context.Context, event string, payload any) (string, error) {
	if p == nil || p.topic == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	attrs := propagation.MapCarrier{EventAttribute: event}
	otel.GetTextMapPropagator().Inject(ctx, attrs)

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	if p == nil || p.topic == nil {
		return nil
	}
	p.topic.Stop()
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
