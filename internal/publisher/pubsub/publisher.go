// Package pubsub publishes access result notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// attributeKeys are copied from map payloads into message attributes so
// subscribers can filter without decoding the body.
var attributeKeys = []string{"session_id", "status", "mime_type"}

// Publisher sends JSON payloads to Pub/Sub topics, one publisher per topic.
type Publisher struct {
	client *pubsub.Client
	logger *zap.Logger

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// New creates a Publisher backed by client.
func New(client *pubsub.Client, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:     client,
		logger:     logger.Named("pubsub"),
		publishers: make(map[string]*pubsub.Publisher),
	}
}

// Publish marshals payload to JSON and publishes it to topic. The trace
// context of ctx travels in the message attributes.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", errors.New("pubsub client is not configured")
	}
	if topic == "" {
		return "", errors.New("pubsub topic is empty")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: payloadAttributes(payload)}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	result := p.publisher(topic).Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message to %s: %w", topic, err)
	}
	return id, nil
}

// Stop flushes pending messages on every topic publisher.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for topic, pub := range p.publishers {
		pub.Stop()
		p.logger.Debug("publisher stopped", zap.String("topic", topic))
	}
	p.publishers = make(map[string]*pubsub.Publisher)
}

func (p *Publisher) publisher(topic string) *pubsub.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	pub, ok := p.publishers[topic]
	if !ok {
		pub = p.client.Publisher(topic)
		p.publishers[topic] = pub
	}
	return pub
}

func payloadAttributes(payload any) map[string]string {
	attrs := make(map[string]string)
	fields, ok := payload.(map[string]any)
	if !ok {
		return attrs
	}
	for _, key := range attributeKeys {
		if v, ok := fields[key]; ok && v != nil {
			if s := fmt.Sprint(v); s != "" {
				attrs[key] = s
			}
		}
	}
	return attrs
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
