package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// IPublisher publishes one message on a fixed topic.
type IPublisher interface {
	PublishMessage(ctx context.Context, message any) error
}

type Publisher struct {
	client mqtt.Client
	topic  string
	qos    byte
	retain bool
}

// NewPublisher binds client to topic. Retained messages let late subscribers
// get the last value straight away.
func NewPublisher(client mqtt.Client, topic string, qos byte, retain bool) *Publisher {
	return &Publisher{client: client, topic: topic, qos: qos, retain: retain}
}

func (p *Publisher) Topic() string { return p.topic }

// PublishMessage sends strings and byte slices as they are; anything else is JSON-encoded.
func (p *Publisher) PublishMessage(ctx context.Context, message any) error {
	var payload []byte
	switch m := message.(type) {
	case string:
		payload = []byte(m)
	case []byte:
		payload = m
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message for %s: %w", p.topic, err)
		}
		payload = b
	}

	if p.client == nil || !p.client.IsConnectionOpen() {
		return errors.New("mqtt client not connected")
	}
	token := p.client.Publish(p.topic, p.qos, p.retain, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", p.topic, err)
	}
	return nil
}
