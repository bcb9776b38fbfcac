package rabbitmq

import (
	"context"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one message; a returned error is only logged.
type Handler func(topic string, message mqtt.Message) error

// IConsumer subscribes and blocks until ctx is cancelled.
type IConsumer interface {
	ConsumeMessage(ctx context.Context) error
	SetHandler(handler Handler)
}

type Consumer struct {
	client  mqtt.Client
	handler Handler
	topic   string
	qos     byte
}

func NewConsumer(client mqtt.Client, topic string, qos byte, handler Handler) *Consumer {
	return &Consumer{
		client:  client,
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
}

func (c *Consumer) SetHandler(handler Handler) {
	c.handler = handler
}

// Callback is the paho callback bound to the handler. Exposed so that an
// OnConnect hook can re-subscribe after a reconnect.
func (c *Consumer) Callback() mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		if c.handler == nil {
			log.Printf("mqtt: no handler set for topic %s", c.topic)
			return
		}
		if err := c.handler(msg.Topic(), msg); err != nil {
			log.Printf("mqtt: error handling message on %s: %v", msg.Topic(), err)
		}
	}
}

// Subscribe registers the callback without blocking.
func (c *Consumer) Subscribe() error {
	token := c.client.Subscribe(c.topic, c.qos, c.Callback())
	token.Wait()
	return token.Error()
}

// ConsumeMessage subscribes and blocks until ctx is done, then unsubscribes.
func (c *Consumer) ConsumeMessage(ctx context.Context) error {
	if err := c.Subscribe(); err != nil {
		log.Printf("mqtt: error subscribing to topic %s: %v", c.topic, err)
		return err
	}
	log.Printf("mqtt: subscribed to topic %s (qos %d)", c.topic, c.qos)

	<-ctx.Done()

	if c.client.IsConnected() {
		c.client.Unsubscribe(c.topic).Wait()
	}
	return nil
}
