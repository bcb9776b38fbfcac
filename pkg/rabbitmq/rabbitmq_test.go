package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

type fakeClient struct {
	mu        sync.Mutex
	connected bool
	pubErr    error
	pubs      []published
	subs      map[string]mqtt.MessageHandler
}

func newFakeClient() *fakeClient {
	return &fakeClient{connected: true, subs: map[string]mqtt.MessageHandler{}}
}

func (c *fakeClient) IsConnected() bool      { return c.connected }
func (c *fakeClient) IsConnectionOpen() bool { return c.connected }
func (c *fakeClient) Connect() mqtt.Token    { return newToken(nil) }
func (c *fakeClient) Disconnect(uint)        { c.connected = false }
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pubs = append(c.pubs, published{topic, qos, retained, payload.([]byte)})
	return newToken(c.pubErr)
}
func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[topic] = cb
	return newToken(nil)
}
func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return newToken(nil)
}
func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	return newToken(nil)
}
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (c *fakeClient) handler(topic string) mqtt.MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[topic]
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestPublisherEncodesJSON(t *testing.T) {
	c := newFakeClient()
	p := NewPublisher(c, "agos/telemetry/update", 1, true)

	if err := p.PublishMessage(context.Background(), map[string]int{"seq": 3}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.PublishMessage(context.Background(), "raw"); err != nil {
		t.Fatalf("publish raw: %v", err)
	}
	if len(c.pubs) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(c.pubs))
	}
	if got := string(c.pubs[0].payload); got != `{"seq":3}` {
		t.Fatalf("payload = %s", got)
	}
	if string(c.pubs[1].payload) != "raw" {
		t.Fatalf("raw payload altered: %s", c.pubs[1].payload)
	}
	if c.pubs[0].qos != 1 || !c.pubs[0].retain || c.pubs[0].topic != "agos/telemetry/update" {
		t.Fatalf("unexpected publish options: %+v", c.pubs[0])
	}
}

func TestPublisherErrors(t *testing.T) {
	c := newFakeClient()
	c.connected = false
	p := NewPublisher(c, "t", 0, false)
	if err := p.PublishMessage(context.Background(), "x"); err == nil {
		t.Fatal("expected error when disconnected")
	}

	c.connected = true
	c.pubErr = errors.New("boom")
	if err := p.PublishMessage(context.Background(), "x"); err == nil {
		t.Fatal("expected broker error to surface")
	}
}

func TestConsumerDispatchesAndUnsubscribes(t *testing.T) {
	c := newFakeClient()
	got := make(chan string, 1)
	cons := NewConsumer(c, "agos/telemetry/ingest", 1, func(topic string, m mqtt.Message) error {
		got <- topic + ":" + string(m.Payload())
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cons.ConsumeMessage(ctx) }()

	var cb mqtt.MessageHandler
	deadline := time.Now().Add(time.Second)
	for cb == nil && time.Now().Before(deadline) {
		cb = c.handler("agos/telemetry/ingest")
		time.Sleep(5 * time.Millisecond)
	}
	if cb == nil {
		t.Fatal("consumer never subscribed")
	}
	cb(c, fakeMessage{topic: "agos/telemetry/ingest", payload: []byte("hi")})

	select {
	case s := <-got:
		if s != "agos/telemetry/ingest:hi" {
			t.Fatalf("handler got %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("consume: %v", err)
	}
	if c.handler("agos/telemetry/ingest") != nil {
		t.Fatal("expected unsubscribe on cancel")
	}
}
