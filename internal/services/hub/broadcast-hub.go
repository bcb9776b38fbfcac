package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/agos/internal/model"
	"github.com/LeonardoBeccarini/agos/internal/model/messages"
)

// Session is one connected console transport.
type Session interface {
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// SubscriptionID identifies a subscriber; zero is never issued.
type SubscriptionID uint64

// Observer riceve gli eventi del hub (metriche).
type Observer interface {
	SessionsChanged(n int)
	SessionDropped(reason string)
}

type nopObserver struct{}

func (nopObserver) SessionsChanged(int)   {}
func (nopObserver) SessionDropped(string) {}

type Config struct {
	SendTimeout time.Duration // per-session write deadline
	BufferSize  int           // frames queued per session before it is considered too slow
	Observer    Observer
}

// Hub fans telemetry updates out to every subscribed console.
// Each subscriber has its own writer goroutine, so a slow or broken session
// never delays the others and frames reach each session in publish order.
type Hub struct {
	mu     sync.Mutex
	subs   map[SubscriptionID]*subscriber
	nextID SubscriptionID
	latest []byte // ultimo frame pubblicato, inviato ai nuovi iscritti
	closed bool

	sendTimeout time.Duration
	bufferSize  int
	obs         Observer
}

type subscriber struct {
	id      SubscriptionID
	session Session
	frames  chan []byte
	stop    chan struct{}
	once    sync.Once
}

func New(cfg Config) *Hub {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 16
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	return &Hub{
		subs:        make(map[SubscriptionID]*subscriber),
		sendTimeout: cfg.SendTimeout,
		bufferSize:  cfg.BufferSize,
		obs:         cfg.Observer,
	}
}

// Subscribe registers s and immediately queues the latest update, if any.
func (h *Hub) Subscribe(s Session) SubscriptionID {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		_ = s.Close()
		return 0
	}
	h.nextID++
	sub := &subscriber{
		id:      h.nextID,
		session: s,
		frames:  make(chan []byte, h.bufferSize),
		stop:    make(chan struct{}),
	}
	if h.latest != nil {
		sub.frames <- h.latest
	}
	h.subs[sub.id] = sub
	go h.writeLoop(sub)
	h.obs.SessionsChanged(len(h.subs))
	return sub.id
}

// Publish queues update for every subscriber without waiting for delivery.
func (h *Hub) Publish(update model.TelemetryUpdate) {
	frame, err := json.Marshal(messages.NewTelemetryEnvelope(update))
	if err != nil {
		log.Printf("hub: marshal update seq=%d: %v", update.Seq, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = frame
	for id, sub := range h.subs {
		select {
		case sub.frames <- frame:
		default:
			log.Printf("hub: session %d too slow (buffer full), dropping", id)
			h.removeLocked(sub, "slow")
		}
	}
}

// Unsubscribe removes a session. Unknown or already removed ids are ignored.
func (h *Hub) Unsubscribe(id SubscriptionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		h.removeLocked(sub, "")
	}
}

// Sessions is the number of live subscribers.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close drops every session and rejects new subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, sub := range h.subs {
		h.removeLocked(sub, "")
	}
}

func (h *Hub) removeLocked(sub *subscriber, reason string) {
	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	sub.once.Do(func() { close(sub.stop) })
	if reason != "" {
		h.obs.SessionDropped(reason)
	}
	h.obs.SessionsChanged(len(h.subs))
}

func (h *Hub) writeLoop(sub *subscriber) {
	defer sub.session.Close()
	for {
		select {
		case <-sub.stop:
			return
		case frame := <-sub.frames:
			ctx, cancel := context.WithTimeout(context.Background(), h.sendTimeout)
			err := sub.session.Send(ctx, frame)
			cancel()
			if err != nil {
				log.Printf("hub: send to session %d failed: %v", sub.id, err)
				h.dropAfterError(sub, err)
				return
			}
		}
	}
}

func (h *Hub) dropAfterError(sub *subscriber, err error) {
	reason := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub, reason)
}
