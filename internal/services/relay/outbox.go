package relay

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/LeonardoBeccarini/agos/internal/model"
)

// Sink is an external collaborator that receives each accepted update
// (time-series store, MQTT mirror). Failures are logged, never propagated to the device.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, update model.TelemetryUpdate) error
}

// Outbox decouples ingestion from slow sinks with a bounded buffer drained by one goroutine.
type Outbox struct {
	queue   chan model.TelemetryUpdate
	sinks   []Sink
	timeout time.Duration
	dropped atomic.Uint64
	obs     OutboxObserver
}

// OutboxObserver riceve i fallimenti dei sink e gli scarti (metriche).
type OutboxObserver interface {
	SinkFailed(sink string, err error)
	OutboxDropped()
}

func NewOutbox(size int, timeout time.Duration, sinks ...Sink) *Outbox {
	if size <= 0 {
		size = 256
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Outbox{
		queue:   make(chan model.TelemetryUpdate, size),
		sinks:   sinks,
		timeout: timeout,
	}
}

// SetObserver must be called before Run.
func (o *Outbox) SetObserver(obs OutboxObserver) { o.obs = obs }

// Offer enqueues without blocking; false when the buffer is full.
func (o *Outbox) Offer(u model.TelemetryUpdate) bool {
	select {
	case o.queue <- u:
		return true
	default:
		o.dropped.Add(1)
		if o.obs != nil {
			o.obs.OutboxDropped()
		}
		return false
	}
}

// Dropped counts updates rejected because the buffer was full.
func (o *Outbox) Dropped() uint64 { return o.dropped.Load() }

// Run delivers queued updates until ctx is cancelled.
func (o *Outbox) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-o.queue:
			o.deliver(ctx, u)
		}
	}
}

func (o *Outbox) deliver(ctx context.Context, u model.TelemetryUpdate) {
	for _, s := range o.sinks {
		dctx, cancel := context.WithTimeout(ctx, o.timeout)
		if err := s.Deliver(dctx, u); err != nil {
			log.Printf("relay: sink %s seq=%d: %v", s.Name(), u.Seq, err)
			if o.obs != nil {
				o.obs.SinkFailed(s.Name(), err)
			}
		}
		cancel()
	}
}
