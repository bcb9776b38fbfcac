package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/agos/internal/model"
	"github.com/LeonardoBeccarini/agos/internal/model/entities"
	"github.com/LeonardoBeccarini/agos/internal/services/classifier"
	"github.com/LeonardoBeccarini/agos/pkg/dedup"
)

var ErrInvalidTelemetry = errors.New("invalid telemetry")

// Broadcaster is the live fan-out (the hub).
type Broadcaster interface {
	Publish(update model.TelemetryUpdate)
}

// Observer riceve gli esiti dell'ingestione (metriche).
type Observer interface {
	TelemetryAccepted(level model.AlertLevel)
	TelemetryRejected()
	TelemetryDuplicate()
}

type nopObserver struct{}

func (nopObserver) TelemetryAccepted(model.AlertLevel) {}
func (nopObserver) TelemetryRejected()                 {}
func (nopObserver) TelemetryDuplicate()                {}

type Config struct {
	Classifier *classifier.Classifier
	Hub        Broadcaster
	Outbox     *Outbox        // optional: asynchronous hand-off to external sinks
	Deduper    *dedup.Deduper // optional: drops retransmitted readings
	Observer   Observer
	Now        func() time.Time
}

// Relay turns field-device readings into broadcast updates.
type Relay struct {
	mu     sync.Mutex // serializza store+classify+publish: l'ordine di ingestione e' l'ordine di consegna
	latest *model.TelemetryUpdate
	seq    uint64

	classifier *classifier.Classifier
	hub        Broadcaster
	outbox     *Outbox
	deduper    *dedup.Deduper
	obs        Observer
	now        func() time.Time
}

func New(cfg Config) (*Relay, error) {
	if cfg.Classifier == nil {
		return nil, errors.New("relay: classifier is nil")
	}
	if cfg.Hub == nil {
		return nil, errors.New("relay: hub is nil")
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Relay{
		classifier: cfg.Classifier,
		hub:        cfg.Hub,
		outbox:     cfg.Outbox,
		deduper:    cfg.Deduper,
		obs:        cfg.Observer,
		now:        cfg.Now,
	}, nil
}

// Ingest validates a reading, stores it as the latest sample, classifies it and
// publishes the update. It never waits for consoles or external sinks.
func (r *Relay) Ingest(reading model.TelemetryReading) (model.AlertLevel, error) {
	sample, err := ToSample(reading, r.classifier.Unit(), r.now)
	if err != nil {
		r.obs.TelemetryRejected()
		return model.LevelNormal, err
	}
	level := r.classifier.Classify(sample)

	if r.deduper != nil && reading.ObservedAt != nil {
		if !r.deduper.ShouldProcess(fingerprint(sample)) {
			r.obs.TelemetryDuplicate()
			return level, nil
		}
	}

	r.mu.Lock()
	r.seq++
	update := model.TelemetryUpdate{
		Sample: sample,
		Level:  level,
		Unit:   r.classifier.Unit(),
		Seq:    r.seq,
	}
	r.latest = &update
	r.hub.Publish(update)
	r.mu.Unlock()

	r.obs.TelemetryAccepted(level)
	if r.outbox != nil && !r.outbox.Offer(update) {
		log.Printf("relay: outbox full, update seq=%d not forwarded", update.Seq)
	}
	return level, nil
}

// Latest returns the most recent accepted update.
func (r *Relay) Latest() (model.TelemetryUpdate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return model.TelemetryUpdate{}, false
	}
	return *r.latest, true
}

// ToSample checks that every numeric field is present and finite and that the battery is in [0,100].
// The water level is converted to unit when the reading declares a different one.
func ToSample(rd model.TelemetryReading, unit string, now func() time.Time) (model.TelemetrySample, error) {
	fields := []struct {
		name string
		v    *float64
	}{
		{"waterLevel", rd.WaterLevel},
		{"flowRate", rd.FlowRate},
		{"upstreamTurbidity", rd.UpstreamTurbidity},
		{"downstreamTurbidity", rd.DownstreamTurbidity},
	}
	for _, f := range fields {
		if f.v == nil {
			return model.TelemetrySample{}, fmt.Errorf("%w: %s is required", ErrInvalidTelemetry, f.name)
		}
		if math.IsNaN(*f.v) || math.IsInf(*f.v, 0) {
			return model.TelemetrySample{}, fmt.Errorf("%w: %s is not finite", ErrInvalidTelemetry, f.name)
		}
	}
	if rd.BatteryLevel == nil {
		return model.TelemetrySample{}, fmt.Errorf("%w: batteryLevel is required", ErrInvalidTelemetry)
	}
	if b := *rd.BatteryLevel; b < 0 || b > 100 {
		return model.TelemetrySample{}, fmt.Errorf("%w: batteryLevel %d out of range [0,100]", ErrInvalidTelemetry, b)
	}

	water := *rd.WaterLevel
	if rd.Unit != "" && rd.Unit != unit {
		v, ok := entities.ConvertWaterLevel(water, rd.Unit, unit)
		if !ok {
			return model.TelemetrySample{}, fmt.Errorf("%w: unsupported unit %q", ErrInvalidTelemetry, rd.Unit)
		}
		water = v
	}

	observed := now().UTC()
	if rd.ObservedAt != nil && !rd.ObservedAt.IsZero() {
		observed = rd.ObservedAt.UTC()
	}
	return model.TelemetrySample{
		WaterLevel:          water,
		FlowRate:            *rd.FlowRate,
		UpstreamTurbidity:   *rd.UpstreamTurbidity,
		DownstreamTurbidity: *rd.DownstreamTurbidity,
		BatteryLevel:        *rd.BatteryLevel,
		ObservedAt:          observed,
	}, nil
}

func fingerprint(s model.TelemetrySample) string {
	b, _ := json.Marshal(s)
	return dedup.Fingerprint(b)
}
