package recorder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/agos/internal/model"
)

const Measurement = "river_telemetry"

// PointWriter is satisfied by influxdb2 api.WriteAPIBlocking.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Recorder hands each accepted update to the time-series store. A circuit
// breaker skips writes while the store is down so the outbox keeps draining.
type Recorder struct {
	w  PointWriter
	cb *gobreaker.CircuitBreaker

	mu      sync.RWMutex
	lastErr time.Time

	written atomic.Int64
	skipped atomic.Int64
}

type BreakerSettings struct {
	Fails    int           // errori consecutivi prima di aprire
	Open     time.Duration // quanto resta aperto prima di riprovare
	Interval time.Duration // reset dei contatori in stato chiuso
}

func New(w PointWriter, bs BreakerSettings) *Recorder {
	if bs.Fails <= 0 {
		bs.Fails = 3
	}
	if bs.Open <= 0 {
		bs.Open = 30 * time.Second
	}
	return &Recorder{
		w:       w,
		cb:      mkCB("influx", bs),
		lastErr: time.Now().Add(-24 * time.Hour),
	}
}

func mkCB(name string, bs BreakerSettings) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: bs.Interval,
		Timeout:  bs.Open,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(bs.Fails)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("recorder: breaker %s %s -> %s", name, from, to)
		},
	})
}

func (r *Recorder) Name() string { return "influx" }

// Deliver writes one point. With the breaker open it fails fast with gobreaker.ErrOpenState.
func (r *Recorder) Deliver(ctx context.Context, u model.TelemetryUpdate) error {
	_, err := r.cb.Execute(func() (interface{}, error) {
		return nil, r.w.WritePoint(ctx, UpdateToPoint(u))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			r.skipped.Add(1)
			return fmt.Errorf("recorder: write skipped: %w", err)
		}
		r.mu.Lock()
		r.lastErr = time.Now()
		r.mu.Unlock()
		return fmt.Errorf("recorder: write seq=%d: %w", u.Seq, err)
	}
	r.written.Add(1)
	return nil
}

// LastErrorAge is the time since the last failed write.
func (r *Recorder) LastErrorAge() time.Duration {
	if r == nil {
		return 99999 * time.Hour
	}
	r.mu.RLock()
	t := r.lastErr
	r.mu.RUnlock()
	return time.Since(t)
}

func (r *Recorder) BreakerState() gobreaker.State { return r.cb.State() }

func (r *Recorder) Written() int64 { return r.written.Load() }
func (r *Recorder) Skipped() int64 { return r.skipped.Load() }

// UpdateToPoint normalizza un TelemetryUpdate in un *write.Point.
func UpdateToPoint(u model.TelemetryUpdate) *write.Point {
	s := u.Sample
	tags := map[string]string{
		"level": u.Level.String(),
		"unit":  u.Unit,
	}
	fields := map[string]interface{}{
		"water_level":          s.WaterLevel,
		"flow_rate":            s.FlowRate,
		"upstream_turbidity":   s.UpstreamTurbidity,
		"downstream_turbidity": s.DownstreamTurbidity,
		"battery_level":        int64(s.BatteryLevel),
		"level_rank":           int64(u.Level),
		"seq":                  int64(u.Seq),
	}
	return influxdb2.NewPoint(Measurement, tags, fields, s.ObservedAt)
}
