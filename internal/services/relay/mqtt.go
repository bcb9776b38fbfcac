package relay

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/agos/internal/model"
	"github.com/LeonardoBeccarini/agos/internal/model/messages"
	"github.com/LeonardoBeccarini/agos/pkg/rabbitmq"
)

// HandleMQTT is the consumer handler for the ingest topic: same path as POST /telemetry.
func (r *Relay) HandleMQTT(_ string, m mqtt.Message) error {
	var reading model.TelemetryReading
	if err := json.Unmarshal(m.Payload(), &reading); err != nil {
		r.obs.TelemetryRejected()
		return fmt.Errorf("%w: %v", ErrInvalidTelemetry, err)
	}
	_, err := r.Ingest(reading)
	return err
}

// MirrorSink republishes every accepted update on an MQTT topic for
// subscribers that are not consoles (dashboards, other services).
type MirrorSink struct {
	pub rabbitmq.IPublisher
}

func NewMirrorSink(pub rabbitmq.IPublisher) *MirrorSink {
	return &MirrorSink{pub: pub}
}

func (s *MirrorSink) Name() string { return "mqtt-mirror" }

func (s *MirrorSink) Deliver(ctx context.Context, u model.TelemetryUpdate) error {
	return s.pub.PublishMessage(ctx, messages.NewTelemetryEnvelope(u))
}
