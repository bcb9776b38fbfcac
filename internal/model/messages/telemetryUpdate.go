package messages

import (
	"github.com/LeonardoBeccarini/agos/internal/model/entities"
)

const TypeTelemetryUpdate = "telemetry-update"

// TelemetryUpdate is what the hub pushes to consoles after each accepted sample.
// Seq grows by one per accepted sample and lets clients detect gaps.
type TelemetryUpdate struct {
	Sample entities.TelemetrySample `json:"sample"`
	Level  entities.AlertLevel      `json:"level"`
	Unit   string                   `json:"unit"`
	Seq    uint64                   `json:"seq"`
}

// Envelope is the frame written on the console channel.
type Envelope struct {
	Type string          `json:"type"`
	Data TelemetryUpdate `json:"data"`
}

func NewTelemetryEnvelope(u TelemetryUpdate) Envelope {
	return Envelope{Type: TypeTelemetryUpdate, Data: u}
}
