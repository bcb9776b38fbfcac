package messages

import "time"

// TelemetryReading is the wire form posted by the field device (HTTP body or MQTT payload).
// Pointers let the relay tell a missing field from a zero value.
type TelemetryReading struct {
	WaterLevel          *float64   `json:"waterLevel"`
	FlowRate            *float64   `json:"flowRate"`
	UpstreamTurbidity   *float64   `json:"upstreamTurbidity"`
	DownstreamTurbidity *float64   `json:"downstreamTurbidity"`
	BatteryLevel        *int       `json:"batteryLevel"`
	ObservedAt          *time.Time `json:"observedAt,omitempty"`
	Unit                string     `json:"unit,omitempty"` // "in" | "cm", vuoto = unita' configurata
}
