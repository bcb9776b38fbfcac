package entities

import "time"

// TelemetrySample is one reading reported by the field device.
// Water level is expressed in the deployment unit (see classifier thresholds).
type TelemetrySample struct {
	WaterLevel          float64   `json:"waterLevel"`
	FlowRate            float64   `json:"flowRate"`
	UpstreamTurbidity   float64   `json:"upstreamTurbidity"`
	DownstreamTurbidity float64   `json:"downstreamTurbidity"`
	BatteryLevel        int       `json:"batteryLevel"` // 0-100
	ObservedAt          time.Time `json:"observedAt"`
}

// Unita' di misura supportate per il livello dell'acqua.
const (
	UnitInches      = "in"
	UnitCentimeters = "cm"
)

const centimetersPerInch = 2.54

// ConvertWaterLevel converte v da unit "from" a "to". ok=false se una delle due non e' supportata.
func ConvertWaterLevel(v float64, from, to string) (float64, bool) {
	if !ValidUnit(from) || !ValidUnit(to) {
		return 0, false
	}
	switch {
	case from == to:
		return v, true
	case from == UnitCentimeters && to == UnitInches:
		return v / centimetersPerInch, true
	default:
		return v * centimetersPerInch, true
	}
}

func ValidUnit(u string) bool {
	return u == UnitInches || u == UnitCentimeters
}
