package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/agos/internal/model"
	"github.com/LeonardoBeccarini/agos/internal/model/entities"
)

// ====== Tunables ======
const (
	// baseWaterLevel: livello a riposo in pollici (sensore a ~1m dal letto).
	baseWaterLevel = 8.0

	// riseRatePerMin / recedeRatePerMin: pollici al minuto durante e dopo una piena.
	riseRatePerMin   = 0.8
	recedeRatePerMin = 0.3

	// drainPerMin: consumo batteria in % al minuto; di giorno il pannello ricarica.
	drainPerMin  = 0.02
	chargePerMin = 0.05
)

// DataGenerator mantiene lo stato del fiume e lo fa evolvere nel tempo.
// Una "piena" (StartStorm) porta il livello verso un picco e poi lo fa rientrare.
type DataGenerator struct {
	mu      sync.Mutex
	rnd     *rand.Rand
	seeded  bool
	last    time.Time
	water   float64
	battery float64

	stormUntil time.Time
	peak       float64
}

func NewDataGenerator(seed int64) *DataGenerator {
	return &DataGenerator{
		rnd:     rand.New(rand.NewSource(seed)),
		water:   baseWaterLevel,
		battery: 100,
	}
}

// StartStorm makes the water rise towards peak (inches) for d.
func (g *DataGenerator) StartStorm(now time.Time, d time.Duration, peak float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stormUntil = now.Add(d)
	g.peak = math.Max(peak, baseWaterLevel)
}

// Next aggiorna lo stato interno e restituisce una lettura completa in pollici.
func (g *DataGenerator) Next(now time.Time) model.TelemetryReading {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.seeded {
		g.last = now
		g.seeded = true
	}
	dtMin := now.Sub(g.last).Minutes()
	if dtMin < 0 {
		dtMin = 0
	}
	g.last = now

	if now.Before(g.stormUntil) {
		g.water = math.Min(g.peak, g.water+riseRatePerMin*dtMin)
	} else {
		g.water = math.Max(baseWaterLevel, g.water-recedeRatePerMin*dtMin)
	}

	h := now.Hour()
	if h >= 8 && h < 17 {
		g.battery = math.Min(100, g.battery+chargePerMin*dtMin)
	} else {
		g.battery = math.Max(0, g.battery-drainPerMin*dtMin)
	}

	water := math.Max(0, g.water+g.noise(0.2))
	flow := math.Max(0, (water-baseWaterLevel)*0.6+g.noise(0.3))
	up := math.Max(0, 2+flow*1.5+g.noise(0.5))
	down := math.Max(0, up*1.1+g.noise(0.5))
	battery := int(math.Round(g.battery))
	ts := now.UTC()

	return model.TelemetryReading{
		WaterLevel:          &water,
		FlowRate:            &flow,
		UpstreamTurbidity:   &up,
		DownstreamTurbidity: &down,
		BatteryLevel:        &battery,
		ObservedAt:          &ts,
		Unit:                entities.UnitInches,
	}
}

func (g *DataGenerator) noise(amp float64) float64 {
	return (g.rnd.Float64()*2 - 1) * amp
}
