package classifier

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/LeonardoBeccarini/agos/internal/model"
)

// Threshold triggers Level when waterLevel >= WaterLevelMin OR flowRate >= FlowRateMin.
// A +Inf minimum disables that half of the condition.
type Threshold struct {
	Level         model.AlertLevel
	WaterLevelMin float64
	FlowRateMin   float64
}

func (t Threshold) matches(s model.TelemetrySample) bool {
	return s.WaterLevel >= t.WaterLevelMin || s.FlowRate >= t.FlowRateMin
}

// Classifier maps a sample to an AlertLevel. It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	thresholds []Threshold // ordinati per severita' decrescente
	unit       string
}

// New valida le soglie e le ordina dalla piu' severa alla meno severa.
func New(unit string, thresholds []Threshold) (*Classifier, error) {
	if unit == "" {
		return nil, errors.New("classifier: unit is required")
	}
	seen := make(map[model.AlertLevel]bool, len(thresholds))
	out := make([]Threshold, 0, len(thresholds))
	for _, t := range thresholds {
		if t.Level <= model.LevelNormal || t.Level > model.LevelEmergency {
			return nil, fmt.Errorf("classifier: threshold level %s not allowed", t.Level)
		}
		if seen[t.Level] {
			return nil, fmt.Errorf("classifier: duplicate threshold for %s", t.Level)
		}
		if math.IsNaN(t.WaterLevelMin) || math.IsNaN(t.FlowRateMin) {
			return nil, fmt.Errorf("classifier: NaN minimum for %s", t.Level)
		}
		if math.IsInf(t.WaterLevelMin, 1) && math.IsInf(t.FlowRateMin, 1) {
			return nil, fmt.Errorf("classifier: threshold for %s has no condition", t.Level)
		}
		seen[t.Level] = true
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level > out[j].Level })
	return &Classifier{thresholds: out, unit: unit}, nil
}

// Classify returns the level of the first (most severe) matching threshold, NORMAL otherwise.
func (c *Classifier) Classify(s model.TelemetrySample) model.AlertLevel {
	for _, t := range c.thresholds {
		if t.matches(s) {
			return t.Level
		}
	}
	return model.LevelNormal
}

// Unit is the water-level unit the thresholds are expressed in.
func (c *Classifier) Unit() string { return c.unit }

// Thresholds returns a copy, most severe first.
func (c *Classifier) Thresholds() []Threshold {
	out := make([]Threshold, len(c.thresholds))
	copy(out, c.thresholds)
	return out
}
