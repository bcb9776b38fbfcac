package classifier

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/agos/internal/model"
	"github.com/LeonardoBeccarini/agos/internal/model/entities"
)

// File is the on-disk threshold configuration.
//
//	unit: in
//	thresholds:
//	  - level: EMERGENCY
//	    water_level_min: 35
//	    flow_rate_min: 20
type File struct {
	Unit       string          `yaml:"unit"`
	Thresholds []ThresholdSpec `yaml:"thresholds"`
}

// ThresholdSpec: un minimo omesso disabilita quella condizione.
type ThresholdSpec struct {
	Level         string   `yaml:"level"`
	WaterLevelMin *float64 `yaml:"water_level_min"`
	FlowRateMin   *float64 `yaml:"flow_rate_min"`
}

// Load reads a thresholds file. An empty path yields the built-in defaults.
func Load(path string) (*Classifier, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	f.applyDefaults()
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f.Build()
}

func (f *File) applyDefaults() {
	if f.Unit == "" {
		f.Unit = entities.UnitInches
	}
	if len(f.Thresholds) == 0 {
		f.Thresholds = defaultSpecs()
	}
}

func (f *File) validate() error {
	if !entities.ValidUnit(f.Unit) {
		return fmt.Errorf("unsupported unit %q", f.Unit)
	}
	for i, t := range f.Thresholds {
		if t.WaterLevelMin == nil && t.FlowRateMin == nil {
			return fmt.Errorf("thresholds[%d] (%s): water_level_min or flow_rate_min is required", i, t.Level)
		}
	}
	return nil
}

// Build converts the file into a Classifier.
func (f *File) Build() (*Classifier, error) {
	ts := make([]Threshold, 0, len(f.Thresholds))
	for _, spec := range f.Thresholds {
		lvl, err := model.ParseAlertLevel(spec.Level)
		if err != nil {
			return nil, err
		}
		ts = append(ts, Threshold{
			Level:         lvl,
			WaterLevelMin: orInf(spec.WaterLevelMin),
			FlowRateMin:   orInf(spec.FlowRateMin),
		})
	}
	return New(f.Unit, ts)
}

func orInf(v *float64) float64 {
	if v == nil {
		return math.Inf(1)
	}
	return *v
}

func ptr(v float64) *float64 { return &v }

// valori in pollici, sensore montato a ~1m dal letto del fiume
func defaultSpecs() []ThresholdSpec {
	return []ThresholdSpec{
		{Level: "EMERGENCY", WaterLevelMin: ptr(35), FlowRateMin: ptr(20)},
		{Level: "WATCH", WaterLevelMin: ptr(25), FlowRateMin: ptr(10)},
		{Level: "ADVISORY", WaterLevelMin: ptr(15), FlowRateMin: ptr(5)},
	}
}

// Default is the classifier used when no thresholds file is configured.
func Default() *Classifier {
	f := File{Unit: entities.UnitInches, Thresholds: defaultSpecs()}
	c, err := f.Build()
	if err != nil {
		panic(err)
	}
	return c
}
