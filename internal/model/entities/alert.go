package entities

import (
	"fmt"
	"strings"
)

// AlertLevel is the ordered severity derived from a telemetry sample.
// NORMAL < ADVISORY < WATCH < EMERGENCY.
type AlertLevel int

const (
	LevelNormal AlertLevel = iota
	LevelAdvisory
	LevelWatch
	LevelEmergency
)

var levelNames = [...]string{"NORMAL", "ADVISORY", "WATCH", "EMERGENCY"}

func (l AlertLevel) String() string {
	if l < LevelNormal || l > LevelEmergency {
		return fmt.Sprintf("AlertLevel(%d)", int(l))
	}
	return levelNames[l]
}

// ParseAlertLevel accetta il nome (case-insensitive) del livello.
func ParseAlertLevel(s string) (AlertLevel, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == name {
			return AlertLevel(i), nil
		}
	}
	return LevelNormal, fmt.Errorf("unknown alert level %q", s)
}

func (l AlertLevel) MarshalText() ([]byte, error) {
	if l < LevelNormal || l > LevelEmergency {
		return nil, fmt.Errorf("invalid alert level %d", int(l))
	}
	return []byte(levelNames[l]), nil
}

func (l *AlertLevel) UnmarshalText(b []byte) error {
	v, err := ParseAlertLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
