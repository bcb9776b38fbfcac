package model

import (
	"github.com/LeonardoBeccarini/agos/internal/model/entities"
	"github.com/LeonardoBeccarini/agos/internal/model/messages"
)

// Alias per esporre tipi comuni ai servizi

type (
	TelemetrySample  = entities.TelemetrySample
	AlertLevel       = entities.AlertLevel
	PendingCommand   = entities.PendingCommand
	CommandKind      = entities.CommandKind
	TelemetryReading = messages.TelemetryReading
	TelemetryUpdate  = messages.TelemetryUpdate
)

const (
	LevelNormal    = entities.LevelNormal
	LevelAdvisory  = entities.LevelAdvisory
	LevelWatch     = entities.LevelWatch
	LevelEmergency = entities.LevelEmergency

	CommandCritical = entities.CommandCritical
	CommandWarning  = entities.CommandWarning
	CommandInfo     = entities.CommandInfo
	CommandAllClear = entities.CommandAllClear
)

var ParseAlertLevel = entities.ParseAlertLevel
