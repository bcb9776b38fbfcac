package entities

import "time"

// CommandKind is the alert message an operator asks the field device to send.
type CommandKind string

const (
	CommandCritical CommandKind = "critical"
	CommandWarning  CommandKind = "warning"
	CommandInfo     CommandKind = "info"
	CommandAllClear CommandKind = "all-clear"
)

func (k CommandKind) Valid() bool {
	switch k {
	case CommandCritical, CommandWarning, CommandInfo, CommandAllClear:
		return true
	}
	return false
}

// PendingCommand is the single queued operator command waiting for a device poll.
// Recipients is a snapshot taken at issue time.
type PendingCommand struct {
	ID         string      `json:"id"`
	Kind       CommandKind `json:"kind"`
	IssuedBy   string      `json:"issuedBy"`
	IssuedAt   time.Time   `json:"issuedAt"`
	Recipients []string    `json:"recipients"`
	ExpiresAt  time.Time   `json:"expiresAt"`
}

// Expired reports whether the command can no longer be delivered at now.
func (c PendingCommand) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
