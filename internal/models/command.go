package models

import (
	"errors"
	"time"
)

// ErrMissingCommandID is returned when a command payload carries no id
var ErrMissingCommandID = errors.New("remote command payload missing id")

// CommandState is the lifecycle state of a remote command
type CommandState string

// Command states as reported by Nightscout
const (
	CommandPending    CommandState = "Pending"
	CommandInProgress CommandState = "InProgress"
	CommandSuccess    CommandState = "Success"
	CommandError      CommandState = "Error"
)

// Title returns the display title for the state
func (s CommandState) Title() string {
	if s == CommandInProgress {
		return "In-Progress"
	}
	return string(s)
}

// IsTerminal reports whether no further transitions are possible
func (s CommandState) IsTerminal() bool {
	return s == CommandSuccess || s == CommandError
}

// CanTransitionTo reports whether the backend may move a command from s to next
func (s CommandState) CanTransitionTo(next CommandState) bool {
	switch s {
	case CommandPending:
		return next == CommandInProgress || next.IsTerminal()
	case CommandInProgress:
		return next.IsTerminal()
	default:
		return false
	}
}

// CommandStatus is a state plus the backend's message
type CommandStatus struct {
	State   CommandState `json:"state"`
	Message string       `json:"message"`
}

// ActionType identifies the kind of remote action
type ActionType string

// Remote action types
const (
	ActionBolus          ActionType = "bolus"
	ActionCarbs          ActionType = "carbs"
	ActionOverride       ActionType = "override"
	ActionCancelOverride ActionType = "cancelOverride"
	ActionAutobolus      ActionType = "autobolus"
	ActionClosedLoop     ActionType = "closedLoop"
)

// Action is the payload of a remote command. Only the fields that belong to
// Type are set.
type Action struct {
	Type ActionType `json:"actionType"`

	AmountInUnits float64    `json:"amountInUnits,omitempty"`
	AmountInGrams float64    `json:"amountInGrams,omitempty"`
	FoodType      string     `json:"foodType,omitempty"`
	StartDate     *time.Time `json:"startDate,omitempty"`
	Name          string     `json:"name,omitempty"`
	RemoteAddress string     `json:"remoteAddress,omitempty"`
	Active        *bool      `json:"active,omitempty"`

	// Durations are sent in seconds
	AbsorptionSeconds *float64 `json:"absorptionTime,omitempty"`
	DurationSeconds   *float64 `json:"durationTime,omitempty"`
}

// AbsorptionTime returns the carb absorption time, if set
func (a Action) AbsorptionTime() (time.Duration, bool) {
	return secondsDuration(a.AbsorptionSeconds)
}

// Duration returns the override duration, if set
func (a Action) Duration() (time.Duration, bool) {
	return secondsDuration(a.DurationSeconds)
}

func secondsDuration(seconds *float64) (time.Duration, bool) {
	if seconds == nil {
		return 0, false
	}
	return time.Duration(*seconds * float64(time.Second)), true
}

// RemoteCommand mirrors a command tracked by the remote backend
type RemoteCommand struct {
	ID          string        `json:"id"`
	Action      Action        `json:"action"`
	Status      CommandStatus `json:"status"`
	CreatedDate time.Time     `json:"createdDate"`
}

// RemoteCommandPayload is the Nightscout wire form of a remote command
type RemoteCommandPayload struct {
	ID          string        `json:"_id,omitempty"`
	Action      Action        `json:"action"`
	Status      CommandStatus `json:"status"`
	CreatedDate time.Time     `json:"createdDate"`
	OTP         string        `json:"otp,omitempty"`
}

// ToRemoteCommand converts the payload, rejecting payloads without an id
func (p RemoteCommandPayload) ToRemoteCommand() (RemoteCommand, error) {
	if p.ID == "" {
		return RemoteCommand{}, ErrMissingCommandID
	}
	return RemoteCommand{
		ID:          p.ID,
		Action:      p.Action,
		Status:      p.Status,
		CreatedDate: p.CreatedDate,
	}, nil
}
