// Package models contains data structures used throughout the application
package models

// Glucose status categories
const (
	StatusUrgentLow  = "urgent_low"
	StatusLow        = "low"
	StatusNormal     = "normal"
	StatusHigh       = "high"
	StatusUrgentHigh = "urgent_high"
)

// DisplaySettings contains the caregiver's display and alert preferences.
// It is passed explicitly to the components that need it and never shared
// mutably between them.
type DisplaySettings struct {
	Unit string `json:"unit"` // "mg/dL" or "mmol/L"

	// Glucose thresholds (in mg/dL, converted for display)
	TargetLow  int `json:"targetLow"`
	TargetHigh int `json:"targetHigh"`
	UrgentLow  int `json:"urgentLow"`
	UrgentHigh int `json:"urgentHigh"`

	// Alert settings
	EnableHighAlert       bool `json:"enableHighAlert"`
	EnableLowAlert        bool `json:"enableLowAlert"`
	EnableUrgentHighAlert bool `json:"enableUrgentHighAlert"`
	EnableUrgentLowAlert  bool `json:"enableUrgentLowAlert"`
	EnableCommandAlerts   bool `json:"enableCommandAlerts"`
	RepeatAlertMinutes    int  `json:"repeatAlertMinutes"` // 0 = no repeat
}

// DefaultDisplaySettings returns settings with default values
func DefaultDisplaySettings() DisplaySettings {
	return DisplaySettings{
		Unit: UnitMgdL,

		TargetLow:  70,
		TargetHigh: 180,
		UrgentLow:  55,
		UrgentHigh: 250,

		EnableHighAlert:       true,
		EnableLowAlert:        true,
		EnableUrgentHighAlert: true,
		EnableUrgentLowAlert:  true,
		EnableCommandAlerts:   true,
		RepeatAlertMinutes:    15,
	}
}

// GetGlucoseStatus returns the status string for a glucose value
func (s DisplaySettings) GetGlucoseStatus(mgdl int) string {
	switch {
	case mgdl <= s.UrgentLow:
		return StatusUrgentLow
	case mgdl <= s.TargetLow:
		return StatusLow
	case mgdl >= s.UrgentHigh:
		return StatusUrgentHigh
	case mgdl >= s.TargetHigh:
		return StatusHigh
	default:
		return StatusNormal
	}
}

// DisplayUnit returns the configured unit, defaulting to mg/dL
func (s DisplaySettings) DisplayUnit() string {
	if s.Unit == UnitMmolL {
		return UnitMmolL
	}
	return UnitMgdL
}
