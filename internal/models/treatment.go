// Package models contains data structures used throughout the application
package models

import "time"

// Treatment represents a treatment entry from Nightscout (insulin, carbs, etc.)
type Treatment struct {
	ID           string  `json:"_id"`
	EventType    string  `json:"eventType"`
	Date         int64   `json:"date"`           // Unix timestamp in milliseconds
	CreatedAt    string  `json:"created_at"`
	Timestamp    string  `json:"timestamp"`
	Insulin      float64 `json:"insulin"`        // Units of insulin
	Carbs        float64 `json:"carbs"`          // Grams of carbohydrates
	Duration     float64 `json:"duration"`       // Duration in minutes (for temp basals, overrides)
	Notes        string  `json:"notes"`
	EnteredBy    string  `json:"enteredBy"`
	Automatic    bool    `json:"automatic"`
	SyncID       string  `json:"syncIdentifier"`
	FoodType     string  `json:"foodType"`
	Absorption   float64 `json:"absorptionTime"` // Minutes
	Rate         float64 `json:"rate"`           // U/hr for temp basals
	Amount       float64 `json:"amount"`         // Delivered units for temp basals
	Reason       string  `json:"reason"`         // Override name
	Symbol       string  `json:"reasonDisplay"`
	DurationType string  `json:"durationType"`   // "indefinite" for open-ended overrides

	CorrectionRange         []float64 `json:"correctionRange"`
	InsulinNeedsScaleFactor *float64  `json:"insulinNeedsScaleFactor"`
}

// Time returns the time of the treatment
func (t *Treatment) Time() time.Time {
	if t.Date > 0 {
		return time.UnixMilli(t.Date)
	}
	for _, raw := range []string{t.Timestamp, t.CreatedAt} {
		if raw == "" {
			continue
		}
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// HasInsulin returns true if this treatment includes insulin
func (t *Treatment) HasInsulin() bool {
	return t.Insulin > 0
}

// HasCarbs returns true if this treatment includes carbohydrates
func (t *Treatment) HasCarbs() bool {
	return t.Carbs > 0
}

// IsBolus returns true if this is a bolus treatment
func (t *Treatment) IsBolus() bool {
	bolusTypes := map[string]bool{
		TreatmentEventTypes.Bolus:           true,
		TreatmentEventTypes.SnackBolus:      true,
		TreatmentEventTypes.MealBolus:       true,
		TreatmentEventTypes.CorrectionBolus: true,
		TreatmentEventTypes.ComboBolus:      true,
	}
	return bolusTypes[t.EventType] || (t.HasInsulin() && t.EventType != TreatmentEventTypes.TempBasal)
}

// IsOverride returns true if this treatment records a temporary override
func (t *Treatment) IsOverride() bool {
	return t.EventType == TreatmentEventTypes.TemporaryOverride
}

func (t *Treatment) identifier() string {
	if t.ID != "" {
		return t.ID
	}
	return t.SyncID
}

// ToCarbEntry converts the treatment into a carb entry
func (t *Treatment) ToCarbEntry() CarbEntry {
	return CarbEntry{
		ID:             t.identifier(),
		Timestamp:      t.Time(),
		Grams:          t.Carbs,
		AbsorptionTime: time.Duration(t.Absorption * float64(time.Minute)),
		FoodType:       t.FoodType,
	}
}

// ToBolusEntry converts the treatment into a bolus entry
func (t *Treatment) ToBolusEntry() BolusEntry {
	return BolusEntry{
		ID:        t.identifier(),
		Timestamp: t.Time(),
		Units:     t.Insulin,
		Automatic: t.Automatic,
	}
}

// ToBasalEntry converts the treatment into a temp basal entry
func (t *Treatment) ToBasalEntry() BasalEntry {
	return BasalEntry{
		ID:        t.identifier(),
		Timestamp: t.Time(),
		Rate:      t.Rate,
		Amount:    t.Amount,
		Duration:  time.Duration(t.Duration * float64(time.Minute)),
	}
}

// ToOverrideEntry converts the treatment into an override ledger entry
func (t *Treatment) ToOverrideEntry() OverrideEntry {
	entry := OverrideEntry{
		ID:                      t.identifier(),
		Timestamp:               t.Time(),
		Name:                    t.Reason,
		Symbol:                  t.Symbol,
		InsulinNeedsScaleFactor: t.InsulinNeedsScaleFactor,
		EnteredBy:               t.EnteredBy,
	}
	if t.DurationType != "indefinite" && t.Duration > 0 {
		d := time.Duration(t.Duration * float64(time.Minute))
		entry.Duration = &d
	}
	if len(t.CorrectionRange) == 2 {
		entry.CorrectionRange = &TargetRange{Low: t.CorrectionRange[0], High: t.CorrectionRange[1]}
	}
	return entry
}

// CarbEntry is a carbohydrate treatment
type CarbEntry struct {
	ID             string        `json:"id"`
	Timestamp      time.Time     `json:"timestamp"`
	Grams          float64       `json:"grams"`
	AbsorptionTime time.Duration `json:"absorptionTime,omitempty"`
	FoodType       string        `json:"foodType,omitempty"`
}

// BolusEntry is an insulin bolus treatment
type BolusEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Units     float64   `json:"units"`
	Automatic bool      `json:"automatic"`
}

// BasalEntry is a temporary basal rate treatment
type BasalEntry struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Rate      float64       `json:"rate"`
	Amount    float64       `json:"amount,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// OverrideEntry is a "Temporary Override" treatment. A nil Duration means
// the override was started without an end.
type OverrideEntry struct {
	ID                      string         `json:"id"`
	Timestamp               time.Time      `json:"timestamp"`
	Name                    string         `json:"name"`
	Symbol                  string         `json:"symbol,omitempty"`
	Duration                *time.Duration `json:"duration,omitempty"`
	CorrectionRange         *TargetRange   `json:"correctionRange,omitempty"`
	InsulinNeedsScaleFactor *float64       `json:"insulinNeedsScaleFactor,omitempty"`
	EnteredBy               string         `json:"enteredBy,omitempty"`
}

// EndDate returns when the override ends, if it has a duration
func (o OverrideEntry) EndDate() (time.Time, bool) {
	if o.Duration == nil {
		return time.Time{}, false
	}
	return o.Timestamp.Add(*o.Duration), true
}

// TreatmentEventTypes contains the Nightscout event types the caregiver reads and writes
var TreatmentEventTypes = struct {
	Bolus                   string
	SnackBolus              string
	MealBolus               string
	CorrectionBolus         string
	CarbCorrection          string
	ComboBolus              string
	TempBasal               string
	TemporaryOverride       string
	TemporaryOverrideEnd    string
	RemoteBolusEntry        string
	RemoteCarbsEntry        string
	TemporaryOverrideCancel string
}{
	Bolus:                   "Bolus",
	SnackBolus:              "Snack Bolus",
	MealBolus:               "Meal Bolus",
	CorrectionBolus:         "Correction Bolus",
	CarbCorrection:          "Carb Correction",
	ComboBolus:              "Combo Bolus",
	TempBasal:               "Temp Basal",
	TemporaryOverride:       "Temporary Override",
	TemporaryOverrideEnd:    "Temporary Override End",
	RemoteBolusEntry:        "Remote Bolus Entry",
	RemoteCarbsEntry:        "Remote Carbs Entry",
	TemporaryOverrideCancel: "Temporary Override Cancel",
}
