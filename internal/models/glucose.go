// Package models contains data structures used throughout the application
package models

import (
	"fmt"
	"time"
)

// Glucose units
const (
	UnitMgdL  = "mg/dL"
	UnitMmolL = "mmol/L"
)

// mgdlPerMmol converts between the two glucose units
const mgdlPerMmol = 18.0182

// GlucoseEntry represents a single glucose reading from Nightscout
type GlucoseEntry struct {
	ID        string   `json:"_id"`
	SGV       int      `json:"sgv"`  // Sensor glucose value in mg/dL
	MBG       int      `json:"mbg"`  // Meter glucose value in mg/dL
	Date      int64    `json:"date"` // Unix timestamp in milliseconds
	DateStr   string   `json:"dateString"`
	Trend     int      `json:"trend"`     // Trend direction (1-7)
	Direction string   `json:"direction"` // Trend direction as string
	TrendRate *float64 `json:"trendRate,omitempty"`
	Device    string   `json:"device"`
	Type      string   `json:"type"` // "sgv", "mbg" or "cal"
	Mills     int64    `json:"mills"`
}

// Time returns the time of the glucose entry
func (g *GlucoseEntry) Time() time.Time {
	return time.UnixMilli(g.Date)
}

// ValueMgDL returns the glucose value in mg/dL
func (g *GlucoseEntry) ValueMgDL() int {
	if g.Type == "mbg" && g.MBG > 0 {
		return g.MBG
	}
	return g.SGV
}

// ValueMmolL returns the glucose value in mmol/L
func (g *GlucoseEntry) ValueMmolL() float64 {
	return float64(g.ValueMgDL()) / mgdlPerMmol
}

// TrendArrow returns the Unicode arrow character for the trend
func (g *GlucoseEntry) TrendArrow() string {
	return g.trend().Arrow()
}

func (g *GlucoseEntry) trend() Trend {
	if t, ok := directionTrends[g.Direction]; ok {
		return t
	}
	if g.Trend >= int(TrendUpUpUp) && g.Trend <= int(TrendDownDownDown) {
		return Trend(g.Trend)
	}
	return TrendUnknown
}

// ToSample converts the Nightscout entry into a glucose sample. Entries
// without an id are keyed by their unix timestamp in seconds.
func (g *GlucoseEntry) ToSample() GlucoseSample {
	syncID := g.ID
	if syncID == "" {
		syncID = fmt.Sprintf("%d", g.Time().Unix())
	}

	return GlucoseSample{
		Date:           g.Time(),
		Quantity:       Quantity{Value: float64(g.ValueMgDL()), Unit: UnitMgdL},
		Trend:          g.trend(),
		TrendRate:      g.TrendRate,
		IsDisplayOnly:  g.Type == "cal",
		WasUserEntered: g.Type == "mbg",
		IsCalibration:  g.Type == "cal",
		SyncIdentifier: syncID,
	}
}

// Trend is the categorical glucose trend reported by the sensor
type Trend int

// Trend values follow the Nightscout numeric trend codes
const (
	TrendUnknown Trend = iota
	TrendUpUpUp
	TrendUpUp
	TrendUp
	TrendFlat
	TrendDown
	TrendDownDown
	TrendDownDownDown
)

var directionTrends = map[string]Trend{
	"DoubleUp":      TrendUpUpUp,
	"SingleUp":      TrendUpUp,
	"FortyFiveUp":   TrendUp,
	"Flat":          TrendFlat,
	"FortyFiveDown": TrendDown,
	"SingleDown":    TrendDownDown,
	"DoubleDown":    TrendDownDownDown,
}

// Arrow returns the Unicode arrow for the trend
func (t Trend) Arrow() string {
	switch t {
	case TrendUpUpUp:
		return "⇈"
	case TrendUpUp:
		return "↑"
	case TrendUp:
		return "↗"
	case TrendFlat:
		return "→"
	case TrendDown:
		return "↘"
	case TrendDownDown:
		return "↓"
	case TrendDownDownDown:
		return "⇊"
	default:
		return "-"
	}
}

// Quantity is a glucose value with its unit
type Quantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// In converts the quantity to the given unit
func (q Quantity) In(unit string) float64 {
	switch {
	case q.Unit == unit:
		return q.Value
	case unit == UnitMmolL:
		return q.Value / mgdlPerMmol
	default:
		return q.Value * mgdlPerMmol
	}
}

// GlucoseSample is an immutable glucose reading as published in snapshots
type GlucoseSample struct {
	Date           time.Time `json:"date"`
	Quantity       Quantity  `json:"quantity"`
	Trend          Trend     `json:"trend,omitempty"`
	TrendRate      *float64  `json:"trendRate,omitempty"` // mg/dL per minute
	IsDisplayOnly  bool      `json:"isDisplayOnly"`
	WasUserEntered bool      `json:"wasUserEntered"`
	IsCalibration  bool      `json:"isCalibration"`
	SyncIdentifier string    `json:"syncIdentifier"`
}

// LastGlucoseChange returns the change between the two most recent samples
// in the given unit. Samples must be sorted ascending.
func LastGlucoseChange(samples []GlucoseSample, unit string) (float64, bool) {
	if len(samples) < 2 {
		return 0, false
	}
	last := samples[len(samples)-1]
	prev := samples[len(samples)-2]
	return last.Quantity.In(unit) - prev.Quantity.In(unit), true
}

// ServerStatus represents the Nightscout server status
type ServerStatus struct {
	Status     string         `json:"status"`
	Name       string         `json:"name"`
	Version    string         `json:"version"`
	ServerTime string         `json:"serverTime"`
	APIEnabled bool           `json:"apiEnabled"`
	Settings   ServerSettings `json:"settings,omitempty"`
}

// ServerSettings contains Nightscout server settings
type ServerSettings struct {
	Units      string     `json:"units"`
	Thresholds Thresholds `json:"thresholds,omitempty"`
}

// Thresholds contains glucose threshold settings
type Thresholds struct {
	BGHigh         int `json:"bgHigh"`
	BGLow          int `json:"bgLow"`
	BGTargetTop    int `json:"bgTargetTop"`
	BGTargetBottom int `json:"bgTargetBottom"`
}
