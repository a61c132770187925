package models

import (
	"encoding/json"
	"sort"
	"time"
)

// ProfileSet is the current Nightscout profile document uploaded by Loop
type ProfileSet struct {
	ID             string             `json:"_id"`
	DefaultProfile string             `json:"defaultProfile"`
	StartDate      time.Time          `json:"startDate"`
	Units          string             `json:"units"`
	Store          map[string]Profile `json:"store"`
	Settings       LoopSettings       `json:"loopSettings"`
}

// Profile is one named therapy profile
type Profile struct {
	Timezone    string         `json:"timezone"`
	Units       string         `json:"units"`
	TargetLow   []ScheduleItem `json:"target_low"`
	TargetHigh  []ScheduleItem `json:"target_high"`
	Basal       []ScheduleItem `json:"basal"`
	Sensitivity []ScheduleItem `json:"sens"`
	CarbRatio   []ScheduleItem `json:"carbratio"`
}

// ScheduleItem is a value anchored at a time of day
type ScheduleItem struct {
	Time          string  `json:"time"` // "HH:MM"
	Value         float64 `json:"value"`
	TimeAsSeconds float64 `json:"timeAsSeconds"`
}

// Offset returns the item's offset from midnight
func (s ScheduleItem) Offset() time.Duration {
	if s.TimeAsSeconds > 0 || s.Time == "" {
		return time.Duration(s.TimeAsSeconds * float64(time.Second))
	}
	parsed, err := time.Parse("15:04", s.Time)
	if err != nil {
		return 0
	}
	return time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute
}

// LoopSettings is the loopSettings section of the profile
type LoopSettings struct {
	DosingEnabled           bool                        `json:"dosingEnabled"`
	MaximumBolus            *float64                    `json:"maximumBolus,omitempty"`
	MaximumBasalRatePerHour *float64                    `json:"maximumBasalRatePerHour,omitempty"`
	ScheduleOverride        *TemporaryScheduleOverride  `json:"scheduleOverride,omitempty"`
	OverridePresets         []TemporaryScheduleOverride `json:"overridePresets,omitempty"`
}

// TargetRange is a low/high glucose target
type TargetRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// UnmarshalJSON accepts both {"low","high"} objects and Nightscout's [low, high] arrays
func (t *TargetRange) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) == 2 {
			t.Low, t.High = pair[0], pair[1]
		}
		return nil
	}

	type plain TargetRange
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = TargetRange(p)
	return nil
}

// TemporaryScheduleOverride is the content of an override: its name, symbol,
// target range and insulin needs. Duration is in seconds, zero meaning indefinite.
type TemporaryScheduleOverride struct {
	Name                    string       `json:"name"`
	Symbol                  string       `json:"symbol,omitempty"`
	Duration                float64      `json:"duration,omitempty"`
	TargetRange             *TargetRange `json:"targetRange,omitempty"`
	InsulinNeedsScaleFactor *float64     `json:"insulinNeedsScaleFactor,omitempty"`
}

// CurrentProfile returns the default profile from the store
func (p *ProfileSet) CurrentProfile() (Profile, bool) {
	if p == nil || len(p.Store) == 0 {
		return Profile{}, false
	}
	if profile, ok := p.Store[p.DefaultProfile]; ok {
		return profile, true
	}
	if profile, ok := p.Store["Default"]; ok {
		return profile, true
	}
	return Profile{}, false
}

// TargetScheduleItem pairs the low and high targets that start at Offset
type TargetScheduleItem struct {
	Offset time.Duration
	Range  TargetRange
}

// TargetSchedule pairs target_low and target_high items by index, sorted by offset
func (p *ProfileSet) TargetSchedule() []TargetScheduleItem {
	profile, ok := p.CurrentProfile()
	if !ok {
		return nil
	}

	count := min(len(profile.TargetLow), len(profile.TargetHigh))
	items := make([]TargetScheduleItem, 0, count)
	for i := 0; i < count; i++ {
		items = append(items, TargetScheduleItem{
			Offset: profile.TargetLow[i].Offset(),
			Range: TargetRange{
				Low:  profile.TargetLow[i].Value,
				High: profile.TargetHigh[i].Value,
			},
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Offset < items[j].Offset
	})
	return items
}

// Location returns the profile's timezone, falling back to the local zone
func (p *ProfileSet) Location() *time.Location {
	profile, ok := p.CurrentProfile()
	if !ok || profile.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(profile.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
