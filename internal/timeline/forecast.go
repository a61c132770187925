// Package timeline projects a snapshot into dated entries for displays that
// render ahead of time and cannot fetch on demand.
package timeline

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/mrcode/loop-caregiver/internal/models"
	"github.com/mrcode/loop-caregiver/internal/override"
	"github.com/mrcode/loop-caregiver/internal/remotedata"
)

const (
	// DefaultEntryCount covers one hour at EntryInterval.
	DefaultEntryCount = 60
	EntryInterval     = time.Minute

	// ReadingInterval is how often the CGM uploads a reading.
	ReadingInterval = 5 * time.Minute
	// UploadGrace is added to the expected reading time before refreshing.
	UploadGrace    = time.Minute
	DefaultRefresh = 5 * time.Minute

	// RecentSampleWindow is how much history before the current reading a
	// value carries.
	RecentSampleWindow = time.Hour
)

var (
	ErrMissingGlucose = errors.New("no glucose reading available")
	// ErrDataUnavailable marks the entry after the last forecast entry; data
	// shown past it can no longer be trusted.
	ErrDataUnavailable = errors.New("glucose data unavailable past the forecast horizon")
)

// Value is what a display shows for a looper
type Value struct {
	LooperID         string                 `json:"looperId"`
	Glucose          models.GlucoseSample   `json:"glucose"`
	Unit             string                 `json:"unit"`
	LastChange       *float64               `json:"lastChange,omitempty"`
	RecentSamples    []models.GlucoseSample `json:"recentSamples,omitempty"`
	RecommendedBolus *float64               `json:"recommendedBolus,omitempty"`
	ActiveOverride   *override.Active       `json:"activeOverride,omitempty"`
	IOB              *float64               `json:"iob,omitempty"`
	COB              *float64               `json:"cob,omitempty"`
}

// NewValue extracts the displayed value from a snapshot
func NewValue(snapshot *remotedata.Snapshot, unit string) (*Value, error) {
	if !snapshot.HasGlucose() {
		return nil, ErrMissingGlucose
	}
	if unit == "" {
		unit = models.UnitMgdL
	}

	value := &Value{
		LooperID:         snapshot.LooperID,
		Glucose:          *snapshot.CurrentGlucose,
		Unit:             unit,
		RecentSamples:    recentSamples(snapshot.GlucoseSamples, snapshot.CurrentGlucose.Date),
		RecommendedBolus: snapshot.RecommendedBolus,
		ActiveOverride:   snapshot.ActiveOverride,
	}
	if change, ok := models.LastGlucoseChange(snapshot.GlucoseSamples, unit); ok {
		value.LastChange = &change
	}
	if snapshot.CurrentIOB != nil {
		iob := snapshot.CurrentIOB.IOB
		value.IOB = &iob
	}
	if snapshot.CurrentCOB != nil {
		cob := snapshot.CurrentCOB.COB
		value.COB = &cob
	}
	return value, nil
}

// recentSamples returns the tail of the ascending samples that falls within
// RecentSampleWindow of current. The result shares the snapshot's array.
func recentSamples(samples []models.GlucoseSample, current time.Time) []models.GlucoseSample {
	cutoff := current.Add(-RecentSampleWindow)
	start := len(samples)
	for start > 0 && samples[start-1].Date.After(cutoff) {
		start--
	}
	if start == len(samples) {
		return nil
	}
	return samples[start:len(samples):len(samples)]
}

// Entry is one dated display state. Exactly one of Value and Err is set.
type Entry struct {
	Date  time.Time
	Index int
	Value *Value
	Err   error
}

// Age is how old the shown reading is at the entry's date
func (e Entry) Age() (time.Duration, bool) {
	if e.Value == nil {
		return 0, false
	}
	return e.Date.Sub(e.Value.Glucose.Date), true
}

// IsStale reports whether the shown reading is older than limit at the
// entry's date. Error entries are always stale.
func (e Entry) IsStale(limit time.Duration) bool {
	age, ok := e.Age()
	return !ok || age > limit
}

func (e Entry) MarshalJSON() ([]byte, error) {
	out := struct {
		Date       time.Time `json:"date"`
		Index      int       `json:"index"`
		AgeSeconds *float64  `json:"ageSeconds,omitempty"`
		Value      *Value    `json:"value,omitempty"`
		Error      string    `json:"error,omitempty"`
	}{
		Date:  e.Date,
		Index: e.Index,
		Value: e.Value,
	}
	if age, ok := e.Age(); ok {
		seconds := age.Seconds()
		out.AgeSeconds = &seconds
	}
	if e.Err != nil {
		out.Error = e.Err.Error()
	}
	return json.Marshal(out)
}

// Timeline is a sequence of entries plus the time the display should ask for
// a new one
type Timeline struct {
	Entries      []Entry   `json:"entries"`
	RefreshAfter time.Time `json:"refreshAfter"`
}

// Forecast repeats the snapshot's current reading at one minute steps from
// now, count entries in all, followed by one ErrDataUnavailable entry at the
// horizon. A snapshot without a reading yields a single error entry at now.
func Forecast(snapshot *remotedata.Snapshot, now time.Time, count int, unit string) []Entry {
	value, err := NewValue(snapshot, unit)
	if err != nil {
		return []Entry{{Date: now, Err: err}}
	}
	if count <= 0 {
		count = DefaultEntryCount
	}

	entries := make([]Entry, 0, count+1)
	for i := 0; i < count; i++ {
		entries = append(entries, Entry{
			Date:  now.Add(time.Duration(i) * EntryInterval),
			Index: i,
			Value: value,
		})
	}
	entries = append(entries, Entry{
		Date:  now.Add(time.Duration(count) * EntryInterval),
		Index: count,
		Err:   ErrDataUnavailable,
	})
	return entries
}

// NextRefresh is one minute after the next reading is expected, or
// DefaultRefresh from now when that time has already passed or there is no
// reading.
func NextRefresh(snapshot *remotedata.Snapshot, now time.Time) time.Time {
	if !snapshot.HasGlucose() {
		return now.Add(DefaultRefresh)
	}
	expected := snapshot.CurrentGlucose.Date.Add(ReadingInterval)
	if expected.After(now) {
		return expected.Add(UploadGrace)
	}
	return now.Add(DefaultRefresh)
}

// Build combines Forecast and NextRefresh
func Build(snapshot *remotedata.Snapshot, now time.Time, count int, unit string) Timeline {
	return Timeline{
		Entries:      Forecast(snapshot, now, count, unit),
		RefreshAfter: NextRefresh(snapshot, now),
	}
}

// FailureTimeline is a single error entry at now, refreshed after DefaultRefresh
func FailureTimeline(err error, now time.Time) Timeline {
	return Timeline{
		Entries:      []Entry{{Date: now, Err: err}},
		RefreshAfter: now.Add(DefaultRefresh),
	}
}
