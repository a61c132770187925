package remotedata

import (
	"time"

	"github.com/mrcode/loop-caregiver/internal/models"
	"github.com/mrcode/loop-caregiver/internal/override"
)

// Feed names, used in logs, errors and update notifications
const (
	FeedGlucose           = "glucose"
	FeedCarbs             = "carbs"
	FeedBolus             = "bolus"
	FeedBasal             = "basal"
	FeedOverridePresets   = "override_presets"
	FeedDeviceStatus      = "device_status"
	FeedRecentCommands    = "recent_commands"
	FeedProfile           = "profile"
	FieldRecommendedBolus = "recommended_bolus"
	FieldActiveOverride   = "active_override"
)

// Snapshot is the published state of one looper. A published snapshot is
// never modified; each change produces a new one.
type Snapshot struct {
	LooperID  string    `json:"looperId"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`

	CurrentGlucose   *models.GlucoseSample  `json:"currentGlucose,omitempty"`
	GlucoseSamples   []models.GlucoseSample `json:"glucoseSamples"`
	PredictedGlucose []models.GlucoseSample `json:"predictedGlucose"`

	CarbEntries     []models.CarbEntry     `json:"carbEntries"`
	BolusEntries    []models.BolusEntry    `json:"bolusEntries"`
	BasalEntries    []models.BasalEntry    `json:"basalEntries"`
	OverridePresets []models.OverrideEntry `json:"overridePresets"`
	RecentCommands  []models.RemoteCommand `json:"recentCommands"`

	LatestDeviceStatus *models.DeviceStatus `json:"latestDeviceStatus,omitempty"`
	CurrentIOB         *models.IOBStatus    `json:"currentIob,omitempty"`
	CurrentCOB         *models.COBStatus    `json:"currentCob,omitempty"`
	CurrentProfile     *models.ProfileSet   `json:"currentProfile,omitempty"`

	RecommendedBolus *float64         `json:"recommendedBolus,omitempty"`
	ActiveOverride   *override.Active `json:"activeOverride,omitempty"`
}

// HasGlucose reports whether a current reading is available
func (s *Snapshot) HasGlucose() bool {
	return s != nil && s.CurrentGlucose != nil
}

// LatestGlucose returns the newest sample in the history, which may be later
// than the current reading when the uploader's clock runs ahead.
func (s *Snapshot) LatestGlucose() (models.GlucoseSample, bool) {
	if s == nil || len(s.GlucoseSamples) == 0 {
		return models.GlucoseSample{}, false
	}
	return s.GlucoseSamples[len(s.GlucoseSamples)-1], true
}

// Update is sent to subscribers when a pass publishes a new snapshot
type Update struct {
	Previous *Snapshot
	Current  *Snapshot
	// Changed lists the feeds and derived fields that differ from Previous.
	Changed []string
}

// Has reports whether the named feed or field changed
func (u Update) Has(name string) bool {
	for _, changed := range u.Changed {
		if changed == name {
			return true
		}
	}
	return false
}

// Result describes one synchronization pass
type Result struct {
	Snapshot *Snapshot
	// Changed is false when the pass found nothing new and published nothing.
	Changed bool
	// FeedErrors holds the secondary feed failures of the pass, combined
	// with multierr. They never fail the pass.
	FeedErrors error
}
