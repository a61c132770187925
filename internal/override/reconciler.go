// Package override decides which override, if any, is currently running for a
// looper.
//
// Nightscout exposes the running override in three places: the override
// section of the latest device status, the scheduleOverride in the loop
// settings of the current profile, and the Temporary Override treatments.
// Device status alone lags behind because it is only uploaded when the loop
// runs, and the profile keeps its scheduleOverride after the duration has run
// out. The treatment ledger is not consulted: an old indefinite override can
// sit outside the treatment lookback window, so an empty ledger does not mean
// nothing is running.
package override

import (
	"time"

	"github.com/mrcode/loop-caregiver/internal/models"
)

// Active is the running override together with the status that reported it
type Active struct {
	Override models.TemporaryScheduleOverride `json:"override"`
	Status   models.OverrideStatus            `json:"status"`
}

// EndDate returns when the override runs out; false for indefinite overrides
func (a *Active) EndDate() (time.Time, bool) {
	duration, ok := a.Status.DurationValue()
	if !ok {
		return time.Time{}, false
	}
	return a.Status.Timestamp.Add(duration), true
}

// Remaining returns the time left at now; false for indefinite overrides
func (a *Active) Remaining(now time.Time) (time.Duration, bool) {
	end, ok := a.EndDate()
	if !ok {
		return 0, false
	}
	if remaining := end.Sub(now); remaining > 0 {
		return remaining, true
	}
	return 0, true
}

// Reconcile returns the override that is active at now, or nil. The device
// status decides whether an override is running and the profile supplies
// what it is; both must agree.
func Reconcile(status *models.DeviceStatus, profile *models.ProfileSet, now time.Time) *Active {
	if status == nil || status.Override == nil || !status.Override.Active {
		return nil
	}

	overrideStatus := *status.Override
	if duration, ok := overrideStatus.DurationValue(); ok {
		// The active flag only clears on the next loop run.
		if !overrideStatus.Timestamp.Add(duration).After(now) {
			return nil
		}
	}

	if profile == nil || profile.Settings.ScheduleOverride == nil {
		return nil
	}

	return &Active{
		Override: *profile.Settings.ScheduleOverride,
		Status:   overrideStatus,
	}
}
