package remotedata

import (
	"time"

	"github.com/mrcode/loop-caregiver/internal/models"
)

// RecommendedBolusMaxAge is how old a device status may be before its
// recommended bolus is ignored
const RecommendedBolusMaxAge = 7 * time.Minute

// validRecommendedBolus returns the device status recommendation if it still
// applies at now: the amount must be positive, the status no older than
// RecommendedBolusMaxAge, and no bolus may have been given at or after the
// status was uploaded. Boluses dated in the future count as given.
func validRecommendedBolus(status *models.DeviceStatus, boluses []models.BolusEntry, now time.Time) *float64 {
	amount, ok := status.RecommendedBolus()
	if !ok || amount <= 0 {
		return nil
	}

	if now.Sub(status.Timestamp) > RecommendedBolusMaxAge {
		return nil
	}

	for _, bolus := range boluses {
		if !bolus.Timestamp.Before(status.Timestamp) {
			return nil
		}
	}

	return &amount
}
