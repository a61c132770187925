package models

import (
	"fmt"
	"time"
)

// PredictedGlucoseInterval is the spacing between predicted glucose values
const PredictedGlucoseInterval = 5 * time.Minute

// DeviceStatus is the periodic report uploaded by the automation system
type DeviceStatus struct {
	ID        string          `json:"_id"`
	Device    string          `json:"device"`
	Timestamp time.Time       `json:"created_at"`
	Loop      *LoopStatus     `json:"loop,omitempty"`
	Override  *OverrideStatus `json:"override,omitempty"`
	Pump      *PumpStatus     `json:"pump,omitempty"`
	Uploader  *UploaderStatus `json:"uploader,omitempty"`
}

// LoopStatus is the loop section of a device status
type LoopStatus struct {
	Name             string            `json:"name"`
	Timestamp        time.Time         `json:"timestamp"`
	IOB              *IOBStatus        `json:"iob,omitempty"`
	COB              *COBStatus        `json:"cob,omitempty"`
	Predicted        *PredictedGlucose `json:"predicted,omitempty"`
	RecommendedBolus *float64          `json:"recommendedBolus,omitempty"`
	FailureReason    string            `json:"failureReason,omitempty"`
}

// IOBStatus is insulin on board at a point in time
type IOBStatus struct {
	Timestamp time.Time `json:"timestamp"`
	IOB       float64   `json:"iob"`
}

// COBStatus is carbs on board at a point in time
type COBStatus struct {
	Timestamp time.Time `json:"timestamp"`
	COB       float64   `json:"cob"`
}

// PredictedGlucose is the forecast curve, one value every five minutes from StartDate
type PredictedGlucose struct {
	StartDate time.Time `json:"startDate"`
	Values    []float64 `json:"values"`
}

// CorrectionRange is the target range reported with an override status
type CorrectionRange struct {
	MinValue float64 `json:"minValue"`
	MaxValue float64 `json:"maxValue"`
}

// OverrideStatus is the automation system's view of the running override.
// Duration is in seconds and absent for indefinite overrides.
type OverrideStatus struct {
	Timestamp              time.Time        `json:"timestamp"`
	Active                 bool             `json:"active"`
	Name                   string           `json:"name,omitempty"`
	Duration               *float64         `json:"duration,omitempty"`
	Multiplier             *float64         `json:"multiplier,omitempty"`
	CurrentCorrectionRange *CorrectionRange `json:"currentCorrectionRange,omitempty"`
}

// DurationValue returns the override duration, if the status carries one
func (o OverrideStatus) DurationValue() (time.Duration, bool) {
	if o.Duration == nil {
		return 0, false
	}
	return time.Duration(*o.Duration * float64(time.Second)), true
}

// PumpStatus is the pump section of a device status
type PumpStatus struct {
	Clock     time.Time `json:"clock"`
	Reservoir *float64  `json:"reservoir,omitempty"`
	Suspended bool      `json:"suspended"`
}

// UploaderStatus is the uploading phone
type UploaderStatus struct {
	Battery *int `json:"battery,omitempty"`
}

// RecommendedBolus returns the loop's recommended bolus, if reported
func (d *DeviceStatus) RecommendedBolus() (float64, bool) {
	if d == nil || d.Loop == nil || d.Loop.RecommendedBolus == nil {
		return 0, false
	}
	return *d.Loop.RecommendedBolus, true
}

// PredictedSamples expands the predicted curve into glucose samples.
// Sync identifiers are "<looperID>:<unix seconds>" so they are stable
// across passes.
func (d *DeviceStatus) PredictedSamples(looperID string) []GlucoseSample {
	if d == nil || d.Loop == nil || d.Loop.Predicted == nil {
		return nil
	}

	predicted := d.Loop.Predicted
	samples := make([]GlucoseSample, 0, len(predicted.Values))
	date := predicted.StartDate
	for _, value := range predicted.Values {
		samples = append(samples, GlucoseSample{
			Date:           date,
			Quantity:       Quantity{Value: value, Unit: UnitMgdL},
			SyncIdentifier: fmt.Sprintf("%s:%d", looperID, date.Unix()),
		})
		date = date.Add(PredictedGlucoseInterval)
	}
	return samples
}
