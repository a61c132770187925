package models

import (
	"encoding/json"
	"testing"
	"time"
)

const loopDeviceStatus = `{
	"_id": "ds1",
	"device": "loop://iPhone",
	"created_at": "2024-03-01T12:00:00.000Z",
	"loop": {
		"name": "Loop",
		"timestamp": "2024-03-01T11:59:30Z",
		"iob": {"timestamp": "2024-03-01T11:59:30Z", "iob": 2.35},
		"cob": {"timestamp": "2024-03-01T11:59:30Z", "cob": 18},
		"predicted": {"startDate": "2024-03-01T11:58:00Z", "values": [120, 125, 131]},
		"recommendedBolus": 0.45
	},
	"override": {
		"timestamp": "2024-03-01T11:00:00Z",
		"active": true,
		"name": "Exercise",
		"duration": 3600,
		"multiplier": 0.5,
		"currentCorrectionRange": {"minValue": 140, "maxValue": 160}
	}
}`

func TestDeviceStatus_Decode(t *testing.T) {
	var status DeviceStatus
	if err := json.Unmarshal([]byte(loopDeviceStatus), &status); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if !status.Timestamp.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", status.Timestamp)
	}
	if status.Loop == nil || status.Loop.IOB == nil || status.Loop.IOB.IOB != 2.35 {
		t.Fatalf("Loop IOB not decoded: %+v", status.Loop)
	}
	if status.Loop.COB == nil || status.Loop.COB.COB != 18 {
		t.Errorf("Loop COB not decoded: %+v", status.Loop.COB)
	}

	bolus, ok := status.RecommendedBolus()
	if !ok || bolus != 0.45 {
		t.Errorf("RecommendedBolus() = %f, %v", bolus, ok)
	}

	if status.Override == nil || !status.Override.Active {
		t.Fatal("override status not decoded")
	}
	duration, ok := status.Override.DurationValue()
	if !ok || duration != time.Hour {
		t.Errorf("DurationValue() = %v, %v", duration, ok)
	}
}

func TestDeviceStatus_PredictedSamples(t *testing.T) {
	var status DeviceStatus
	if err := json.Unmarshal([]byte(loopDeviceStatus), &status); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	samples := status.PredictedSamples("looper-1")
	if len(samples) != 3 {
		t.Fatalf("len(samples) = %d, want 3", len(samples))
	}

	start := time.Date(2024, 3, 1, 11, 58, 0, 0, time.UTC)
	for i, sample := range samples {
		want := start.Add(time.Duration(i) * 5 * time.Minute)
		if !sample.Date.Equal(want) {
			t.Errorf("samples[%d].Date = %v, want %v", i, sample.Date, want)
		}
	}
	if samples[0].SyncIdentifier != "looper-1:1709294280" {
		t.Errorf("SyncIdentifier = %s", samples[0].SyncIdentifier)
	}

	again := status.PredictedSamples("looper-1")
	if again[2].SyncIdentifier != samples[2].SyncIdentifier {
		t.Error("predicted sample identifiers should be deterministic")
	}
}

func TestDeviceStatus_NilSafe(t *testing.T) {
	var status *DeviceStatus
	if _, ok := status.RecommendedBolus(); ok {
		t.Error("nil status should have no recommended bolus")
	}
	if samples := status.PredictedSamples("x"); samples != nil {
		t.Error("nil status should have no predicted samples")
	}
}
