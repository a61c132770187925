package notifications

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mrcode/loop-caregiver/internal/models"
	"github.com/mrcode/loop-caregiver/internal/remotedata"
)

// Test constants
const (
	testUrgentLow = "urgent_low"
	testMmolUnit  = "mmol/L"
	testLooperID  = "looper-1"
)

type sent struct {
	title, message string
}

type recorder struct {
	sent []sent
	err  error
}

func (r *recorder) send(title, message string) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sent{title, message})
	return nil
}

func newTestManager(settings models.DisplaySettings) (*Manager, *recorder, *time.Time) {
	rec := &recorder{}
	manager := NewManager(settings, rec.send, nil)
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	manager.now = func() time.Time { return clock }
	return manager, rec, &clock
}

func glucoseUpdate(mgdl float64) remotedata.Update {
	reading := models.GlucoseSample{
		Quantity: models.Quantity{Value: mgdl, Unit: models.UnitMgdL},
		Trend:    models.TrendFlat,
	}
	return remotedata.Update{
		Current: &remotedata.Snapshot{LooperID: testLooperID, CurrentGlucose: &reading},
		Changed: []string{remotedata.FeedGlucose},
	}
}

func commandUpdate(commands ...models.RemoteCommand) remotedata.Update {
	return remotedata.Update{
		Current: &remotedata.Snapshot{LooperID: testLooperID, RecentCommands: commands},
		Changed: []string{remotedata.FeedRecentCommands},
	}
}

func command(id string, state models.CommandState, message string) models.RemoteCommand {
	return models.RemoteCommand{
		ID:     id,
		Action: models.Action{Type: models.ActionBolus, AmountInUnits: 1},
		Status: models.CommandStatus{State: state, Message: message},
	}
}

func TestManager_shouldAlert(t *testing.T) {
	manager, _, _ := newTestManager(models.DefaultDisplaySettings())

	tests := []struct {
		name     string
		status   string
		expected string
	}{
		{"Urgent low enabled", "urgent_low", "urgent_low"},
		{"Low enabled", "low", "low"},
		{"High enabled", "high", "high"},
		{"Urgent high enabled", "urgent_high", "urgent_high"},
		{"Normal", "normal", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := manager.shouldAlert(tt.status)
			if result != tt.expected {
				t.Errorf("shouldAlert() = %s, want %s", result, tt.expected)
			}
		})
	}
}

func TestManager_shouldAlert_Disabled(t *testing.T) {
	settings := models.DefaultDisplaySettings()
	settings.EnableLowAlert = false
	settings.EnableHighAlert = false
	manager, _, _ := newTestManager(settings)

	if result := manager.shouldAlert("low"); result != "" {
		t.Errorf("shouldAlert() = %s, want empty (disabled)", result)
	}
	if result := manager.shouldAlert("high"); result != "" {
		t.Errorf("shouldAlert() = %s, want empty (disabled)", result)
	}
	if result := manager.shouldAlert(testUrgentLow); result != testUrgentLow {
		t.Errorf("shouldAlert() = %s, want %s", result, testUrgentLow)
	}
}

func TestManager_formatNotification(t *testing.T) {
	manager, _, _ := newTestManager(models.DefaultDisplaySettings())

	tests := []struct {
		alertType     string
		expectedTitle string
	}{
		{"urgent_low", "⚠️ URGENT LOW GLUCOSE"},
		{"low", "⬇️ Low Glucose"},
		{"high", "⬆️ High Glucose"},
		{"urgent_high", "⚠️ URGENT HIGH GLUCOSE"},
	}

	reading := models.GlucoseSample{Quantity: models.Quantity{Value: 100, Unit: models.UnitMgdL}, Trend: models.TrendFlat}

	for _, tt := range tests {
		t.Run(tt.alertType, func(t *testing.T) {
			title, message := manager.formatNotification("Emma", reading, tt.alertType)
			if title != tt.expectedTitle {
				t.Errorf("title = %s, want %s", title, tt.expectedTitle)
			}
			if !strings.HasPrefix(message, "Emma ") || !strings.Contains(message, "100 mg/dL") {
				t.Errorf("unexpected message: %s", message)
			}
		})
	}
}

func TestManager_formatNotification_MmolL(t *testing.T) {
	settings := models.DefaultDisplaySettings()
	settings.Unit = testMmolUnit
	manager, _, _ := newTestManager(settings)

	reading := models.GlucoseSample{Quantity: models.Quantity{Value: 99.1, Unit: models.UnitMgdL}}

	_, message := manager.formatNotification("Emma", reading, "low")
	if !strings.Contains(message, "5.5 mmol/L") {
		t.Errorf("Message should contain mmol/L value, got: %s", message)
	}
}

func TestManager_GlucoseAlertRepeat(t *testing.T) {
	manager, rec, clock := newTestManager(models.DefaultDisplaySettings())

	if err := manager.HandleUpdate("Emma", glucoseUpdate(60)); err != nil {
		t.Fatalf("HandleUpdate() error = %v", err)
	}
	if len(rec.sent) != 1 {
		t.Fatalf("sent %d alerts, want 1", len(rec.sent))
	}

	*clock = clock.Add(5 * time.Minute)
	_ = manager.HandleUpdate("Emma", glucoseUpdate(62))
	if len(rec.sent) != 1 {
		t.Errorf("alert repeated inside the repeat window")
	}

	*clock = clock.Add(10 * time.Minute)
	_ = manager.HandleUpdate("Emma", glucoseUpdate(64))
	if len(rec.sent) != 2 {
		t.Errorf("sent %d alerts, want 2 after the repeat window", len(rec.sent))
	}

	// A different alert type fires independently.
	_ = manager.HandleUpdate("Emma", glucoseUpdate(50))
	if len(rec.sent) != 3 || rec.sent[2].title != "⚠️ URGENT LOW GLUCOSE" {
		t.Errorf("expected urgent low alert, got %+v", rec.sent)
	}
}

func TestManager_GlucoseAlertNoRepeat(t *testing.T) {
	settings := models.DefaultDisplaySettings()
	settings.RepeatAlertMinutes = 0
	manager, rec, clock := newTestManager(settings)

	_ = manager.HandleUpdate("Emma", glucoseUpdate(200))
	*clock = clock.Add(time.Hour)
	_ = manager.HandleUpdate("Emma", glucoseUpdate(205))
	if len(rec.sent) != 1 {
		t.Errorf("sent %d alerts, want 1 without repeat", len(rec.sent))
	}

	// Back in range re-arms the alert.
	_ = manager.HandleUpdate("Emma", glucoseUpdate(120))
	_ = manager.HandleUpdate("Emma", glucoseUpdate(210))
	if len(rec.sent) != 2 {
		t.Errorf("sent %d alerts, want 2 after returning to range", len(rec.sent))
	}
}

func TestManager_IgnoresUpdatesWithoutNewGlucose(t *testing.T) {
	manager, rec, _ := newTestManager(models.DefaultDisplaySettings())

	update := glucoseUpdate(40)
	update.Changed = []string{remotedata.FeedCarbs}
	_ = manager.HandleUpdate("Emma", update)
	_ = manager.HandleUpdate("Emma", remotedata.Update{})

	if len(rec.sent) != 0 {
		t.Errorf("sent %d alerts, want 0", len(rec.sent))
	}
}

func TestManager_FailedCommandAlerts(t *testing.T) {
	manager, rec, _ := newTestManager(models.DefaultDisplaySettings())

	// Failures present on the first snapshot are history.
	_ = manager.HandleUpdate("Emma", commandUpdate(command("old", models.CommandError, "expired")))
	if len(rec.sent) != 0 {
		t.Fatalf("alerted on startup history: %+v", rec.sent)
	}

	_ = manager.HandleUpdate("Emma", commandUpdate(
		command("old", models.CommandError, "expired"),
		command("new", models.CommandPending, ""),
	))
	if len(rec.sent) != 0 {
		t.Fatalf("alerted on pending command: %+v", rec.sent)
	}

	_ = manager.HandleUpdate("Emma", commandUpdate(
		command("old", models.CommandError, "expired"),
		command("new", models.CommandError, "pump busy"),
	))
	if len(rec.sent) != 1 {
		t.Fatalf("sent %d alerts, want 1", len(rec.sent))
	}
	if !strings.Contains(rec.sent[0].message, "bolus command failed: pump busy") {
		t.Errorf("unexpected message: %s", rec.sent[0].message)
	}

	_ = manager.HandleUpdate("Emma", commandUpdate(command("new", models.CommandError, "pump busy")))
	if len(rec.sent) != 1 {
		t.Errorf("alerted twice for the same failure")
	}
}

func TestManager_CommandAlertsFollowStateMachine(t *testing.T) {
	manager, rec, _ := newTestManager(models.DefaultDisplaySettings())

	_ = manager.HandleUpdate("Emma", commandUpdate(command("done", models.CommandSuccess, "")))
	_ = manager.HandleUpdate("Emma", commandUpdate(
		command("done", models.CommandSuccess, ""),
		command("running", models.CommandInProgress, ""),
	))

	// Success is terminal: a later Error for the same command is not a
	// new failure.
	_ = manager.HandleUpdate("Emma", commandUpdate(
		command("done", models.CommandError, "late report"),
		command("running", models.CommandInProgress, ""),
	))
	if len(rec.sent) != 0 {
		t.Fatalf("alerted on a transition out of a terminal state: %+v", rec.sent)
	}

	_ = manager.HandleUpdate("Emma", commandUpdate(
		command("done", models.CommandError, "late report"),
		command("running", models.CommandError, "timed out"),
	))
	if len(rec.sent) != 1 {
		t.Fatalf("sent %d alerts, want 1", len(rec.sent))
	}
	if !strings.Contains(rec.sent[0].message, "timed out") {
		t.Errorf("unexpected message: %s", rec.sent[0].message)
	}
}

func TestManager_CommandAlertsDisabled(t *testing.T) {
	settings := models.DefaultDisplaySettings()
	settings.EnableCommandAlerts = false
	manager, rec, _ := newTestManager(settings)

	_ = manager.HandleUpdate("Emma", commandUpdate())
	_ = manager.HandleUpdate("Emma", commandUpdate(command("c1", models.CommandError, "")))
	if len(rec.sent) != 0 {
		t.Errorf("sent %d alerts, want 0", len(rec.sent))
	}
}

func TestManager_SendError(t *testing.T) {
	manager, rec, _ := newTestManager(models.DefaultDisplaySettings())
	rec.err = errors.New("no notification daemon")

	if err := manager.HandleUpdate("Emma", glucoseUpdate(45)); !errors.Is(err, rec.err) {
		t.Errorf("HandleUpdate() error = %v, want %v", err, rec.err)
	}
	if _, ok := manager.lastAlertTime[testLooperID][alertUrgentLow]; ok {
		t.Error("failed alert must not start the repeat window")
	}
}

func TestManager_ClearAlertState(t *testing.T) {
	manager, _, _ := newTestManager(models.DefaultDisplaySettings())

	manager.alertTimes(testLooperID)["low"] = time.Now()
	manager.alertTimes(testLooperID)["high"] = time.Now()

	manager.ClearAlertState(testLooperID, "low")
	if _, ok := manager.lastAlertTime[testLooperID]["low"]; ok {
		t.Error("low alert should be cleared")
	}
	if _, ok := manager.lastAlertTime[testLooperID]["high"]; !ok {
		t.Error("high alert should still exist")
	}

	manager.ClearAlertState(testLooperID, "")
	if len(manager.lastAlertTime[testLooperID]) != 0 {
		t.Error("All alerts should be cleared")
	}
}

func TestManager_UpdateSettings(t *testing.T) {
	manager, _, _ := newTestManager(models.DefaultDisplaySettings())

	newSettings := models.DefaultDisplaySettings()
	newSettings.Unit = testMmolUnit

	manager.UpdateSettings(newSettings)

	if manager.Settings().Unit != testMmolUnit {
		t.Error("Settings were not updated")
	}
}
