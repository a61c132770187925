// Package notifications handles caregiver alerts for published snapshots
package notifications

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"

	"github.com/mrcode/loop-caregiver/internal/models"
	"github.com/mrcode/loop-caregiver/internal/remotedata"
)

// Alert type constants
const (
	alertUrgentLow  = models.StatusUrgentLow
	alertLow        = models.StatusLow
	alertUrgentHigh = models.StatusUrgentHigh
	alertHigh       = models.StatusHigh
	alertCommand    = "command_failed"
)

// Sender delivers a notification to the caregiver
type Sender func(title, message string) error

// BeeepSender sends desktop notifications
func BeeepSender(title, message string) error {
	return beeep.Notify(title, message, "")
}

// Manager handles glucose and remote command alerts for every looper
type Manager struct {
	settings models.DisplaySettings
	send     Sender
	now      func() time.Time
	logger   *zap.Logger

	mu sync.Mutex
	// lastAlertTime is keyed by looper id, then alert type
	lastAlertTime map[string]map[string]time.Time
	// commandStates remembers the last seen state of each command per looper
	commandStates map[string]map[string]models.CommandState
}

// NewManager creates a new notification manager. A nil sender uses
// BeeepSender.
func NewManager(settings models.DisplaySettings, send Sender, logger *zap.Logger) *Manager {
	if send == nil {
		send = BeeepSender
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		settings:      settings,
		send:          send,
		now:           time.Now,
		logger:        logger,
		lastAlertTime: make(map[string]map[string]time.Time),
		commandStates: make(map[string]map[string]models.CommandState),
	}
}

// Settings returns the settings alerts are evaluated against
func (m *Manager) Settings() models.DisplaySettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// UpdateSettings replaces the alert settings
func (m *Manager) UpdateSettings(settings models.DisplaySettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
}

// HandleUpdate checks a published snapshot and sends the alerts it warrants.
// Failures to send are collected; one failed alert does not stop the others.
func (m *Manager) HandleUpdate(looperName string, update remotedata.Update) error {
	if update.Current == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if update.Has(remotedata.FeedGlucose) {
		record(m.checkGlucose(looperName, update.Current))
	}
	if update.Has(remotedata.FeedRecentCommands) || m.commandStates[update.Current.LooperID] == nil {
		for _, command := range m.failedCommands(update.Current) {
			record(m.notifyCommand(looperName, update.Current.LooperID, command))
		}
	}
	return firstErr
}

func (m *Manager) checkGlucose(looperName string, snapshot *remotedata.Snapshot) error {
	if snapshot.CurrentGlucose == nil {
		return nil
	}
	reading := *snapshot.CurrentGlucose
	mgdl := int(reading.Quantity.In(models.UnitMgdL) + 0.5)

	alertType := m.shouldAlert(m.settings.GetGlucoseStatus(mgdl))
	if alertType == "" {
		// Back in range: the next excursion alerts immediately.
		m.clearGlucoseAlerts(snapshot.LooperID)
		return nil
	}

	last := m.alertTimes(snapshot.LooperID)
	// Check if we should repeat the alert
	if lastTime, ok := last[alertType]; ok {
		if m.settings.RepeatAlertMinutes > 0 {
			repeatDuration := time.Duration(m.settings.RepeatAlertMinutes) * time.Minute
			if m.now().Sub(lastTime) < repeatDuration {
				return nil
			}
		} else {
			// No repeat, only alert once per status change
			return nil
		}
	}

	title, message := m.formatNotification(looperName, reading, alertType)
	if err := m.send(title, message); err != nil {
		m.logger.Warn("glucose alert failed",
			zap.String("looper_id", snapshot.LooperID),
			zap.String("alert", alertType),
			zap.Error(err))
		return err
	}

	last[alertType] = m.now()
	return nil
}

// shouldAlert determines if an alert should be sent
func (m *Manager) shouldAlert(status string) string {
	switch status {
	case alertUrgentLow:
		if m.settings.EnableUrgentLowAlert {
			return alertUrgentLow
		}
	case alertLow:
		if m.settings.EnableLowAlert {
			return alertLow
		}
	case alertUrgentHigh:
		if m.settings.EnableUrgentHighAlert {
			return alertUrgentHigh
		}
	case alertHigh:
		if m.settings.EnableHighAlert {
			return alertHigh
		}
	}
	return ""
}

func (m *Manager) alertTimes(looperID string) map[string]time.Time {
	last, ok := m.lastAlertTime[looperID]
	if !ok {
		last = make(map[string]time.Time)
		m.lastAlertTime[looperID] = last
	}
	return last
}

func (m *Manager) clearGlucoseAlerts(looperID string) {
	for _, alertType := range []string{alertUrgentLow, alertLow, alertUrgentHigh, alertHigh} {
		delete(m.lastAlertTime[looperID], alertType)
	}
}

// formatNotification creates the notification title and message
func (m *Manager) formatNotification(looperName string, reading models.GlucoseSample, alertType string) (string, string) {
	var title, message string
	var valueStr string

	if m.settings.DisplayUnit() == models.UnitMmolL {
		valueStr = fmt.Sprintf("%.1f mmol/L", reading.Quantity.In(models.UnitMmolL))
	} else {
		valueStr = fmt.Sprintf("%.0f mg/dL", reading.Quantity.In(models.UnitMgdL))
	}
	trend := reading.Trend.Arrow()

	switch alertType {
	case alertUrgentLow:
		title = "⚠️ URGENT LOW GLUCOSE"
		message = fmt.Sprintf("%s is critically low: %s %s", looperName, valueStr, trend)
	case alertLow:
		title = "⬇️ Low Glucose"
		message = fmt.Sprintf("%s is low: %s %s", looperName, valueStr, trend)
	case alertUrgentHigh:
		title = "⚠️ URGENT HIGH GLUCOSE"
		message = fmt.Sprintf("%s is critically high: %s %s", looperName, valueStr, trend)
	case alertHigh:
		title = "⬆️ High Glucose"
		message = fmt.Sprintf("%s is high: %s %s", looperName, valueStr, trend)
	}

	return title, message
}

// failedCommands returns the commands that entered the Error state since the
// looper's commands were last seen. The first snapshot of a looper only
// records states, so old failures are not reported on startup.
func (m *Manager) failedCommands(snapshot *remotedata.Snapshot) []models.RemoteCommand {
	previous, seen := m.commandStates[snapshot.LooperID]
	current := make(map[string]models.CommandState, len(snapshot.RecentCommands))
	m.commandStates[snapshot.LooperID] = current

	var failed []models.RemoteCommand
	for _, command := range snapshot.RecentCommands {
		state := command.Status.State
		current[command.ID] = state
		if !seen {
			continue
		}

		last, known := previous[command.ID]
		if known && last != state {
			if !last.CanTransitionTo(state) {
				m.logger.Debug("ignoring unexpected command state change",
					zap.String("looper_id", snapshot.LooperID),
					zap.String("command_id", command.ID),
					zap.String("from", last.Title()),
					zap.String("to", state.Title()))
				continue
			}
			m.logger.Debug("command state changed",
				zap.String("looper_id", snapshot.LooperID),
				zap.String("command_id", command.ID),
				zap.String("state", state.Title()))
		}

		// A command first seen already failed counts as a new failure.
		if state == models.CommandError && (!known || last != state) {
			failed = append(failed, command)
		}
	}
	return failed
}

func (m *Manager) notifyCommand(looperName, looperID string, command models.RemoteCommand) error {
	if !m.settings.EnableCommandAlerts {
		return nil
	}

	title := "❌ Remote Command Failed"
	message := fmt.Sprintf("%s: %s command failed", looperName, command.Action.Type)
	if command.Status.Message != "" {
		message += ": " + command.Status.Message
	}

	if err := m.send(title, message); err != nil {
		m.logger.Warn("command alert failed",
			zap.String("looper_id", looperID),
			zap.String("command_id", command.ID),
			zap.Error(err))
		return err
	}
	m.alertTimes(looperID)[alertCommand] = m.now()
	return nil
}

// ClearAlertState clears the alert state of a looper for a specific type or
// all types
func (m *Manager) ClearAlertState(looperID, alertType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if alertType == "" {
		delete(m.lastAlertTime, looperID)
	} else {
		delete(m.lastAlertTime[looperID], alertType)
	}
}

// SendTestNotification sends a test notification
func (m *Manager) SendTestNotification() error {
	return m.send("Loop Caregiver", "Test notification - alerts are working!")
}
