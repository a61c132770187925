package nightscout

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/mrcode/loop-caregiver/internal/models"
)

const enteredBy = "loop-caregiver"

// OTPSource supplies the one-time password Loop requires for remote commands
type OTPSource interface {
	Code(ctx context.Context) (string, error)
}

// loopNotification is the body of POST /api/v2/notifications/loop
type loopNotification struct {
	EventType        string  `json:"eventType"`
	RemoteBolus      float64 `json:"remoteBolus,omitempty"`
	RemoteCarbs      float64 `json:"remoteCarbs,omitempty"`
	RemoteAbsorption float64 `json:"remoteAbsorption,omitempty"` // hours
	CreatedAt        string  `json:"created_at,omitempty"`
	Reason           string  `json:"reason,omitempty"`
	ReasonDisplay    string  `json:"reasonDisplay,omitempty"`
	Duration         float64 `json:"duration,omitempty"` // minutes
	OTP              string  `json:"otp,omitempty"`
	EnteredBy        string  `json:"enteredBy"`
}

func (c *Client) otp(ctx context.Context) (string, error) {
	if c.opts.OTP == nil {
		return "", nil
	}
	code, err := c.opts.OTP.Code(ctx)
	if err != nil {
		return "", fmt.Errorf("generating otp: %w", err)
	}
	return code, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body interface{}) error {
	resp, err := c.commands.R().
		SetContext(ctx).
		SetBody(body).
		Post(endpoint)
	return checkResponse(resp, err)
}

func (c *Client) notifyLoop(ctx context.Context, notification loopNotification) error {
	code, err := c.otp(ctx)
	if err != nil {
		return err
	}
	notification.OTP = code
	notification.EnteredBy = enteredBy

	if err := c.post(ctx, "/api/v2/notifications/loop", notification); err != nil {
		return err
	}
	c.logger.Info("sent loop notification", zap.String("event_type", notification.EventType))
	return nil
}

func (c *Client) DeliverBolus(ctx context.Context, units float64) error {
	if units <= 0 || math.IsNaN(units) {
		return fmt.Errorf("invalid bolus amount %v", units)
	}
	return c.notifyLoop(ctx, loopNotification{
		EventType:   models.TreatmentEventTypes.RemoteBolusEntry,
		RemoteBolus: units,
	})
}

// DeliverCarbs records carbs consumed at consumedAt. A zero consumedAt means now.
func (c *Client) DeliverCarbs(ctx context.Context, grams float64, absorption time.Duration, consumedAt time.Time) error {
	if grams <= 0 || math.IsNaN(grams) {
		return fmt.Errorf("invalid carb amount %v", grams)
	}
	if consumedAt.IsZero() {
		consumedAt = c.opts.Now()
	}
	return c.notifyLoop(ctx, loopNotification{
		EventType:        models.TreatmentEventTypes.RemoteCarbsEntry,
		RemoteCarbs:      grams,
		RemoteAbsorption: absorption.Hours(),
		CreatedAt:        consumedAt.UTC().Format(time.RFC3339),
	})
}

// StartOverride enables a named override preset. A zero duration leaves the
// preset's own duration in place.
func (c *Client) StartOverride(ctx context.Context, name string, duration time.Duration) error {
	if name == "" {
		return fmt.Errorf("override name is required")
	}
	return c.notifyLoop(ctx, loopNotification{
		EventType:     models.TreatmentEventTypes.TemporaryOverride,
		Reason:        name,
		ReasonDisplay: name,
		Duration:      duration.Minutes(),
	})
}

func (c *Client) CancelOverride(ctx context.Context) error {
	return c.notifyLoop(ctx, loopNotification{
		EventType: models.TreatmentEventTypes.TemporaryOverrideCancel,
	})
}

func (c *Client) ActivateAutobolus(ctx context.Context, active bool) error {
	return c.sendRemoteCommand(ctx, models.ActionAutobolus, active)
}

func (c *Client) ActivateClosedLoop(ctx context.Context, active bool) error {
	return c.sendRemoteCommand(ctx, models.ActionClosedLoop, active)
}

func (c *Client) sendRemoteCommand(ctx context.Context, action models.ActionType, active bool) error {
	code, err := c.otp(ctx)
	if err != nil {
		return err
	}

	payload := models.RemoteCommandPayload{
		Action:      models.Action{Type: action, Active: &active},
		Status:      models.CommandStatus{State: models.CommandPending},
		CreatedDate: c.opts.Now().UTC(),
		OTP:         code,
	}
	if err := c.post(ctx, "/api/v2/remotecommands", payload); err != nil {
		return err
	}

	c.logger.Info("sent remote command",
		zap.String("action", string(action)),
		zap.Bool("active", active))
	return nil
}

// DeleteAllCommands clears the remote command queue
func (c *Client) DeleteAllCommands(ctx context.Context) error {
	resp, err := c.commands.R().
		SetContext(ctx).
		Delete("/api/v2/remotecommands")
	return checkResponse(resp, err)
}
