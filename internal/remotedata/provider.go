package remotedata

import (
	"context"
	"time"

	"github.com/mrcode/loop-caregiver/internal/models"
)

// Provider is the remote source of a looper's data. Every fetch is
// independent and may fail on its own.
type Provider interface {
	FetchGlucoseSamples(ctx context.Context) ([]models.GlucoseSample, error)
	FetchCarbEntries(ctx context.Context) ([]models.CarbEntry, error)
	FetchBolusEntries(ctx context.Context) ([]models.BolusEntry, error)
	FetchBasalEntries(ctx context.Context) ([]models.BasalEntry, error)
	FetchOverridePresets(ctx context.Context) ([]models.OverrideEntry, error)
	// FetchLatestDeviceStatus returns nil when nothing has been uploaded yet.
	FetchLatestDeviceStatus(ctx context.Context) (*models.DeviceStatus, error)
	FetchRecentCommands(ctx context.Context) ([]models.RemoteCommand, error)
	// FetchCurrentProfile returns nil when no profile exists.
	FetchCurrentProfile(ctx context.Context) (*models.ProfileSet, error)

	CommandSender
}

// CommandSender submits remote commands to the looper's automation system
type CommandSender interface {
	DeliverBolus(ctx context.Context, units float64) error
	DeliverCarbs(ctx context.Context, grams float64, absorption time.Duration, consumedAt time.Time) error
	StartOverride(ctx context.Context, name string, duration time.Duration) error
	CancelOverride(ctx context.Context) error
	ActivateAutobolus(ctx context.Context, activate bool) error
	ActivateClosedLoop(ctx context.Context, activate bool) error
	DeleteAllCommands(ctx context.Context) error
}
