package remotedata

import (
	"context"
	"sync"
	"time"

	"github.com/mrcode/loop-caregiver/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type sentCommand struct {
	name string
	args []interface{}
}

// fakeProvider serves canned feeds. Every field may be swapped between passes
// through set.
type fakeProvider struct {
	mu sync.Mutex

	glucose  []models.GlucoseSample
	carbs    []models.CarbEntry
	boluses  []models.BolusEntry
	basals   []models.BasalEntry
	presets  []models.OverrideEntry
	status   *models.DeviceStatus
	commands []models.RemoteCommand
	profile  *models.ProfileSet

	errs map[string]error

	// glucoseStarted is signalled and glucoseRelease awaited on every
	// glucose fetch when set.
	glucoseStarted chan struct{}
	glucoseRelease chan struct{}

	calls map[string]int
	sent  []sentCommand
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeProvider) set(fn func(f *fakeProvider)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeProvider) callCount(feed string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[feed]
}

func (f *fakeProvider) record(feed string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[feed]++
	return f.errs[feed]
}

func (f *fakeProvider) FetchGlucoseSamples(ctx context.Context) ([]models.GlucoseSample, error) {
	f.mu.Lock()
	started, release := f.glucoseStarted, f.glucoseRelease
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := f.record(FeedGlucose); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.glucose, nil
}

func (f *fakeProvider) FetchCarbEntries(ctx context.Context) ([]models.CarbEntry, error) {
	if err := f.record(FeedCarbs); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.carbs, nil
}

func (f *fakeProvider) FetchBolusEntries(ctx context.Context) ([]models.BolusEntry, error) {
	if err := f.record(FeedBolus); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.boluses, nil
}

func (f *fakeProvider) FetchBasalEntries(ctx context.Context) ([]models.BasalEntry, error) {
	if err := f.record(FeedBasal); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.basals, nil
}

func (f *fakeProvider) FetchOverridePresets(ctx context.Context) ([]models.OverrideEntry, error) {
	if err := f.record(FeedOverridePresets); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presets, nil
}

func (f *fakeProvider) FetchLatestDeviceStatus(ctx context.Context) (*models.DeviceStatus, error) {
	if err := f.record(FeedDeviceStatus); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeProvider) FetchRecentCommands(ctx context.Context) ([]models.RemoteCommand, error) {
	if err := f.record(FeedRecentCommands); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands, nil
}

func (f *fakeProvider) FetchCurrentProfile(ctx context.Context) (*models.ProfileSet, error) {
	if err := f.record(FeedProfile); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profile, nil
}

func (f *fakeProvider) send(name string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentCommand{name: name, args: args})
	return f.errs[name]
}

func (f *fakeProvider) DeliverBolus(ctx context.Context, units float64) error {
	return f.send("bolus", units)
}

func (f *fakeProvider) DeliverCarbs(ctx context.Context, grams float64, absorption time.Duration, consumedAt time.Time) error {
	return f.send("carbs", grams, absorption, consumedAt)
}

func (f *fakeProvider) StartOverride(ctx context.Context, name string, duration time.Duration) error {
	return f.send("override", name, duration)
}

func (f *fakeProvider) CancelOverride(ctx context.Context) error {
	return f.send("cancelOverride")
}

func (f *fakeProvider) ActivateAutobolus(ctx context.Context, activate bool) error {
	return f.send("autobolus", activate)
}

func (f *fakeProvider) ActivateClosedLoop(ctx context.Context, activate bool) error {
	return f.send("closedLoop", activate)
}

func (f *fakeProvider) DeleteAllCommands(ctx context.Context) error {
	return f.send("deleteAll")
}
