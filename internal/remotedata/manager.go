// Package remotedata keeps an up-to-date snapshot of one looper's remote data
package remotedata

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mrcode/loop-caregiver/internal/models"
	"github.com/mrcode/loop-caregiver/internal/override"
)

// ErrNoProvider is returned when a manager is created without a provider
var ErrNoProvider = errors.New("remote data provider is required")

const (
	DefaultInterval     = 30 * time.Second
	DefaultFetchTimeout = 20 * time.Second

	syncKey = "sync"
)

// Options tunes a Manager. Zero values fall back to the defaults.
type Options struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Manager synchronizes one looper's data from a Provider and publishes it as
// immutable snapshots.
type Manager struct {
	looperID string
	provider Provider
	opts     Options
	logger   *zap.Logger

	snapshot atomic.Pointer[Snapshot]
	flight   singleflight.Group

	subMu       sync.Mutex
	subscribers map[int]chan Update
	nextSubID   int

	runMu   sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewManager creates a manager with an empty snapshot
func NewManager(looperID string, provider Provider, opts Options, logger *zap.Logger) (*Manager, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		looperID:    looperID,
		provider:    provider,
		opts:        opts.withDefaults(),
		logger:      logger,
		subscribers: make(map[int]chan Update),
	}
	m.snapshot.Store(&Snapshot{LooperID: looperID})
	return m, nil
}

// LooperID returns the looper this manager serves
func (m *Manager) LooperID() string {
	return m.looperID
}

// CurrentSnapshot returns the latest published snapshot without blocking. It
// is never nil.
func (m *Manager) CurrentSnapshot() *Snapshot {
	return m.snapshot.Load()
}

// Synchronize runs one pass. Concurrent callers share the pass that is
// already in flight. Only a failed glucose fetch fails the pass; the previous
// snapshot then stays published.
//
// The shared pass is detached from the caller that started it and is bounded
// by FetchTimeout alone. Cancelling ctx only stops this caller's wait.
func (m *Manager) Synchronize(ctx context.Context) (*Result, error) {
	passCtx := context.WithoutCancel(ctx)
	ch := m.flight.DoChan(syncKey, func() (interface{}, error) {
		return m.synchronize(passCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Result), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) synchronize(ctx context.Context) (*Result, error) {
	previous := m.snapshot.Load()
	next := *previous
	var changed []string

	glucose, err := m.fetchGlucose(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", FeedGlucose, err)
	}

	now := m.opts.Now()
	historyChanged := replaceSlice(&next.GlucoseSamples, glucose)
	currentChanged := replacePtr(&next.CurrentGlucose, currentReading(glucose, now))
	if historyChanged || currentChanged {
		changed = append(changed, FeedGlucose)
	}

	feedErrors := m.fetchSecondary(ctx, &next, &changed)

	if bolus := validRecommendedBolus(next.LatestDeviceStatus, next.BolusEntries, now); replacePtr(&next.RecommendedBolus, bolus) {
		changed = append(changed, FieldRecommendedBolus)
	}
	if active := override.Reconcile(next.LatestDeviceStatus, next.CurrentProfile, now); replacePtr(&next.ActiveOverride, active) {
		changed = append(changed, FieldActiveOverride)
	}

	if len(changed) == 0 {
		m.logger.Debug("synchronization found no changes")
		return &Result{Snapshot: previous, FeedErrors: feedErrors}, nil
	}

	next.Version = previous.Version + 1
	next.UpdatedAt = now
	m.snapshot.Store(&next)
	m.notify(Update{Previous: previous, Current: &next, Changed: changed})

	m.logger.Debug("published snapshot",
		zap.Uint64("version", next.Version),
		zap.Strings("changed", changed))

	return &Result{Snapshot: &next, Changed: true, FeedErrors: feedErrors}, nil
}

func (m *Manager) fetchGlucose(ctx context.Context) ([]models.GlucoseSample, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
	defer cancel()

	samples, err := m.provider.FetchGlucoseSamples(ctx)
	if err != nil {
		return nil, err
	}

	sorted := make([]models.GlucoseSample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})
	return sorted, nil
}

// currentReading is the newest sample not dated after now. Uploaders with a
// fast clock can report readings from the future.
func currentReading(sorted []models.GlucoseSample, now time.Time) *models.GlucoseSample {
	for i := len(sorted) - 1; i >= 0; i-- {
		if !sorted[i].Date.After(now) {
			sample := sorted[i]
			return &sample
		}
	}
	return nil
}

// fetchSecondary fetches every other feed concurrently and merges the ones
// that succeeded into next. A failed feed keeps its previous value.
func (m *Manager) fetchSecondary(ctx context.Context, next *Snapshot, changed *[]string) error {
	var (
		carbs     []models.CarbEntry
		boluses   []models.BolusEntry
		basals    []models.BasalEntry
		presets   []models.OverrideEntry
		status    *models.DeviceStatus
		commands  []models.RemoteCommand
		profile   *models.ProfileSet
		feedErrs  = make(map[string]error)
		feedErrMu sync.Mutex
	)

	// Siblings are not cancelled when one feed fails, so the group has no
	// shared context and every fetch reports its own error.
	var g errgroup.Group
	fetch := func(feed string, fn func(ctx context.Context) error) {
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
			defer cancel()

			if err := fn(fetchCtx); err != nil {
				feedErrMu.Lock()
				feedErrs[feed] = err
				feedErrMu.Unlock()
			}
			return nil
		})
	}

	fetch(FeedCarbs, func(ctx context.Context) (err error) {
		carbs, err = m.provider.FetchCarbEntries(ctx)
		return err
	})
	fetch(FeedBolus, func(ctx context.Context) (err error) {
		boluses, err = m.provider.FetchBolusEntries(ctx)
		return err
	})
	fetch(FeedBasal, func(ctx context.Context) (err error) {
		basals, err = m.provider.FetchBasalEntries(ctx)
		return err
	})
	fetch(FeedOverridePresets, func(ctx context.Context) (err error) {
		presets, err = m.provider.FetchOverridePresets(ctx)
		return err
	})
	fetch(FeedDeviceStatus, func(ctx context.Context) (err error) {
		status, err = m.provider.FetchLatestDeviceStatus(ctx)
		return err
	})
	fetch(FeedRecentCommands, func(ctx context.Context) (err error) {
		commands, err = m.provider.FetchRecentCommands(ctx)
		return err
	})
	fetch(FeedProfile, func(ctx context.Context) (err error) {
		profile, err = m.provider.FetchCurrentProfile(ctx)
		return err
	})

	_ = g.Wait()

	ok := func(feed string) bool {
		_, failed := feedErrs[feed]
		return !failed
	}
	mark := func(feed string, replaced bool) {
		if replaced {
			*changed = append(*changed, feed)
		}
	}

	if ok(FeedCarbs) {
		mark(FeedCarbs, replaceSlice(&next.CarbEntries, carbs))
	}
	if ok(FeedBolus) {
		mark(FeedBolus, replaceSlice(&next.BolusEntries, boluses))
	}
	if ok(FeedBasal) {
		mark(FeedBasal, replaceSlice(&next.BasalEntries, basals))
	}
	if ok(FeedOverridePresets) {
		mark(FeedOverridePresets, replaceSlice(&next.OverridePresets, presets))
	}
	if ok(FeedDeviceStatus) && status != nil {
		mark(FeedDeviceStatus, m.mergeDeviceStatus(next, status))
	}
	if ok(FeedRecentCommands) {
		mark(FeedRecentCommands, replaceSlice(&next.RecentCommands, commands))
	}
	if ok(FeedProfile) {
		mark(FeedProfile, replacePtr(&next.CurrentProfile, profile))
	}

	// Stable order keeps the combined error deterministic.
	var combined error
	for _, feed := range []string{FeedCarbs, FeedBolus, FeedBasal, FeedOverridePresets, FeedDeviceStatus, FeedRecentCommands, FeedProfile} {
		if err, failed := feedErrs[feed]; failed {
			m.logger.Warn("feed fetch failed, keeping previous value",
				zap.String("feed", feed),
				zap.Error(err))
			combined = multierr.Append(combined, fmt.Errorf("fetch %s: %w", feed, err))
		}
	}
	return combined
}

// mergeDeviceStatus applies a fetched device status along with the values
// derived from it. IOB and COB are only replaced when the status carries them.
func (m *Manager) mergeDeviceStatus(next *Snapshot, status *models.DeviceStatus) bool {
	replaced := replacePtr(&next.LatestDeviceStatus, status)

	if status.Loop != nil && status.Loop.IOB != nil {
		replaced = replacePtr(&next.CurrentIOB, status.Loop.IOB) || replaced
	}
	if status.Loop != nil && status.Loop.COB != nil {
		replaced = replacePtr(&next.CurrentCOB, status.Loop.COB) || replaced
	}

	predicted := status.PredictedSamples(m.looperID)
	replaced = replaceSlice(&next.PredictedGlucose, predicted) || replaced
	return replaced
}

// replaceSlice stores fetched in current unless the two are equal by value.
// Nil and empty count as equal.
func replaceSlice[T any](current *[]T, fetched []T) bool {
	if len(*current) == 0 && len(fetched) == 0 {
		return false
	}
	if reflect.DeepEqual(*current, fetched) {
		return false
	}
	*current = fetched
	return true
}

// replacePtr stores fetched in current unless both point to equal values
func replacePtr[T any](current **T, fetched *T) bool {
	if reflect.DeepEqual(*current, fetched) {
		return false
	}
	*current = fetched
	return true
}

// Subscribe registers for snapshot updates. Delivery never blocks a pass: a
// subscriber that has not drained its previous update misses the next one.
// The returned function unsubscribes and closes the channel.
func (m *Manager) Subscribe() (<-chan Update, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	ch := make(chan Update, 1)
	m.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			delete(m.subscribers, id)
			close(ch)
		})
	}
}

func (m *Manager) notify(update Update) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for _, ch := range m.subscribers {
		select {
		case ch <- update:
		default:
			m.logger.Debug("subscriber busy, dropping update", zap.Uint64("version", update.Current.Version))
		}
	}
}

// Start runs a pass immediately and then on every interval until Stop is
// called or ctx is done. Calling Start on a running manager does nothing.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.stopped = make(chan struct{})

	go m.run(ctx, m.stopped)
}

func (m *Manager) run(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.tick(ctx)
	for {
		select {
		case <-ticker.C:
			m.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	if _, err := m.Synchronize(ctx); err != nil && ctx.Err() == nil {
		m.logger.Error("periodic synchronization failed", zap.Error(err))
	}
}

// Stop ends periodic synchronization and waits for the loop to exit
func (m *Manager) Stop() {
	m.runMu.Lock()
	cancel, stopped := m.cancel, m.stopped
	m.cancel, m.stopped = nil, nil
	m.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// FetchActiveOverride asks the provider directly for the running override
// instead of reading the published snapshot.
func (m *Manager) FetchActiveOverride(ctx context.Context) (*override.Active, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
	defer cancel()

	status, err := m.provider.FetchLatestDeviceStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", FeedDeviceStatus, err)
	}
	profile, err := m.provider.FetchCurrentProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", FeedProfile, err)
	}
	return override.Reconcile(status, profile, m.opts.Now()), nil
}

// DeliverBolus asks the looper's phone to deliver a bolus
func (m *Manager) DeliverBolus(ctx context.Context, units float64) error {
	m.logger.Info("delivering bolus", zap.Float64("units", units))
	if err := m.provider.DeliverBolus(ctx, units); err != nil {
		return fmt.Errorf("deliver bolus: %w", err)
	}
	return nil
}

// DeliverCarbs records a carb entry on the looper's phone
func (m *Manager) DeliverCarbs(ctx context.Context, grams float64, absorption time.Duration, consumedAt time.Time) error {
	m.logger.Info("delivering carbs",
		zap.Float64("grams", grams),
		zap.Duration("absorption", absorption),
		zap.Time("consumed_at", consumedAt))
	if err := m.provider.DeliverCarbs(ctx, grams, absorption, consumedAt); err != nil {
		return fmt.Errorf("deliver carbs: %w", err)
	}
	return nil
}

// StartOverride enables a preset override for duration; zero means indefinite
func (m *Manager) StartOverride(ctx context.Context, name string, duration time.Duration) error {
	m.logger.Info("starting override", zap.String("name", name), zap.Duration("duration", duration))
	if err := m.provider.StartOverride(ctx, name, duration); err != nil {
		return fmt.Errorf("start override: %w", err)
	}
	return nil
}

func (m *Manager) CancelOverride(ctx context.Context) error {
	m.logger.Info("cancelling override")
	if err := m.provider.CancelOverride(ctx); err != nil {
		return fmt.Errorf("cancel override: %w", err)
	}
	return nil
}

func (m *Manager) ActivateAutobolus(ctx context.Context, activate bool) error {
	m.logger.Info("setting autobolus", zap.Bool("active", activate))
	if err := m.provider.ActivateAutobolus(ctx, activate); err != nil {
		return fmt.Errorf("activate autobolus: %w", err)
	}
	return nil
}

func (m *Manager) ActivateClosedLoop(ctx context.Context, activate bool) error {
	m.logger.Info("setting closed loop", zap.Bool("active", activate))
	if err := m.provider.ActivateClosedLoop(ctx, activate); err != nil {
		return fmt.Errorf("activate closed loop: %w", err)
	}
	return nil
}

// DeleteAllCommands clears the remote command queue
func (m *Manager) DeleteAllCommands(ctx context.Context) error {
	m.logger.Info("deleting all remote commands")
	if err := m.provider.DeleteAllCommands(ctx); err != nil {
		return fmt.Errorf("delete commands: %w", err)
	}
	return nil
}
