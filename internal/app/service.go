// Package app runs one synchronization manager per configured looper and
// fans their updates out to alerts and the snapshot cache.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mrcode/loop-caregiver/internal/config"
	"github.com/mrcode/loop-caregiver/internal/logging"
	"github.com/mrcode/loop-caregiver/internal/models"
	"github.com/mrcode/loop-caregiver/internal/nightscout"
	"github.com/mrcode/loop-caregiver/internal/notifications"
	"github.com/mrcode/loop-caregiver/internal/remotedata"
	"github.com/mrcode/loop-caregiver/internal/timeline"
)

// SnapshotStore receives every published update
type SnapshotStore interface {
	Store(ctx context.Context, update remotedata.Update) error
}

type looperEntry struct {
	looper  models.Looper
	client  *nightscout.Client
	manager *remotedata.Manager
	logger  *zap.Logger
}

// Service is the looper registry
type Service struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    SnapshotStore
	notifier *notifications.Manager

	loopers []models.Looper
	entries map[string]*looperEntry

	mu      sync.Mutex
	cancel  context.CancelFunc
	unsubs  []func()
	workers sync.WaitGroup
}

// NewService creates a manager and Nightscout client for every configured
// looper. store and notifier are optional.
func NewService(cfg *config.Config, logger *zap.Logger, store SnapshotStore, notifier *notifications.Manager) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		notifier: notifier,
		entries:  make(map[string]*looperEntry, len(cfg.Loopers)),
	}

	for _, looper := range cfg.Loopers {
		if _, exists := s.entries[looper.ID]; exists {
			return nil, fmt.Errorf("duplicate looper %s", looper.ID)
		}
		looperLogger := logging.WithLooper(logger, looper)

		client := nightscout.NewLooperClient(looper, nightscout.Options{
			Timeout:           cfg.Sync.FetchTimeout,
			GlucoseLookback:   cfg.Sync.GlucoseLookback,
			TreatmentLookback: cfg.Sync.TreatmentLookback,
			MaxEntries:        cfg.Sync.MaxEntries,
			RetryCount:        cfg.Sync.RetryCount,
		}, looperLogger)

		manager, err := remotedata.NewManager(looper.ID, client, remotedata.Options{
			Interval:     cfg.Sync.RefreshInterval,
			FetchTimeout: cfg.Sync.FetchTimeout,
		}, looperLogger)
		if err != nil {
			return nil, fmt.Errorf("looper %s: %w", looper.Name, err)
		}

		s.entries[looper.ID] = &looperEntry{
			looper:  looper,
			client:  client,
			manager: manager,
			logger:  looperLogger,
		}
		s.loopers = append(s.loopers, looper)
	}

	return s, nil
}

// Loopers returns the configured loopers in configuration order
func (s *Service) Loopers() []models.Looper {
	loopers := make([]models.Looper, len(s.loopers))
	copy(loopers, s.loopers)
	return loopers
}

// Manager returns the synchronization manager of a looper
func (s *Service) Manager(looperID string) (*remotedata.Manager, bool) {
	entry, ok := s.entries[looperID]
	if !ok {
		return nil, false
	}
	return entry.manager, true
}

// Synchronizer lets the timeline generator resolve loopers
func (s *Service) Synchronizer(looperID string) (timeline.Synchronizer, bool) {
	manager, ok := s.Manager(looperID)
	if !ok {
		return nil, false
	}
	return manager, true
}

// Verify checks every Nightscout site concurrently. An unreachable site is
// reported but an empty one is not: a new sensor may not have uploaded yet.
func (s *Service) Verify(ctx context.Context) error {
	var mu sync.Mutex
	var failed []error

	g, ctx := errgroup.WithContext(ctx)
	for _, entry := range s.entries {
		entry := entry
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(ctx, s.cfg.Sync.FetchTimeout)
			defer cancel()

			current, err := entry.client.GetCurrentEntry(ctx)
			switch {
			case errors.Is(err, nightscout.ErrNoEntries):
				entry.logger.Warn("nightscout has no glucose entries yet")
			case err != nil:
				entry.logger.Warn("nightscout check failed", zap.Error(err))
				mu.Lock()
				failed = append(failed, fmt.Errorf("%s: %w", entry.looper.Name, err))
				mu.Unlock()
			default:
				entry.logger.Info("nightscout reachable",
					zap.Int("sgv", current.ValueMgDL()),
					zap.Time("reading_time", current.Time()))
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(failed...)
}

// Start begins periodic synchronization of every looper
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	for _, looper := range s.loopers {
		entry := s.entries[looper.ID]
		updates, unsubscribe := entry.manager.Subscribe()
		s.unsubs = append(s.unsubs, unsubscribe)

		s.workers.Add(1)
		go s.consume(ctx, entry, updates)

		entry.manager.Start(ctx)
		entry.logger.Info("synchronization started",
			zap.Duration("interval", s.cfg.Sync.RefreshInterval))
	}
}

func (s *Service) consume(ctx context.Context, entry *looperEntry, updates <-chan remotedata.Update) {
	defer s.workers.Done()

	for update := range updates {
		if s.notifier != nil {
			if err := s.notifier.HandleUpdate(entry.looper.Name, update); err != nil {
				entry.logger.Warn("failed to send alert", zap.Error(err))
			}
		}
		if s.store != nil {
			if err := s.store.Store(ctx, update); err != nil {
				entry.logger.Warn("failed to cache snapshot",
					zap.Uint64("version", update.Current.Version),
					zap.Error(err))
			}
		}
	}
}

// Stop ends synchronization and waits for the update consumers to drain
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, unsubs := s.cancel, s.unsubs
	s.cancel, s.unsubs = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	for _, entry := range s.entries {
		entry.manager.Stop()
	}
	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	s.workers.Wait()
	s.logger.Info("synchronization stopped")
}
