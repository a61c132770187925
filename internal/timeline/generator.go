package timeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mrcode/loop-caregiver/internal/remotedata"
)

var (
	ErrLooperNotConfigured = errors.New("no looper is configured")
	ErrLooperNotFound      = errors.New("looper not found")
)

// Synchronizer is the part of remotedata.Manager the generator needs
type Synchronizer interface {
	Synchronize(ctx context.Context) (*remotedata.Result, error)
	CurrentSnapshot() *remotedata.Snapshot
}

// Registry resolves a looper id to its synchronizer
type Registry interface {
	Synchronizer(looperID string) (Synchronizer, bool)
}

type GeneratorOptions struct {
	Count int
	Unit  string
	Now   func() time.Time
}

// Generator synchronizes a looper and turns the result into a timeline
type Generator struct {
	registry Registry
	opts     GeneratorOptions
	logger   *zap.Logger
}

func NewGenerator(registry Registry, opts GeneratorOptions, logger *zap.Logger) *Generator {
	if opts.Count <= 0 {
		opts.Count = DefaultEntryCount
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{registry: registry, opts: opts, logger: logger}
}

// Timeline never fails: every problem becomes a single error entry. A failed
// pass still yields a forecast when an earlier pass left a reading behind.
func (g *Generator) Timeline(ctx context.Context, looperID string) Timeline {
	return g.TimelineWithCount(ctx, looperID, g.opts.Count)
}

// TimelineWithCount is Timeline with an explicit number of entries
func (g *Generator) TimelineWithCount(ctx context.Context, looperID string, count int) Timeline {
	if looperID == "" {
		return FailureTimeline(ErrLooperNotConfigured, g.opts.Now())
	}

	synchronizer, ok := g.registry.Synchronizer(looperID)
	if !ok {
		return FailureTimeline(fmt.Errorf("%w: %s", ErrLooperNotFound, looperID), g.opts.Now())
	}

	var snapshot *remotedata.Snapshot
	result, err := synchronizer.Synchronize(ctx)
	if err != nil {
		g.logger.Warn("synchronization for timeline failed",
			zap.String("looper_id", looperID),
			zap.Error(err))
		snapshot = synchronizer.CurrentSnapshot()
		if !snapshot.HasGlucose() {
			return FailureTimeline(err, g.opts.Now())
		}
	} else {
		snapshot = result.Snapshot
	}

	return Build(snapshot, g.opts.Now(), count, g.opts.Unit)
}
