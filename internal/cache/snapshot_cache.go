// Package cache mirrors published snapshots into Redis so other processes can
// read a looper's state and follow its updates without polling Nightscout.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/mrcode/loop-caregiver/internal/remotedata"
)

// ErrCacheMiss is returned when no snapshot is stored for a looper
var ErrCacheMiss = errors.New("snapshot not cached")

const (
	DefaultKeyPrefix = "loop-caregiver:snapshot:"
	DefaultChannel   = "loop-caregiver:snapshots"
	DefaultTTL       = 15 * time.Minute
)

type Options struct {
	KeyPrefix string
	Channel   string
	TTL       time.Duration
}

func (o Options) withDefaults() Options {
	if o.KeyPrefix == "" {
		o.KeyPrefix = DefaultKeyPrefix
	}
	if o.Channel == "" {
		o.Channel = DefaultChannel
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	return o
}

// Event is published on the channel for every stored snapshot
type Event struct {
	LooperID  string    `json:"looperId"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
	Changed   []string  `json:"changed,omitempty"`
}

// SnapshotCache stores the latest snapshot per looper
type SnapshotCache struct {
	redisClient *redis.Client
	opts        Options
	logger      *zap.Logger
}

func NewSnapshotCache(redisClient *redis.Client, opts Options, logger *zap.Logger) *SnapshotCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotCache{
		redisClient: redisClient,
		opts:        opts.withDefaults(),
		logger:      logger,
	}
}

func (c *SnapshotCache) key(looperID string) string {
	return c.opts.KeyPrefix + looperID
}

// Ping checks the Redis connection
func (c *SnapshotCache) Ping(ctx context.Context) error {
	return c.redisClient.Ping(ctx).Err()
}

// Store writes the update's snapshot with the configured TTL and announces it
// on the channel. Both happen in one transaction.
func (c *SnapshotCache) Store(ctx context.Context, update remotedata.Update) error {
	snapshot := update.Current
	if snapshot == nil {
		return nil
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	event, err := json.Marshal(Event{
		LooperID:  snapshot.LooperID,
		Version:   snapshot.Version,
		UpdatedAt: snapshot.UpdatedAt,
		Changed:   update.Changed,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := c.key(snapshot.LooperID)
	_, err = c.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, c.opts.TTL)
		pipe.Publish(ctx, c.opts.Channel, event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}

	c.logger.Debug("Stored snapshot",
		zap.String("looper_id", snapshot.LooperID),
		zap.String("key", key),
		zap.Uint64("version", snapshot.Version),
	)
	return nil
}

// Get reads the cached snapshot of a looper
func (c *SnapshotCache) Get(ctx context.Context, looperID string) (*remotedata.Snapshot, error) {
	val, err := c.redisClient.Get(ctx, c.key(looperID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrCacheMiss, looperID)
		}
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}

	var snapshot remotedata.Snapshot
	if err := json.Unmarshal(val, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// Subscribe follows the update channel until ctx is done. Malformed messages
// are logged and skipped.
func (c *SnapshotCache) Subscribe(ctx context.Context) (<-chan Event, error) {
	pubsub := c.redisClient.Subscribe(ctx, c.opts.Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", c.opts.Channel, err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					c.logger.Warn("Skipping malformed snapshot event", zap.Error(err))
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}
