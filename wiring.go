package main

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/mrcode/loop-caregiver/internal/api"
	"github.com/mrcode/loop-caregiver/internal/app"
	"github.com/mrcode/loop-caregiver/internal/cache"
	"github.com/mrcode/loop-caregiver/internal/config"
	"github.com/mrcode/loop-caregiver/internal/logging"
	"github.com/mrcode/loop-caregiver/internal/notifications"
	"github.com/mrcode/loop-caregiver/internal/timeline"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)
}

// ProvideRedisClient connects to Redis. It returns nil when no address is set.
func ProvideRedisClient(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) *redis.Client {
	if !cfg.Redis.Enabled() {
		logger.Info("snapshot cache disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				logger.Error("failed to connect to redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
				return err
			}
			logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

// ProvideSnapshotCache returns nil when Redis is disabled
func ProvideSnapshotCache(client *redis.Client, cfg *config.Config, logger *zap.Logger) *cache.SnapshotCache {
	if client == nil {
		return nil
	}
	return cache.NewSnapshotCache(client, cache.Options{
		KeyPrefix: cfg.Redis.KeyPrefix,
		Channel:   cfg.Redis.Channel,
		TTL:       cfg.Redis.TTL,
	}, logger)
}

// ProvideSnapshotStore hands the cache to the service as an untyped nil when
// it is disabled.
func ProvideSnapshotStore(snapshots *cache.SnapshotCache) app.SnapshotStore {
	if snapshots == nil {
		return nil
	}
	return snapshots
}

// ProvideSnapshotReader is ProvideSnapshotStore for the HTTP handlers
func ProvideSnapshotReader(snapshots *cache.SnapshotCache) api.SnapshotReader {
	if snapshots == nil {
		return nil
	}
	return snapshots
}

// ProvideNotifier returns nil when alerts are disabled
func ProvideNotifier(cfg *config.Config, logger *zap.Logger) *notifications.Manager {
	if !cfg.Alerts.Enabled {
		return nil
	}
	return notifications.NewManager(cfg.Display, notifications.BeeepSender, logger.Named("alerts"))
}

func ProvideTimelineGenerator(service *app.Service, cfg *config.Config, logger *zap.Logger) *timeline.Generator {
	return timeline.NewGenerator(service, timeline.GeneratorOptions{
		Count: cfg.Sync.ForecastEntries,
		Unit:  cfg.Display.DisplayUnit(),
	}, logger.Named("timeline"))
}

func ProvideRegistry(service *app.Service) api.Registry {
	return service
}

func startService(lc fx.Lifecycle, service *app.Service, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			// Unreachable sites are retried by the periodic passes.
			if err := service.Verify(startCtx); err != nil {
				logger.Warn("some Nightscout sites could not be reached", zap.Error(err))
			}
			service.Start(context.Background())
			logger.Info("loop-caregiver started", zap.Int("loopers", len(service.Loopers())))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			service.Stop()
			return nil
		},
	})
}

// startCacheWatcher logs the snapshot events other instances publish
func startCacheWatcher(lc fx.Lifecycle, snapshots *cache.SnapshotCache, logger *zap.Logger) {
	if snapshots == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			events, err := snapshots.Subscribe(ctx)
			if err != nil {
				cancel()
				return err
			}
			go func() {
				for event := range events {
					logger.Debug("snapshot published",
						zap.String("looper_id", event.LooperID),
						zap.Uint64("version", event.Version),
						zap.Strings("changed", event.Changed))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return nil
		},
	})
}

func startHTTP(lc fx.Lifecycle, router *gin.Engine, cfg *config.Config, logger *zap.Logger) {
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			listener, err := net.Listen("tcp", cfg.HTTPAddr)
			if err != nil {
				return err
			}
			logger.Info("http server listening", zap.String("addr", listener.Addr().String()))
			go func() {
				if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			return server.Shutdown(stopCtx)
		},
	})
}
