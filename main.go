// Package main is the entry point for the loop-caregiver service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/mrcode/loop-caregiver/internal/api"
	"github.com/mrcode/loop-caregiver/internal/app"
	"github.com/mrcode/loop-caregiver/internal/config"
)

const lifecycleTimeout = 30 * time.Second

func main() {
	loadEnv()

	application := fx.New(
		fx.NopLogger,
		fx.Provide(
			config.Load,
			newLogger,
			ProvideRedisClient,
			ProvideSnapshotCache,
			ProvideSnapshotStore,
			ProvideSnapshotReader,
			ProvideNotifier,
			app.NewService,
			ProvideTimelineGenerator,
			ProvideRegistry,
			api.NewHandler,
			api.NewRouter,
		),
		fx.Invoke(startService, startCacheWatcher, startHTTP),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer startCancel()

	if err := application.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			fmt.Fprintln(os.Stderr, "failed to start within 30 seconds; check that Redis and the Nightscout sites are reachable")
		}
		fmt.Fprintln(os.Stderr, "error starting loop-caregiver:", err)
		os.Exit(1)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer stopCancel()
	if err := application.Stop(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "error stopping loop-caregiver:", err)
	}
}

// loadEnv loads the first .env found in the working directory or its parents
func loadEnv() {
	envPaths := []string{".env"}
	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		envPaths = append(envPaths,
			filepath.Join(workDir, ".env"),
			filepath.Join(parentDir, ".env"),
			filepath.Join(filepath.Dir(parentDir), ".env"),
		)
	}

	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err == nil {
			absPath, _ := filepath.Abs(envPath)
			fmt.Printf("Loaded environment from: %s\n", absPath)
			return
		}
	}
	fmt.Println("No .env file found, using system environment variables")
}
