// Package main runs beacon as a standalone process.
//
// It is the composition root: configuration, logging, the optional Redis
// persistence of trigger values, the observability server, the host API
// and the trigger controller are wired here, and their lifecycle is tied to
// SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rafaeljc/beacon/internal/cache"
	"github.com/rafaeljc/beacon/internal/config"
	"github.com/rafaeljc/beacon/internal/controlapi"
	"github.com/rafaeljc/beacon/internal/controller"
	"github.com/rafaeljc/beacon/internal/logger"
	"github.com/rafaeljc/beacon/internal/observability"
	"github.com/rafaeljc/beacon/internal/store"
	"github.com/rafaeljc/beacon/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	appLog := logger.New(&cfg.App)
	slog.SetDefault(appLog)
	cfg.LogConfig(appLog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, appLog)

	// -------------------------------------------------------------------------
	// 2. Infrastructure
	// -------------------------------------------------------------------------
	values := store.New()

	definitions, err := cache.NewDefinitionCache(cfg.Engine.DefinitionCacheCapacity, cfg.Engine.DefinitionCacheTTL)
	if err != nil {
		return fmt.Errorf("failed to build definition cache: %w", err)
	}
	defer definitions.Close()

	var (
		checkers   []observability.Checker
		persistSvc *syncer.Service
	)

	if cfg.Redis.IsConfigured() {
		client, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		valueStore := cache.NewRedisValueStore(client, cfg.Redis.SnapshotKey())
		defer valueStore.Close()

		checkers = append(checkers, cache.NewHealthChecker(client, cfg.Redis.SnapshotKey()))

		if cfg.Syncer.Enabled {
			persistSvc = syncer.New(logger.Component(appLog, "syncer"), cfg.Syncer, values, valueStore)
			if err := persistSvc.Restore(ctx); err != nil {
				return err
			}
		}
	} else {
		appLog.Info("redis not configured, trigger values are kept in memory only")
	}

	// -------------------------------------------------------------------------
	// 3. Wiring
	// -------------------------------------------------------------------------
	ctrl := controller.New(controller.Options{
		Logger:    logger.Component(appLog, "controller"),
		Values:    values,
		Compiler:  definitions,
		QueueSize: cfg.Engine.QueueSize,
	})
	checkers = append(checkers, ctrl)

	var obsServer *observability.Server
	if cfg.Observability.Enabled {
		status := func(ctx context.Context) (any, error) { return ctrl.Status(ctx) }
		obsServer = observability.NewServer(logger.Component(appLog, "observability"), &cfg.Observability, status, checkers...)
		obsServer.Start()
	}

	var apiServer *controlapi.Server
	if cfg.API.Enabled {
		apiLog := logger.Component(appLog, "host_api")
		skipAuth := cfg.API.APIKeyHash == ""
		if skipAuth {
			apiLog.Warn("host api authentication disabled, no API key hash configured")
		}
		api := controlapi.NewAPIWithConfig(apiLog, ctrl, cfg.API.APIKeyHash, skipAuth)
		apiServer = controlapi.NewServer(apiLog, &cfg.API, api)
		apiServer.Start()
	}

	// Workers stop in reverse dependency order: the controller first, then
	// the syncer so its final flush sees the last mutation.
	ctrlCtx, stopCtrl := context.WithCancel(ctx)
	defer stopCtrl()
	syncCtx, stopSync := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSync()

	var ctrlDone, syncDone sync.WaitGroup

	ctrlDone.Add(1)
	go func() {
		defer ctrlDone.Done()
		if err := ctrl.Run(ctrlCtx); err != nil {
			appLog.Error("controller stopped with error", slog.String("error", err.Error()))
		}
	}()

	if persistSvc != nil {
		syncDone.Add(1)
		go func() {
			defer syncDone.Done()
			if err := persistSvc.Run(syncCtx); err != nil {
				appLog.Error("syncer stopped with error", slog.String("error", err.Error()))
			}
		}()
	}

	if path := cfg.Engine.MessagesFile; path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read messages file: %w", err)
		}
		// Invalid definitions are reported but do not stop the valid ones.
		if err := ctrl.LoadMessages(ctx, raw); err != nil {
			appLog.Warn("some message definitions were rejected",
				slog.String("file", path),
				slog.String("error", err.Error()),
			)
		}
	}

	// -------------------------------------------------------------------------
	// 4. Graceful Shutdown
	// -------------------------------------------------------------------------
	<-ctx.Done()
	appLog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		appLog.Error("host api server shutdown failed", slog.String("error", err.Error()))
	}

	if obsServer != nil {
		if err := obsServer.Shutdown(shutdownCtx); err != nil {
			appLog.Error("observability server shutdown failed", slog.String("error", err.Error()))
		}
	}

	stopCtrl()
	ctrlDone.Wait()

	stopSync()
	finished := make(chan struct{})
	go func() {
		syncDone.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timed out: %w", shutdownCtx.Err())
	}

	appLog.Info("beacon exited successfully")
	return nil
}
