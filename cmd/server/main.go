// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/unraid-api/internal/api"
	"github.com/tomtom215/unraid-api/internal/backup"
	"github.com/tomtom215/unraid-api/internal/config"
	"github.com/tomtom215/unraid-api/internal/jobs"
	"github.com/tomtom215/unraid-api/internal/logging"
	"github.com/tomtom215/unraid-api/internal/polling"
	"github.com/tomtom215/unraid-api/internal/pubsub"
	"github.com/tomtom215/unraid-api/internal/rclone"
	"github.com/tomtom215/unraid-api/internal/subscription"
	"github.com/tomtom215/unraid-api/internal/supervisor"
	"github.com/tomtom215/unraid-api/internal/supervisor/services"
	"github.com/tomtom215/unraid-api/internal/sysmetrics"
	ws "github.com/tomtom215/unraid-api/internal/websocket"
)

const reconcileTask = "backup-reconcile"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("rclone_url", cfg.RClone.URL).
		Str("pubsub_backend", cfg.PubSub.Backend).
		Int("backup_configs", len(cfg.Backup.Jobs)).
		Msg("Starting Unraid API")

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Server stopped with error")
	}
	logging.Info().Msg("Application stopped gracefully")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus, err := pubsub.Open(cfg.PubSub)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing pub/sub")
		}
	}()

	registry := polling.NewRegistry()
	topics := subscription.NewTracker(registry)

	var trackerOpts []jobs.Option
	var history *jobs.HistoryStore
	if cfg.Backup.HistoryPath != "" {
		history, err = jobs.OpenHistoryStore(cfg.Backup.HistoryPath, cfg.Backup.HistoryRetention)
		if err != nil {
			return err
		}
		defer func() {
			if err := history.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing job history")
			}
		}()
		trackerOpts = append(trackerOpts, jobs.WithObserver(history.Observer()))
		logging.Info().Str("path", cfg.Backup.HistoryPath).Msg("Job history enabled")
	}
	tracker := jobs.NewTracker(trackerOpts...)

	rc := rclone.NewClient(cfg.RClone)
	orch := backup.NewOrchestrator(backup.NewRCloneEngine(rc), tracker, topics, bus, cfg.Backup)

	scheduler, err := backup.NewScheduler(orch)
	if err != nil {
		return err
	}

	if cfg.Backup.ReconcileInterval > 0 {
		if err := registry.StartPolling(reconcileTask, cfg.Backup.ReconcileInterval, orch.ReconcileAll); err != nil {
			return err
		}
	}

	sysmetrics.Register(topics, bus, sysmetrics.HostSampler{}, cfg.Polling)

	hub := ws.NewHub(topics, bus, ws.WithTopicPreparer(orch))

	handlerOpts := []api.HandlerOption{
		api.WithScheduler(scheduler),
		api.WithEngineCheck(rc),
		api.WithPubSubBackend(bus.Backend()),
		api.WithClientCounter(hub.GetClientCount),
		api.WithPollingTasks(registry.Tasks),
	}
	if history != nil {
		handlerOpts = append(handlerOpts, api.WithHistory(history))
	}
	handler := api.NewHandler(orch, tracker, topics, handlerOpts...)
	router := api.NewRouter(handler,
		api.NewChiMiddleware(api.ChiMiddlewareConfigFrom(cfg.Server)),
		hub.Handler(cfg.Server.CORSOrigins),
	)

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.Setup(),
		ReadHeaderTimeout: cfg.Server.Timeout,
		ReadTimeout:       cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: it would cut long-lived WebSocket connections.
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
		return err
	}
	tree.AddProducerService(registry)
	tree.AddProducerService(scheduler)
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, server.Addr, cfg.Server.ShutdownTimeout))

	logging.Info().Msg("Starting supervisor tree")
	err = tree.Serve(ctx)

	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
