// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

/*
Package supervisor runs the long-lived services under a suture v4 tree.

	unraid-api (root)
	├── producer-layer
	│   ├── polling registry     (drains in-flight callbacks on stop)
	│   └── backup-scheduler     (cron triggers for configured jobs)
	├── messaging-layer
	│   └── websocket-hub        (closes clients, releasing subscriptions)
	└── api-layer
	    └── http-server          (graceful Shutdown)

A service that returns an error or panics is restarted with suture's
failure decay and backoff. Returning ctx.Err() after cancellation is the
normal stop path.

Supervisor events are logged through sutureslog, fed by the zerolog backed
slog handler from internal/logging:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	tree.AddProducerService(registry)
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, addr, cfg.Server.ShutdownTimeout))
	err = tree.Serve(ctx)
*/
package supervisor
