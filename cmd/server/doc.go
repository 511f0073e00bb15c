// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

// Package main is the entry point for the Unraid API server.
//
// The server tracks WebSocket subscriptions to live topics, runs a polling
// producer for a topic only while it has subscribers, and orchestrates
// backup jobs executed by an rclone remote-control daemon.
//
// # Startup order
//
//  1. Configuration (koanf: defaults, config.yaml, environment)
//  2. Logging (zerolog)
//  3. Pub/sub backend (watermill gochannel, or NATS with -tags nats)
//  4. Polling registry and subscription tracker
//  5. Job tracker, with the badger history store when BACKUP_HISTORY_PATH is set
//  6. rclone client, backup orchestrator and cron scheduler
//  7. CPU and memory topics
//  8. WebSocket hub, REST router and HTTP server
//  9. Supervisor tree, until SIGINT or SIGTERM
//
// # Example
//
//	export RCLONE_URL=http://127.0.0.1:5572
//	export RCLONE_USERNAME=admin RCLONE_PASSWORD=secret
//	export BACKUP_HISTORY_PATH=/mnt/user/appdata/unraid-api/history
//	./unraid-api
//
// Scheduled backups are declared in config.yaml:
//
//	backup:
//	  jobs:
//	    - id: flash
//	      name: Flash drive
//	      schedule: "0 3 * * *"
//	      source_path: /boot
//	      remote_name: b2
//	      destination_path: unraid/flash
//	      enabled: true
package main
