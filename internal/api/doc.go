// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

/*
Package api exposes the backup orchestrator, the job tracker and the
subscription tracker over a chi REST router.

Routes:

	GET    /health                              service and job engine health
	GET    /metrics                             Prometheus metrics
	GET    /ws                                  subscription WebSocket
	GET    /api/v1/backup/jobs                  active backup jobs in the engine
	POST   /api/v1/backup/jobs                  start a configured or ad-hoc backup
	GET    /api/v1/backup/jobs/{jobID}          one engine job by engine ID
	POST   /api/v1/backup/jobs/{jobID}/cancel   stop an engine job
	GET    /api/v1/backup/configs               configured jobs with next run time
	GET    /api/v1/jobs                         tracked jobs
	GET    /api/v1/jobs/history                 archived terminal jobs
	GET    /api/v1/jobs/{id}                    one tracked or archived job
	DELETE /api/v1/jobs/{id}                    drop a tracked job
	GET    /api/v1/subscriptions                subscriber count per topic

Every JSON response uses the APIResponse envelope:

	{"success": true, "data": {...}, "meta": {"request_id": "...", "timestamp": "..."}}
	{"success": false, "error": {"code": "NOT_FOUND", "message": "..."}, "meta": {...}}

Request bodies are decoded with goccy/go-json and validated with the shared
validator from internal/validation.
*/
package api
