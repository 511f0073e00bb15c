// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/unraid-api/internal/backup"
	"github.com/tomtom215/unraid-api/internal/config"
	"github.com/tomtom215/unraid-api/internal/jobs"
	"github.com/tomtom215/unraid-api/internal/validation"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// BackupService is the orchestrator surface used by the backup routes.
type BackupService interface {
	ListActiveJobs(ctx context.Context) []backup.JobView
	GetJobStatus(ctx context.Context, jobID string) *backup.JobView
	StartBackup(ctx context.Context, configID, trigger string) (*jobs.Status, error)
	Start(ctx context.Context, jc config.BackupJobConfig, trigger string) (*jobs.Status, error)
	CancelJob(ctx context.Context, jobID string) error
	Configs() []config.BackupJobConfig
	GroupFor(configID string) string
}

// JobStore is the job tracker surface used by the /jobs routes.
type JobStore interface {
	GetAllJobStatuses() []jobs.Status
	GetJobStatus(id string) *jobs.Status
	ClearJob(id string) bool
}

// HistoryReader reads archived terminal jobs.
type HistoryReader interface {
	List(limit int) ([]jobs.Status, error)
	Get(id string) (*jobs.Status, error)
}

// ScheduleLister reports the cron entries of configured backups.
type ScheduleLister interface {
	Jobs() []backup.ScheduledJob
}

// SubscriptionCounter reports per-topic subscriber counts.
type SubscriptionCounter interface {
	GetAllSubscriberCounts() map[string]int
	RegisteredTopics() []string
}

// EngineChecker checks the job engine for /health.
type EngineChecker interface {
	Ping(ctx context.Context) error
	BreakerState() string
}

// Handler contains dependencies for API handlers.
//
// Handler methods are split across files:
//   - handlers.go: Handler struct, options, request decoding
//   - handlers_health.go: /health
//   - handlers_backup.go: /api/v1/backup
//   - handlers_jobs.go: /api/v1/jobs and /api/v1/subscriptions
type Handler struct {
	backup  BackupService
	jobs    JobStore
	subs    SubscriptionCounter
	history HistoryReader
	sched   ScheduleLister

	engine        EngineChecker
	pubsubBackend string
	clients       func() int
	pollingTasks  func() []string

	startTime time.Time
}

// HandlerOption configures optional Handler dependencies.
type HandlerOption func(*Handler)

// WithHistory enables /api/v1/jobs/history and history lookups.
func WithHistory(h HistoryReader) HandlerOption {
	return func(hd *Handler) { hd.history = h }
}

// WithScheduler adds next run times to /api/v1/backup/configs.
func WithScheduler(s ScheduleLister) HandlerOption {
	return func(hd *Handler) { hd.sched = s }
}

// WithEngineCheck adds the job engine to /health.
func WithEngineCheck(p EngineChecker) HandlerOption {
	return func(hd *Handler) { hd.engine = p }
}

// WithPubSubBackend names the pub/sub backend in /health.
func WithPubSubBackend(name string) HandlerOption {
	return func(hd *Handler) { hd.pubsubBackend = name }
}

// WithClientCounter reports connected WebSocket clients in /health.
func WithClientCounter(fn func() int) HandlerOption {
	return func(hd *Handler) { hd.clients = fn }
}

// WithPollingTasks reports running polling tasks in /health.
func WithPollingTasks(fn func() []string) HandlerOption {
	return func(hd *Handler) { hd.pollingTasks = fn }
}

// NewHandler creates the API handler.
func NewHandler(svc BackupService, store JobStore, subs SubscriptionCounter, opts ...HandlerOption) *Handler {
	h := &Handler{
		backup:    svc,
		jobs:      store,
		subs:      subs,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// decodeAndValidate reads a JSON body into dst and validates it. It writes
// the error response itself and reports whether the handler may continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	rw := NewResponseWriter(w, r)
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		rw.BadRequest("Invalid JSON body: " + err.Error())
		return false
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		rw.ValidationError("Request validation failed", verr.FieldDetails())
		return false
	}
	return true
}
