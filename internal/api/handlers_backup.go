// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tomtom215/unraid-api/internal/backup"
	"github.com/tomtom215/unraid-api/internal/config"
	"github.com/tomtom215/unraid-api/internal/jobs"
	"github.com/tomtom215/unraid-api/internal/logging"
)

const adHocJobName = "Ad-hoc backup"

// StartBackupRequest starts either a configured job (config_id) or an
// ad-hoc one (source_path + remote_name).
type StartBackupRequest struct {
	ConfigID        string `json:"config_id" validate:"required_without=SourcePath,max=64,excludesall=/:"`
	Name            string `json:"name" validate:"max=128"`
	SourcePath      string `json:"source_path" validate:"required_without=ConfigID"`
	RemoteName      string `json:"remote_name" validate:"required_with=SourcePath,excludesall=/:"`
	DestinationPath string `json:"destination_path"`
	Mirror          bool   `json:"mirror"`
}

// adHocConfig turns an inline request into a one-off job config.
func (req *StartBackupRequest) adHocConfig() config.BackupJobConfig {
	name := req.Name
	if name == "" {
		name = adHocJobName
	}
	return config.BackupJobConfig{
		ID:              "adhoc-" + uuid.New().String()[:8],
		Name:            name,
		SourcePath:      req.SourcePath,
		RemoteName:      req.RemoteName,
		DestinationPath: req.DestinationPath,
		Mirror:          req.Mirror,
	}
}

// BackupConfigView is a configured job plus its cron entry.
type BackupConfigView struct {
	config.BackupJobConfig
	Group   string     `json:"group"`
	NextRun *time.Time `json:"next_run,omitempty"`
	PrevRun *time.Time `json:"prev_run,omitempty"`
}

// ListBackupJobs handles GET /api/v1/backup/jobs.
func (h *Handler) ListBackupJobs(w http.ResponseWriter, r *http.Request) {
	views := h.backup.ListActiveJobs(r.Context())
	NewResponseWriter(w, r).SuccessWithPagination(views, &PaginationMeta{Count: len(views)})
}

// GetBackupJob handles GET /api/v1/backup/jobs/{jobID}.
func (h *Handler) GetBackupJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	view := h.backup.GetJobStatus(r.Context(), jobID)
	if view == nil {
		NewResponseWriter(w, r).NotFound("Backup job not found: " + jobID)
		return
	}
	NewResponseWriter(w, r).Success(view)
}

// StartBackupJob handles POST /api/v1/backup/jobs.
func (h *Handler) StartBackupJob(w http.ResponseWriter, r *http.Request) {
	var req StartBackupRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	rw := NewResponseWriter(w, r)
	if req.ConfigID != "" && req.SourcePath != "" {
		rw.BadRequest("Set either config_id or source_path, not both")
		return
	}

	var (
		started *jobs.Status
		err     error
	)
	if req.ConfigID != "" {
		started, err = h.backup.StartBackup(r.Context(), req.ConfigID, backup.TriggerManual)
	} else {
		started, err = h.backup.Start(r.Context(), req.adHocConfig(), backup.TriggerManual)
	}

	switch {
	case err == nil:
		logging.Ctx(r.Context()).Info().Str("config_id", req.ConfigID).Msg("Backup started from API")
		rw.Created(started)
	case errors.Is(err, backup.ErrUnknownConfig):
		rw.NotFound(err.Error())
	case errors.Is(err, backup.ErrAlreadyRunning):
		rw.Conflict(err.Error())
	default:
		rw.ExternalServiceError("job engine", err)
	}
}

// CancelBackupJob handles POST /api/v1/backup/jobs/{jobID}/cancel.
func (h *Handler) CancelBackupJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	rw := NewResponseWriter(w, r)
	if err := h.backup.CancelJob(r.Context(), jobID); err != nil {
		rw.ExternalServiceError("job engine", err)
		return
	}
	rw.Accepted(map[string]string{"id": jobID, "status": "CANCELLED"})
}

// ListBackupConfigs handles GET /api/v1/backup/configs.
func (h *Handler) ListBackupConfigs(w http.ResponseWriter, r *http.Request) {
	scheduled := make(map[string]backup.ScheduledJob)
	if h.sched != nil {
		for _, sj := range h.sched.Jobs() {
			scheduled[sj.ConfigID] = sj
		}
	}

	configs := h.backup.Configs()
	out := make([]BackupConfigView, 0, len(configs))
	for _, jc := range configs {
		view := BackupConfigView{BackupJobConfig: jc, Group: h.backup.GroupFor(jc.ID)}
		if sj, ok := scheduled[jc.ID]; ok {
			view.NextRun = timePtr(sj.Next)
			view.PrevRun = timePtr(sj.Prev)
		}
		out = append(out, view)
	}
	NewResponseWriter(w, r).Success(out)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
