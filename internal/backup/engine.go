// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package backup

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned by JobEngine.GetJobStatus when the engine has
// no job with the given ID, either because it never had one or because it
// already forgot it.
var ErrJobNotFound = errors.New("job not known to engine")

// EngineStats is the transfer progress the engine reports for one job.
type EngineStats struct {
	Percentage     float64  `json:"percentage"`
	Bytes          int64    `json:"bytes"`
	TotalBytes     int64    `json:"total_bytes"`
	Speed          float64  `json:"speed"`
	ETA            *float64 `json:"eta,omitempty"`
	Transfers      int64    `json:"transfers"`
	TotalTransfers int64    `json:"total_transfers"`
}

// EngineJob is the raw status of one job as the engine reports it.
type EngineJob struct {
	ID        string
	Group     string
	Finished  bool
	Success   bool
	Error     string
	StartTime time.Time
	EndTime   time.Time
	Stats     *EngineStats
}

// StartRequest describes a transfer to dispatch.
type StartRequest struct {
	Group       string
	Source      string
	Destination string
	Mirror      bool
}

// JobEngine is the out-of-process runner that performs backup transfers.
// Job IDs are the engine's own identifiers.
type JobEngine interface {
	GetJobStatus(ctx context.Context, jobID string) (*EngineJob, error)
	GetAllJobsWithStats(ctx context.Context) ([]EngineJob, error)
	StartJob(ctx context.Context, req StartRequest) (string, error)
	StopJob(ctx context.Context, jobID string) error
}

// Publisher pushes progress events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}
