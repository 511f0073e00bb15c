// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package backup

import (
	"context"
	"fmt"

	"github.com/tomtom215/unraid-api/internal/logging"
	"github.com/tomtom215/unraid-api/internal/rclone"
)

// RCloneEngine runs backup jobs on an rclone rcd daemon.
type RCloneEngine struct {
	client *rclone.Client
}

// NewRCloneEngine wraps client as a JobEngine.
func NewRCloneEngine(client *rclone.Client) *RCloneEngine {
	return &RCloneEngine{client: client}
}

// GetJobStatus merges job/status with the job's stats group.
func (e *RCloneEngine) GetJobStatus(ctx context.Context, jobID string) (*EngineJob, error) {
	id, err := rclone.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJobNotFound, err)
	}
	st, err := e.client.JobStatus(ctx, id)
	if rclone.IsJobNotFound(err) {
		return nil, fmt.Errorf("%w: %w", ErrJobNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	job := fromRClone(st)

	stats, err := e.client.Stats(ctx, statsGroup(st))
	if err != nil {
		// Status without stats is still useful.
		logging.Debug().Err(err).Str("external_job_id", jobID).Msg("No stats for rclone job")
		return job, nil
	}
	job.Stats = fromRCloneStats(stats)
	return job, nil
}

// GetAllJobsWithStats returns every running job with its stats. When the
// daemon does not report running IDs separately all known jobs are listed.
func (e *RCloneEngine) GetAllJobsWithStats(ctx context.Context) ([]EngineJob, error) {
	list, err := e.client.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	ids := list.RunningIDs
	if ids == nil {
		ids = list.JobIDs
	}

	out := make([]EngineJob, 0, len(ids))
	for _, id := range ids {
		st, err := e.client.JobStatus(ctx, id)
		if err != nil {
			// Jobs can expire between list and status.
			logging.Debug().Err(err).Int64("external_job_id", id).Msg("Skipping rclone job")
			continue
		}
		job := fromRClone(st)
		if stats, err := e.client.Stats(ctx, statsGroup(st)); err == nil {
			job.Stats = fromRCloneStats(stats)
		}
		out = append(out, *job)
	}
	return out, nil
}

// StartJob starts an async copy and returns the rclone job ID.
func (e *RCloneEngine) StartJob(ctx context.Context, req StartRequest) (string, error) {
	id, err := e.client.StartCopy(ctx, rclone.CopyRequest{
		SrcFs:  req.Source,
		DstFs:  req.Destination,
		Group:  req.Group,
		Mirror: req.Mirror,
	})
	if err != nil {
		return "", err
	}
	if id == 0 {
		return "", fmt.Errorf("rclone returned no job id for group %s", req.Group)
	}
	return rclone.FormatJobID(id), nil
}

// StopJob stops a running rclone job.
func (e *RCloneEngine) StopJob(ctx context.Context, jobID string) error {
	id, err := rclone.ParseJobID(jobID)
	if err != nil {
		return err
	}
	return e.client.StopJob(ctx, id)
}

// statsGroup is the group rclone accounts the job's transfers under.
func statsGroup(st *rclone.JobStatus) string {
	if st.Group != "" {
		return st.Group
	}
	return "job/" + rclone.FormatJobID(st.ID)
}

func fromRClone(st *rclone.JobStatus) *EngineJob {
	return &EngineJob{
		ID:        rclone.FormatJobID(st.ID),
		Group:     st.Group,
		Finished:  st.Finished,
		Success:   st.Success,
		Error:     st.Error,
		StartTime: st.StartTime,
		EndTime:   st.EndTime,
	}
}

func fromRCloneStats(s *rclone.Stats) *EngineStats {
	return &EngineStats{
		Percentage:     s.Percentage(),
		Bytes:          s.Bytes,
		TotalBytes:     s.TotalBytes,
		Speed:          s.Speed,
		ETA:            s.ETA,
		Transfers:      s.Transfers,
		TotalTransfers: s.TotalTransfers,
	}
}
