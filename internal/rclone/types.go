// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package rclone

import (
	"fmt"
	"time"
)

// JobStatus is the reply of job/status.
type JobStatus struct {
	ID        int64     `json:"id"`
	Group     string    `json:"group"`
	Finished  bool      `json:"finished"`
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Duration  float64   `json:"duration"`
}

// Stats is the reply of core/stats for one group.
type Stats struct {
	Bytes          int64    `json:"bytes"`
	TotalBytes     int64    `json:"totalBytes"`
	Speed          float64  `json:"speed"`
	ETA            *float64 `json:"eta"`
	Transfers      int64    `json:"transfers"`
	TotalTransfers int64    `json:"totalTransfers"`
	Checks         int64    `json:"checks"`
	Errors         int64    `json:"errors"`
	ElapsedTime    float64  `json:"elapsedTime"`
	LastError      string   `json:"lastError"`
}

// Percentage is transferred bytes over total bytes, 0 when the total is
// not known yet.
func (s *Stats) Percentage() float64 {
	if s == nil || s.TotalBytes <= 0 {
		return 0
	}
	p := float64(s.Bytes) / float64(s.TotalBytes) * 100
	if p > 100 {
		return 100
	}
	return p
}

// JobList is the reply of job/list.
type JobList struct {
	JobIDs      []int64 `json:"jobids"`
	RunningIDs  []int64 `json:"runningIds"`
	FinishedIDs []int64 `json:"finishedIds"`
}

// CopyRequest starts an async sync/copy job.
type CopyRequest struct {
	SrcFs string
	DstFs string

	// Group tags the job in rclone's stats so it can be found again.
	Group string

	// Mirror uses sync/sync (deletes extra files at the destination)
	// instead of sync/copy.
	Mirror bool
}

type asyncJobReply struct {
	JobID int64 `json:"jobid"`
}

// APIError is an error body returned by the rc server.
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"error"`
	Path    string `json:"path"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rclone %s: %s (status %d)", e.Path, e.Message, e.Status)
}
