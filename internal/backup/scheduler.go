// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

/*
scheduler.go - Scheduled Backups

Enabled backup job configs are registered with a cron scheduler using the
standard five-field syntax (plus descriptors such as @daily). Each trigger
calls Orchestrator.StartBackup; a config whose previous job is still running
in the engine is skipped for that trigger.

The scheduler runs as a supervised service: Serve starts cron and blocks
until its context is cancelled, then waits for running triggers to return.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tomtom215/unraid-api/internal/config"
	"github.com/tomtom215/unraid-api/internal/logging"
)

// ScheduledJob describes one registered cron entry.
type ScheduledJob struct {
	ConfigID string    `json:"config_id"`
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next_run"`
	Prev     time.Time `json:"prev_run,omitempty"`
}

// Scheduler triggers configured backups on their cron schedules.
type Scheduler struct {
	orch    *Orchestrator
	cron    *cron.Cron
	entries map[string]cron.EntryID
	specs   map[string]config.BackupJobConfig

	// startTimeout bounds the engine calls of one trigger.
	startTimeout time.Duration
}

// NewScheduler registers every enabled config of orch.
func NewScheduler(orch *Orchestrator) (*Scheduler, error) {
	s := &Scheduler{
		orch: orch,
		cron: cron.New(
			cron.WithLogger(cronLogger{}),
			cron.WithChain(cron.Recover(cronLogger{})),
		),
		entries:      make(map[string]cron.EntryID),
		specs:        make(map[string]config.BackupJobConfig),
		startTimeout: time.Minute,
	}

	for _, jc := range orch.Configs() {
		if !jc.Enabled {
			logging.Debug().Str("config_id", jc.ID).Msg("Backup job disabled, not scheduling")
			continue
		}
		configID := jc.ID
		id, err := s.cron.AddFunc(jc.Schedule, func() { s.trigger(configID) })
		if err != nil {
			return nil, fmt.Errorf("schedule backup %s: %w", jc.ID, err)
		}
		s.entries[jc.ID] = id
		s.specs[jc.ID] = jc
	}
	return s, nil
}

// Serve implements suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.cron.Start()
	logging.Info().Int("jobs", len(s.entries)).Msg("Backup scheduler started")

	<-ctx.Done()

	<-s.cron.Stop().Done()
	logging.Info().Msg("Backup scheduler stopped")
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (s *Scheduler) String() string {
	return "backup-scheduler"
}

// Jobs lists the registered entries sorted by config ID.
func (s *Scheduler) Jobs() []ScheduledJob {
	out := make([]ScheduledJob, 0, len(s.entries))
	for configID, id := range s.entries {
		entry := s.cron.Entry(id)
		jc := s.specs[configID]
		out = append(out, ScheduledJob{
			ConfigID: configID,
			Name:     jc.Name,
			Schedule: jc.Schedule,
			Next:     entry.Next,
			Prev:     entry.Prev,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConfigID < out[j].ConfigID })
	return out
}

func (s *Scheduler) trigger(configID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.startTimeout)
	defer cancel()

	st, err := s.orch.StartBackup(ctx, configID, TriggerScheduled)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		logging.Warn().Str("config_id", configID).Msg("Previous backup still running, skipping scheduled run")
	case err != nil:
		logging.Error().Err(err).Str("config_id", configID).Msg("Scheduled backup failed to start")
	default:
		logging.Info().Str("config_id", configID).Str("job_id", st.ID).Msg("Scheduled backup started")
	}
}

// cronLogger routes cron's own logging to zerolog under the "cron"
// component.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l := logging.WithComponent("cron")
	l.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l := logging.WithComponent("cron")
	l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
