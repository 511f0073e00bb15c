// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

// Package jobs tracks long-running jobs run by an external engine.
//
// Jobs are addressable by the tracker's own ID and by the engine's job ID.
// Both indexes live behind one mutex so a job is always present in both or
// in neither. Lookups of unknown IDs return nil or false and log; they are
// never errors.
//
// Once a job reaches COMPLETED, FAILED or CANCELLED it is frozen: further
// updates are ignored and the stored status is returned unchanged.
package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/unraid-api/internal/logging"
	"github.com/tomtom215/unraid-api/internal/metrics"
)

// InitialMessage is the message of a freshly initialized job.
const InitialMessage = "Job initialized."

// Tracker holds every job until it is explicitly cleared.
type Tracker struct {
	mu         sync.RWMutex
	jobs       map[string]*Status
	byExternal map[string]string

	now       func() time.Time
	newID     func(time.Time) string
	observers []Observer
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithIDGenerator replaces the internal ID generator.
func WithIDGenerator(gen func(time.Time) string) Option {
	return func(t *Tracker) { t.newID = gen }
}

// WithObserver registers a change observer.
func WithObserver(o Observer) Option {
	return func(t *Tracker) { t.observers = append(t.observers, o) }
}

// NewTracker returns an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		jobs:       make(map[string]*Status),
		byExternal: make(map[string]string),
		now:        time.Now,
		newID:      defaultID,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// defaultID is "<unix millis>-<8 hex chars>".
func defaultID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// AddObserver registers o after construction.
func (t *Tracker) AddObserver(o Observer) {
	t.mu.Lock()
	t.observers = append(t.observers, o)
	t.mu.Unlock()
}

// InitializeJob starts tracking a job the engine knows as externalJobID.
// If that external ID is already tracked the existing status is returned
// and nothing is created.
func (t *Tracker) InitializeJob(externalJobID, name string) Status {
	t.mu.Lock()
	if id, ok := t.byExternal[externalJobID]; ok {
		existing := t.jobs[id].clone()
		t.mu.Unlock()
		logging.Warn().
			Str("external_job_id", externalJobID).
			Str("job_id", id).
			Msg("Job already initialized for external ID")
		return existing
	}

	now := t.now()
	id := t.newID(now)
	for _, taken := t.jobs[id]; taken; _, taken = t.jobs[id] {
		id = t.newID(now)
	}

	st := &Status{
		ID:            id,
		ExternalJobID: externalJobID,
		Name:          name,
		State:         StateQueued,
		Progress:      0,
		StartTime:     now,
		Message:       InitialMessage,
	}
	t.jobs[id] = st
	t.byExternal[externalJobID] = id
	snapshot := st.clone()
	count := len(t.jobs)
	observers := t.observers
	t.mu.Unlock()

	metrics.JobsTracked.Set(float64(count))
	metrics.JobTransitions.WithLabelValues(string(StateQueued)).Inc()
	logging.Info().
		Str("job_id", id).
		Str("external_job_id", externalJobID).
		Str("name", name).
		Msg("Job initialized")

	notify(observers, ChangeInitialized, snapshot)
	return snapshot
}

// UpdateJobStatus applies u to the job with internal ID id. It returns nil
// when the job is unknown.
func (t *Tracker) UpdateJobStatus(id string, u Update) *Status {
	t.mu.Lock()
	st, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		logging.Warn().Str("job_id", id).Msg("Update for unknown job ignored")
		return nil
	}
	return t.applyLocked(st, u)
}

// UpdateJobStatusByExternalID resolves the engine ID and applies u. It
// returns nil when the external ID is not tracked.
func (t *Tracker) UpdateJobStatusByExternalID(externalJobID string, u Update) *Status {
	t.mu.Lock()
	id, ok := t.byExternal[externalJobID]
	if !ok {
		t.mu.Unlock()
		logging.Warn().Str("external_job_id", externalJobID).Msg("Update for unknown external job ignored")
		return nil
	}
	return t.applyLocked(t.jobs[id], u)
}

// applyLocked must be called with t.mu held; it releases it.
func (t *Tracker) applyLocked(st *Status, u Update) *Status {
	if st.State.IsTerminal() {
		snapshot := st.clone()
		t.mu.Unlock()
		logging.Warn().
			Str("job_id", snapshot.ID).
			Str("status", string(snapshot.State)).
			Msg("Update for finished job ignored")
		return &snapshot
	}

	prev := st.State
	if u.State != nil {
		if u.State.Valid() {
			st.State = *u.State
		} else {
			logging.Warn().Str("job_id", st.ID).Str("status", string(*u.State)).Msg("Ignoring unknown job state")
		}
	}
	if u.Progress != nil {
		st.Progress = clampProgress(*u.Progress)
	}
	if u.Message != nil {
		st.Message = *u.Message
	}
	if u.Error != nil {
		st.Error = *u.Error
	}

	if st.State.IsTerminal() {
		if st.EndTime == nil {
			end := t.now()
			st.EndTime = &end
		}
		if st.State == StateCompleted {
			st.Progress = 100
		}
	}

	snapshot := st.clone()
	observers := t.observers
	t.mu.Unlock()

	if snapshot.State != prev {
		metrics.JobTransitions.WithLabelValues(string(snapshot.State)).Inc()
		logging.Info().
			Str("job_id", snapshot.ID).
			Str("from", string(prev)).
			Str("to", string(snapshot.State)).
			Int("progress", snapshot.Progress).
			Msg("Job status changed")
	}

	notify(observers, ChangeUpdated, snapshot)
	return &snapshot
}

func clampProgress(p int) int {
	switch {
	case p > 100:
		return 100
	case p < 0:
		return 0
	default:
		return p
	}
}

// GetJobStatus returns the job with internal ID id, or nil.
func (t *Tracker) GetJobStatus(id string) *Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.jobs[id]
	if !ok {
		return nil
	}
	snapshot := st.clone()
	return &snapshot
}

// GetJobStatusByExternalID returns the job the engine knows as
// externalJobID, or nil.
func (t *Tracker) GetJobStatusByExternalID(externalJobID string) *Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byExternal[externalJobID]
	if !ok {
		return nil
	}
	snapshot := t.jobs[id].clone()
	return &snapshot
}

// GetAllJobStatuses returns every job ordered by start time, oldest first.
func (t *Tracker) GetAllJobStatuses() []Status {
	t.mu.RLock()
	out := make([]Status, 0, len(t.jobs))
	for _, st := range t.jobs {
		out = append(out, st.clone())
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// ClearJob removes the job from both indexes. It reports whether a job was removed.
func (t *Tracker) ClearJob(id string) bool {
	t.mu.Lock()
	st, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		logging.Debug().Str("job_id", id).Msg("Clear for unknown job ignored")
		return false
	}
	return t.removeLocked(st)
}

// ClearJobByExternalID removes the job the engine knows as externalJobID.
func (t *Tracker) ClearJobByExternalID(externalJobID string) bool {
	t.mu.Lock()
	id, ok := t.byExternal[externalJobID]
	if !ok {
		t.mu.Unlock()
		logging.Debug().Str("external_job_id", externalJobID).Msg("Clear for unknown external job ignored")
		return false
	}
	return t.removeLocked(t.jobs[id])
}

// removeLocked must be called with t.mu held; it releases it.
func (t *Tracker) removeLocked(st *Status) bool {
	delete(t.jobs, st.ID)
	delete(t.byExternal, st.ExternalJobID)
	snapshot := st.clone()
	count := len(t.jobs)
	observers := t.observers
	t.mu.Unlock()

	metrics.JobsTracked.Set(float64(count))
	logging.Debug().Str("job_id", snapshot.ID).Msg("Job cleared")
	notify(observers, ChangeCleared, snapshot)
	return true
}

func notify(observers []Observer, kind ChangeKind, st Status) {
	for _, o := range observers {
		o(kind, st)
	}
}
