// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package jobs

import "time"

// State is a job's position in the QUEUED -> RUNNING -> terminal machine.
type State string

const (
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	switch s {
	case StateQueued, StateRunning, StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Status is a snapshot of one tracked job. Values returned by the Tracker
// are copies; changing them has no effect on the tracker.
type Status struct {
	ID            string     `json:"id"`
	ExternalJobID string     `json:"external_job_id"`
	Name          string     `json:"name"`
	State         State      `json:"status"`
	Progress      int        `json:"progress"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Message       string     `json:"message,omitempty"`
	Error         string     `json:"error,omitempty"`
}

func (s *Status) clone() Status {
	c := *s
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	return c
}

// Update is a partial change to a job. Nil fields are left alone. The
// identity fields (ID, ExternalJobID, Name, StartTime) cannot be changed.
type Update struct {
	State    *State
	Progress *int
	Message  *string
	Error    *string
}

// StateUpdate is shorthand for an Update that only sets the state.
func StateUpdate(s State) Update {
	return Update{State: &s}
}

// ProgressUpdate sets state and progress together, the common case when
// reconciling with the job engine.
func ProgressUpdate(s State, progress int) Update {
	return Update{State: &s, Progress: &progress}
}

// WithMessage returns a copy of u that also sets the message.
func (u Update) WithMessage(msg string) Update {
	u.Message = &msg
	return u
}

// WithError returns a copy of u that also sets the error text.
func (u Update) WithError(errText string) Update {
	u.Error = &errText
	return u
}

// ChangeKind says what happened to a job in an observer callback.
type ChangeKind int

const (
	ChangeInitialized ChangeKind = iota
	ChangeUpdated
	ChangeCleared
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeInitialized:
		return "initialized"
	case ChangeUpdated:
		return "updated"
	case ChangeCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Observer is notified after a change has been applied. It runs outside the
// tracker lock and must not block for long.
type Observer func(kind ChangeKind, status Status)
