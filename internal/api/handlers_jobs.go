// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/unraid-api/internal/jobs"
	"github.com/tomtom215/unraid-api/internal/validation"
)

const defaultHistoryLimit = 50

type historyQuery struct {
	Limit int `json:"limit" validate:"min=1,max=500"`
}

// TopicSubscription is one row of /api/v1/subscriptions.
type TopicSubscription struct {
	Topic       string `json:"topic"`
	Subscribers int    `json:"subscribers"`
	Registered  bool   `json:"registered"`
}

// ListJobs handles GET /api/v1/jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	all := h.jobs.GetAllJobStatuses()
	NewResponseWriter(w, r).SuccessWithPagination(all, &PaginationMeta{Count: len(all)})
}

// GetJob handles GET /api/v1/jobs/{id}. Jobs no longer tracked are looked
// up in the history store when one is configured.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rw := NewResponseWriter(w, r)

	if st := h.jobs.GetJobStatus(id); st != nil {
		rw.Success(st)
		return
	}
	if h.history != nil {
		st, err := h.history.Get(id)
		switch {
		case err == nil:
			rw.Success(st)
			return
		case !errors.Is(err, jobs.ErrHistoryNotFound):
			rw.InternalError("Failed to read job history")
			return
		}
	}
	rw.NotFound("Job not found: " + id)
}

// DeleteJob handles DELETE /api/v1/jobs/{id}.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rw := NewResponseWriter(w, r)
	if !h.jobs.ClearJob(id) {
		rw.NotFound("Job not found: " + id)
		return
	}
	rw.NoContent()
}

// JobHistory handles GET /api/v1/jobs/history?limit=N.
func (h *Handler) JobHistory(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.history == nil {
		rw.ServiceUnavailable("Job history is disabled")
		return
	}

	q := historyQuery{Limit: defaultHistoryLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			rw.BadRequest("limit must be an integer")
			return
		}
		q.Limit = n
	}
	if verr := validation.ValidateStruct(&q); verr != nil {
		rw.ValidationError("Invalid query parameters", verr.FieldDetails())
		return
	}

	// One extra row tells us whether more exist.
	list, err := h.history.List(q.Limit + 1)
	if err != nil {
		rw.InternalError("Failed to read job history")
		return
	}
	hasMore := len(list) > q.Limit
	if hasMore {
		list = list[:q.Limit]
	}
	rw.SuccessWithPagination(list, &PaginationMeta{Count: len(list), Limit: q.Limit, HasMore: hasMore})
}

// ListSubscriptions handles GET /api/v1/subscriptions. Registered topics
// without subscribers are included with a zero count.
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	counts := h.subs.GetAllSubscriberCounts()
	registered := make(map[string]bool)
	for _, topic := range h.subs.RegisteredTopics() {
		registered[topic] = true
		if _, ok := counts[topic]; !ok {
			counts[topic] = 0
		}
	}

	out := make([]TopicSubscription, 0, len(counts))
	for topic, n := range counts {
		out = append(out, TopicSubscription{Topic: topic, Subscribers: n, Registered: registered[topic]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	NewResponseWriter(w, r).Success(out)
}
