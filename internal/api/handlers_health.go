// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package api

import (
	"context"
	"net/http"
	"time"
)

const engineCheckTimeout = 2 * time.Second

// HealthStatus is the /health payload.
type HealthStatus struct {
	Status           string        `json:"status"` // "healthy" or "degraded"
	Uptime           float64       `json:"uptime_seconds"`
	Engine           *EngineHealth `json:"engine,omitempty"`
	PubSubBackend    string        `json:"pubsub_backend,omitempty"`
	WebSocketClients int           `json:"websocket_clients"`
	PollingTasks     []string      `json:"polling_tasks"`
	HistoryEnabled   bool          `json:"history_enabled"`
}

// EngineHealth reports job engine reachability.
type EngineHealth struct {
	Reachable bool   `json:"reachable"`
	Breaker   string `json:"circuit_breaker"`
	Error     string `json:"error,omitempty"`
}

// Health reports service health. It answers 200 even when degraded so
// monitors can read the body.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:         "healthy",
		Uptime:         time.Since(h.startTime).Seconds(),
		PubSubBackend:  h.pubsubBackend,
		PollingTasks:   []string{},
		HistoryEnabled: h.history != nil,
	}

	if h.engine != nil {
		ctx, cancel := context.WithTimeout(r.Context(), engineCheckTimeout)
		err := h.engine.Ping(ctx)
		cancel()

		health.Engine = &EngineHealth{Reachable: err == nil, Breaker: h.engine.BreakerState()}
		if err != nil {
			health.Engine.Error = err.Error()
			health.Status = "degraded"
		}
	}
	if h.clients != nil {
		health.WebSocketClients = h.clients()
	}
	if h.pollingTasks != nil {
		if tasks := h.pollingTasks(); tasks != nil {
			health.PollingTasks = tasks
		}
	}

	NewResponseWriter(w, r).Success(health)
}
