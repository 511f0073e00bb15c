// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/unraid-api/internal/middleware"
)

// Router assembles the chi route tree.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
	websocket     http.Handler
}

// NewRouter creates a router. ws serves GET /ws and may be nil.
func NewRouter(handler *Handler, mw *ChiMiddleware, ws http.Handler) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{handler: handler, chiMiddleware: mw, websocket: ws}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	r.Use(router.chiMiddleware.CORS()) // global so OPTIONS preflight is answered

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", router.handler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if router.websocket != nil {
		r.Method(http.MethodGet, "/ws", router.websocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())

		r.Route("/backup", func(r chi.Router) {
			r.Get("/jobs", router.handler.ListBackupJobs)
			r.Post("/jobs", router.handler.StartBackupJob)
			r.Get("/jobs/{jobID}", router.handler.GetBackupJob)
			r.Post("/jobs/{jobID}/cancel", router.handler.CancelBackupJob)
			r.Get("/configs", router.handler.ListBackupConfigs)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", router.handler.ListJobs)
			r.Get("/history", router.handler.JobHistory)
			r.Get("/{id}", router.handler.GetJob)
			r.Delete("/{id}", router.handler.DeleteJob)
		})

		r.Get("/subscriptions", router.handler.ListSubscriptions)
	})

	return r
}
