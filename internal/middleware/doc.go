// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

/*
Package middleware provides the HTTP middleware shared by every route.

  - RequestID: accepts or generates an X-Request-ID, stores it together with a
    fresh correlation ID in the request context and logs each completed request.
  - PrometheusMetrics: records api_requests_total and
    api_request_duration_seconds labelled by the chi route pattern.

Both are plain func(http.Handler) http.Handler values and plug straight into
chi:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)

WebSocket upgrades pass through unchanged; the status recorder forwards
http.Hijacker so gorilla/websocket can take over the connection.
*/
package middleware
