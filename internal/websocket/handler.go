// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/unraid-api/internal/logging"
)

// Handler returns an http.Handler that upgrades requests and attaches the
// connection to h. Origins lists the allowed Origin headers; "*" allows
// any origin, including none.
func (h *Hub) Handler(origins []string) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      originChecker(origins),
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
			return
		}
		NewClient(h, conn).Start()
	})
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}

	return func(r *http.Request) bool {
		if wildcard {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
			return false
		}
		if !allowed[origin] {
			logging.Warn().Str("origin", origin).Msg("WebSocket connection rejected: origin not allowed")
			return false
		}
		return true
	}
}
