// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package rclone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/unraid-api/internal/config"
)

func testConfig(url string) config.RCloneConfig {
	return config.RCloneConfig{
		URL:                     url,
		Timeout:                 2 * time.Second,
		BreakerFailureThreshold: 3,
		BreakerTimeout:          time.Minute,
	}
}

func TestClient_JobStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/job/status" {
			t.Errorf("path = %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			t.Errorf("missing basic auth")
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		io.WriteString(w, `{"id":12,"group":"backup-flash","finished":true,"success":false,"error":"disk full","duration":3.5}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/")
	cfg.Username = "admin"
	cfg.Password = "secret"
	c := NewClient(cfg)

	st, err := c.JobStatus(context.Background(), 12)
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if st.ID != 12 || st.Group != "backup-flash" || !st.Finished || st.Success || st.Error != "disk full" {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"job not found","status":500,"path":"job/status","input":{"jobid":99}}`)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	for i := 0; i < 5; i++ {
		_, err := c.JobStatus(context.Background(), 99)
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %v", err)
		}
		if apiErr.Message != "job not found" || apiErr.Status != 500 {
			t.Errorf("unexpected api error: %+v", apiErr)
		}
	}
	// The daemon answered every time, so the breaker stays closed.
	if c.cb.State() != gobreaker.StateClosed {
		t.Errorf("breaker state = %s, want closed", c.cb.State())
	}
}

func TestIsJobNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"job not found", &APIError{Status: 500, Message: "job not found", Path: "job/status"}, true},
		{"wrapped", fmt.Errorf("status: %w", &APIError{Status: 500, Message: "Job not found"}), true},
		{"other api error", &APIError{Status: 500, Message: "no such group"}, false},
		{"transport", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsJobNotFound(tt.err); got != tt.want {
				t.Errorf("IsJobNotFound(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClient_BreakerOpensOnTransportFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(testConfig(url))
	for i := 0; i < 3; i++ {
		if err := c.Ping(context.Background()); err == nil {
			t.Fatal("expected connection error")
		}
	}
	if c.BreakerState() != gobreaker.StateOpen.String() {
		t.Fatalf("breaker state = %s, want open", c.BreakerState())
	}

	err := c.Ping(context.Background())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}
}

func TestClient_UnexpectedStatusWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	err := c.Ping(context.Background())
	var apiErr *APIError
	if err == nil || errors.As(err, &apiErr) {
		t.Errorf("expected plain error for bare 502, got %v", err)
	}
}

func TestClient_StartCopyAndMirror(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		io.WriteString(w, `{"jobid":5}`)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	if id, err := c.StartCopy(context.Background(), CopyRequest{SrcFs: "/a", DstFs: "r:b"}); err != nil || id != 5 {
		t.Fatalf("StartCopy = %d, %v", id, err)
	}
	if _, err := c.StartCopy(context.Background(), CopyRequest{SrcFs: "/a", DstFs: "r:b", Mirror: true}); err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 || paths[0] != "/sync/copy" || paths[1] != "/sync/sync" {
		t.Errorf("paths = %v", paths)
	}
}

func TestClient_RateLimiterHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RequestsPerSecond = 0.5
	c := NewClient(cfg)

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Ping(ctx); err == nil {
		t.Error("expected the limiter to give up before the deadline")
	}
}

func TestStatsPercentage(t *testing.T) {
	tests := []struct {
		name  string
		stats *Stats
		want  float64
	}{
		{"nil", nil, 0},
		{"unknown total", &Stats{Bytes: 10}, 0},
		{"half", &Stats{Bytes: 50, TotalBytes: 100}, 50},
		{"overshoot", &Stats{Bytes: 120, TotalBytes: 100}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stats.Percentage(); got != tt.want {
				t.Errorf("Percentage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseJobID(t *testing.T) {
	if id, err := ParseJobID("42"); err != nil || id != 42 {
		t.Errorf("ParseJobID(42) = %d, %v", id, err)
	}
	for _, bad := range []string{"", "0", "-1", "x1"} {
		if _, err := ParseJobID(bad); err == nil {
			t.Errorf("ParseJobID(%q) should fail", bad)
		}
	}
	if FormatJobID(7) != "7" {
		t.Error("FormatJobID(7) != 7")
	}
}
