// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

// Package rclone is a small client for the rclone remote-control API, the
// engine that runs backup jobs. Every call is a JSON POST, rate limited and
// guarded by a circuit breaker that opens when the daemon stops answering.
package rclone

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/unraid-api/internal/config"
	"github.com/tomtom215/unraid-api/internal/logging"
	"github.com/tomtom215/unraid-api/internal/metrics"
)

const breakerName = "rclone-rc"

// Client talks to one rclone rcd instance.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	limiter    *rate.Limiter
	cb         *gobreaker.CircuitBreaker[[]byte]
}

// NewClient builds a client from cfg.
func NewClient(cfg config.RCloneConfig) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	threshold := cfg.BreakerFailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		cb: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        breakerName,
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			// An error body means the daemon is up; only transport
			// failures count against the breaker.
			IsSuccessful: func(err error) bool {
				var apiErr *APIError
				return err == nil || errors.As(err, &apiErr)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Circuit breaker state changed")
				metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
				metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
			},
		}),
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// BreakerState reports the circuit breaker state for health output.
func (c *Client) BreakerState() string {
	return c.cb.State().String()
}

// call POSTs in as JSON to method and decodes the reply into out.
func (c *Client) call(ctx context.Context, method string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rclone %s: rate limiter: %w", method, err)
	}

	start := time.Now()
	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.post(ctx, method, in)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.RCloneRequests.WithLabelValues(method, "rejected").Inc()
		return fmt.Errorf("rclone %s: %w", method, err)
	}
	metrics.RecordRCloneCall(method, time.Since(start), err)
	if err != nil {
		return err
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("rclone %s: decode response: %w", method, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, method string, in any) ([]byte, error) {
	if in == nil {
		in = struct{}{}
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("rclone %s: encode request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("rclone %s: create request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rclone %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("rclone %s: read response: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode, Path: method}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusUnauthorized {
				return nil, fmt.Errorf("rclone %s: unexpected status %d", method, resp.StatusCode)
			}
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		apiErr.Path = method
		return nil, apiErr
	}
	return body, nil
}

// JobStatus returns the status of one job.
func (c *Client) JobStatus(ctx context.Context, jobID int64) (*JobStatus, error) {
	var st JobStatus
	if err := c.call(ctx, "job/status", map[string]int64{"jobid": jobID}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListJobs returns the IDs of every job the daemon remembers.
func (c *Client) ListJobs(ctx context.Context) (*JobList, error) {
	var list JobList
	if err := c.call(ctx, "job/list", nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Stats returns transfer statistics for a stats group. An empty group
// returns the global totals.
func (c *Client) Stats(ctx context.Context, group string) (*Stats, error) {
	var in map[string]string
	if group != "" {
		in = map[string]string{"group": group}
	}
	var st Stats
	if err := c.call(ctx, "core/stats", in, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// StartCopy starts an asynchronous copy (or mirror) and returns its job ID.
func (c *Client) StartCopy(ctx context.Context, req CopyRequest) (int64, error) {
	method := "sync/copy"
	if req.Mirror {
		method = "sync/sync"
	}
	in := map[string]any{
		"srcFs":  req.SrcFs,
		"dstFs":  req.DstFs,
		"_async": true,
	}
	if req.Group != "" {
		in["_group"] = req.Group
	}

	var reply asyncJobReply
	if err := c.call(ctx, method, in, &reply); err != nil {
		return 0, err
	}
	return reply.JobID, nil
}

// StopJob asks the daemon to cancel a running job.
func (c *Client) StopJob(ctx context.Context, jobID int64) error {
	return c.call(ctx, "job/stop", map[string]int64{"jobid": jobID}, nil)
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "rc/noop", nil, nil)
}

// IsJobNotFound reports whether err is the daemon saying it has no job
// with the requested ID. rclone forgets finished jobs after its expiry.
func IsJobNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Message), "job not found")
}

// ParseJobID converts the string form used by the job tracker.
func ParseJobID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid rclone job id %q", id)
	}
	return n, nil
}

// FormatJobID is the inverse of ParseJobID.
func FormatJobID(id int64) string {
	return strconv.FormatInt(id, 10)
}
