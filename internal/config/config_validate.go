// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tomtom215/unraid-api/internal/logging"
	"github.com/tomtom215/unraid-api/internal/validation"
)

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	checks := []func() error{
		c.validateServer,
		c.validateLogging,
		c.validatePolling,
		c.validatePubSub,
		c.validateRClone,
		c.validateBackup,
		c.validateSupervisor,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %v", c.Server.Timeout)
	}
	if c.Server.RateLimitRequests < 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must not be negative, got %d", c.Server.RateLimitRequests)
	}
	if c.Server.RateLimitRequests > 0 && c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive when rate limiting is enabled")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
}

func (c *Config) validatePolling() error {
	if c.Polling.CPUInterval <= 0 {
		return fmt.Errorf("CPU_POLL_INTERVAL must be positive, got %v", c.Polling.CPUInterval)
	}
	if c.Polling.MemoryInterval <= 0 {
		return fmt.Errorf("MEMORY_POLL_INTERVAL must be positive, got %v", c.Polling.MemoryInterval)
	}
	return nil
}

func (c *Config) validatePubSub() error {
	switch c.PubSub.Backend {
	case "gochannel":
		if c.PubSub.OutputBuffer < 0 {
			return fmt.Errorf("PUBSUB_OUTPUT_BUFFER must not be negative")
		}
		return nil
	case "nats":
		if !strings.HasPrefix(c.PubSub.NATSURL, "nats://") && !strings.HasPrefix(c.PubSub.NATSURL, "tls://") {
			return fmt.Errorf("NATS_URL must use nats:// or tls://, got %q", c.PubSub.NATSURL)
		}
		return nil
	default:
		return fmt.Errorf("PUBSUB_BACKEND must be gochannel or nats, got %q", c.PubSub.Backend)
	}
}

func (c *Config) validateRClone() error {
	u, err := url.Parse(c.RClone.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("RCLONE_URL must be an http(s) URL, got %q", c.RClone.URL)
	}
	if c.RClone.Timeout <= 0 {
		return fmt.Errorf("RCLONE_TIMEOUT must be positive, got %v", c.RClone.Timeout)
	}
	if c.RClone.RequestsPerSecond < 0 {
		return fmt.Errorf("RCLONE_REQUESTS_PER_SEC must not be negative")
	}
	if c.RClone.BreakerFailureThreshold == 0 {
		return fmt.Errorf("RCLONE_BREAKER_THRESHOLD must be at least 1")
	}
	return nil
}

func (c *Config) validateBackup() error {
	if c.Backup.GroupPrefix == "" {
		return fmt.Errorf("BACKUP_GROUP_PREFIX is required")
	}
	if c.Backup.ProgressInterval <= 0 {
		return fmt.Errorf("BACKUP_PROGRESS_INTERVAL must be positive, got %v", c.Backup.ProgressInterval)
	}
	if c.Backup.ReconcileInterval < 0 {
		return fmt.Errorf("BACKUP_RECONCILE_INTERVAL must not be negative")
	}
	if c.Backup.HistoryRetention < 0 {
		return fmt.Errorf("BACKUP_HISTORY_RETENTION must not be negative")
	}

	seen := make(map[string]struct{}, len(c.Backup.Jobs))
	for i := range c.Backup.Jobs {
		job := &c.Backup.Jobs[i]
		if verr := validation.ValidateStruct(job); verr != nil {
			return fmt.Errorf("backup.jobs[%d]: %w", i, verr)
		}
		if _, dup := seen[job.ID]; dup {
			return fmt.Errorf("backup.jobs[%d]: duplicate id %q", i, job.ID)
		}
		seen[job.ID] = struct{}{}
	}
	return nil
}

func (c *Config) validateSupervisor() error {
	if c.Supervisor.FailureThreshold <= 0 {
		return fmt.Errorf("SUPERVISOR_THRESHOLD must be positive")
	}
	if c.Supervisor.FailureDecay <= 0 {
		return fmt.Errorf("SUPERVISOR_DECAY must be positive")
	}
	return nil
}

// Addr returns host:port for the HTTP listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
