// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

// Package config loads the server configuration.
//
// Sources are layered with koanf, later layers winning:
//
//  1. built-in defaults (defaultConfig)
//  2. an optional YAML file (CONFIG_PATH, ./config.yaml, /etc/unraid-api/config.yaml)
//  3. environment variables listed in envMappings
//
// Scheduled backup jobs are only configurable from the YAML file since they
// are a list of structured entries.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Polling    PollingConfig    `koanf:"polling"`
	PubSub     PubSubConfig     `koanf:"pubsub"`
	RClone     RCloneConfig     `koanf:"rclone"`
	Backup     BackupConfig     `koanf:"backup"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// CORSOrigins is a comma separated list when set from the environment.
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitRequests per RateLimitWindow per client IP. Zero disables.
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// PollingConfig holds the sampling intervals of the built-in system topics.
type PollingConfig struct {
	CPUInterval    time.Duration `koanf:"cpu_interval"`
	MemoryInterval time.Duration `koanf:"memory_interval"`
}

// PubSubConfig selects the message backend behind subscription topics.
type PubSubConfig struct {
	// Backend is "gochannel" (in-process) or "nats".
	Backend string `koanf:"backend"`

	NATSURL string `koanf:"nats_url"`

	// OutputBuffer is the per-subscriber channel size of the gochannel backend.
	OutputBuffer int64 `koanf:"output_buffer"`
}

// RCloneConfig points at the rclone remote-control daemon that runs backup jobs.
type RCloneConfig struct {
	URL      string        `koanf:"url"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	Timeout  time.Duration `koanf:"timeout"`

	// RequestsPerSecond caps calls into the daemon. Zero means unlimited.
	RequestsPerSecond float64 `koanf:"requests_per_second"`

	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`
}

// BackupConfig controls backup orchestration.
type BackupConfig struct {
	// GroupPrefix marks engine jobs owned by the backup subsystem.
	GroupPrefix string `koanf:"group_prefix"`

	// ProgressInterval is how often a subscribed job progress topic polls the engine.
	ProgressInterval time.Duration `koanf:"progress_interval"`

	// ReconcileInterval is how often unfinished tracked jobs are synced with
	// the engine regardless of subscribers. Zero disables.
	ReconcileInterval time.Duration `koanf:"reconcile_interval"`

	// HistoryPath enables the on-disk job history when non-empty.
	HistoryPath string `koanf:"history_path"`

	// HistoryRetention bounds how long archived jobs are kept. Zero keeps forever.
	HistoryRetention time.Duration `koanf:"history_retention"`

	Jobs []BackupJobConfig `koanf:"jobs"`
}

// BackupJobConfig is one scheduled backup definition.
type BackupJobConfig struct {
	ID              string `koanf:"id" json:"id" validate:"required,max=64,excludesall=/:"`
	Name            string `koanf:"name" json:"name" validate:"required,max=128"`
	Schedule        string `koanf:"schedule" json:"schedule,omitempty" validate:"required,cron"`
	SourcePath      string `koanf:"source_path" json:"source_path" validate:"required"`
	RemoteName      string `koanf:"remote_name" json:"remote_name" validate:"required"`
	DestinationPath string `koanf:"destination_path" json:"destination_path"`
	Enabled         bool   `koanf:"enabled" json:"enabled"`

	// Mirror deletes destination files missing from the source.
	Mirror bool `koanf:"mirror" json:"mirror"`
}

// SupervisorConfig tunes the suture tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}
