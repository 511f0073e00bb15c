// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/unraid-api/config.yaml",
	"/etc/unraid-api/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              3001,
			Timeout:           30 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Polling: PollingConfig{
			CPUInterval:    time.Second,
			MemoryInterval: 2 * time.Second,
		},
		PubSub: PubSubConfig{
			Backend:      "gochannel",
			NATSURL:      "nats://127.0.0.1:4222",
			OutputBuffer: 256,
		},
		RClone: RCloneConfig{
			URL:                     "http://127.0.0.1:5572",
			Timeout:                 15 * time.Second,
			RequestsPerSecond:       20,
			BreakerFailureThreshold: 5,
			BreakerTimeout:          30 * time.Second,
		},
		Backup: BackupConfig{
			GroupPrefix:       "backup-",
			ProgressInterval:  2 * time.Second,
			ReconcileInterval: 30 * time.Second,
			HistoryRetention:  30 * 24 * time.Hour,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the optional config file and
// the environment, then validates it.
func Load() (*Config, error) {
	return LoadFrom(findConfigFile())
}

// LoadFrom is Load with an explicit config file path. An empty path skips
// the file layer.
func LoadFrom(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths arrive from the environment as comma separated strings.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lowercased environment variable names to koanf paths.
// Variables not listed here are ignored.
var envMappings = map[string]string{
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_timeout":          "server.timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"cors_origins":          "server.cors_origins",
	"rate_limit_requests":   "server.rate_limit_requests",
	"rate_limit_window":     "server.rate_limit_window",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"cpu_poll_interval":    "polling.cpu_interval",
	"memory_poll_interval": "polling.memory_interval",

	"pubsub_backend":       "pubsub.backend",
	"nats_url":             "pubsub.nats_url",
	"pubsub_output_buffer": "pubsub.output_buffer",

	"rclone_url":                "rclone.url",
	"rclone_username":           "rclone.username",
	"rclone_password":           "rclone.password",
	"rclone_timeout":            "rclone.timeout",
	"rclone_requests_per_sec":   "rclone.requests_per_second",
	"rclone_breaker_threshold":  "rclone.breaker_failure_threshold",
	"rclone_breaker_timeout":    "rclone.breaker_timeout",
	"backup_group_prefix":       "backup.group_prefix",
	"backup_progress_interval":  "backup.progress_interval",
	"backup_reconcile_interval": "backup.reconcile_interval",
	"backup_history_path":       "backup.history_path",
	"backup_history_retention":  "backup.history_retention",
	"supervisor_threshold":      "supervisor.failure_threshold",
	"supervisor_decay":          "supervisor.failure_decay",
	"supervisor_backoff":        "supervisor.failure_backoff",
	"supervisor_shutdown_grace": "supervisor.shutdown_timeout",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
