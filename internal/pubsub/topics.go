// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package pubsub

import "strings"

// Static topics for system metrics.
const (
	TopicCPUUtilization    = "CPU_UTILIZATION"
	TopicMemoryUtilization = "MEMORY_UTILIZATION"
)

// BackupJobProgressPrefix namespaces per-job progress topics.
const BackupJobProgressPrefix = "BACKUP_JOB_PROGRESS"

// BackupJobProgressTopic returns the progress topic of one backup job.
func BackupJobProgressTopic(jobID string) string {
	return BackupJobProgressPrefix + ":" + jobID
}

// JobIDFromProgressTopic extracts the job ID from a progress topic.
func JobIDFromProgressTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, BackupJobProgressPrefix+":")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// TopicFamily strips a per-entity suffix ("BACKUP_JOB_PROGRESS:<id>") so
// metric labels do not grow a series per job.
func TopicFamily(topic string) string {
	if i := strings.IndexByte(topic, ':'); i > 0 {
		return topic[:i]
	}
	return topic
}
