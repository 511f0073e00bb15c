// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package validation

import (
	"strings"
	"testing"
)

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()
	if v1 == nil || v1 != v2 {
		t.Error("GetValidator() should return one shared instance")
	}
}

type jobRequest struct {
	ConfigID string `json:"config_id" validate:"required,max=8,excludesall=/:"`
	Schedule string `json:"schedule" validate:"omitempty,cron"`
	Topic    string `json:"topic" validate:"omitempty,topic"`
	Limit    int    `json:"limit" validate:"min=0,max=100"`
	Internal string `validate:"omitempty,oneof=a b"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name      string
		input     jobRequest
		wantField string
		wantMsg   string
	}{
		{"valid", jobRequest{ConfigID: "flash", Schedule: "0 3 * * *", Topic: "CPU_UTILIZATION"}, "", ""},
		{"valid descriptor", jobRequest{ConfigID: "flash", Schedule: "@every 1h"}, "", ""},
		{"valid progress topic", jobRequest{ConfigID: "x", Topic: "BACKUP_JOB_PROGRESS:42"}, "", ""},
		{"missing id", jobRequest{}, "config_id", "config_id is required"},
		{"long id", jobRequest{ConfigID: "much-too-long"}, "config_id", "config_id must be at most 8 characters"},
		{"id with slash", jobRequest{ConfigID: "a/b"}, "config_id", "config_id must not contain any of: /:"},
		{"bad cron", jobRequest{ConfigID: "x", Schedule: "daily at 3"}, "schedule", "schedule must be a valid cron expression"},
		{"bad topic", jobRequest{ConfigID: "x", Topic: "cpu"}, "topic", "topic must be a valid topic name"},
		{"limit too high", jobRequest{ConfigID: "x", Limit: 500}, "limit", "limit must be at most 100"},
		{"no json tag", jobRequest{ConfigID: "x", Internal: "c"}, "Internal", "Internal must be one of: a b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.input)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			errs := err.Errors()
			if len(errs) != 1 {
				t.Fatalf("expected 1 field error, got %d: %v", len(errs), err)
			}
			if errs[0].Field() != tt.wantField {
				t.Errorf("Field() = %q, want %q", errs[0].Field(), tt.wantField)
			}
			if errs[0].Error() != tt.wantMsg {
				t.Errorf("message = %q, want %q", errs[0].Error(), tt.wantMsg)
			}
		})
	}
}

func TestRequestValidationError_Multiple(t *testing.T) {
	err := ValidateStruct(&jobRequest{Limit: -1, Schedule: "nope"})
	if err == nil {
		t.Fatal("expected errors")
	}
	details := err.FieldDetails()
	for _, field := range []string{"config_id", "schedule", "limit"} {
		if _, ok := details[field]; !ok {
			t.Errorf("missing %s in %v", field, details)
		}
	}
	if strings.Count(err.Error(), ";") != 2 {
		t.Errorf("expected three joined messages, got %q", err.Error())
	}
}
