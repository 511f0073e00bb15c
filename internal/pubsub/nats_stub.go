// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

//go:build !nats

package pubsub

import (
	"errors"

	"github.com/tomtom215/unraid-api/internal/config"
)

// ErrNATSNotBuilt is returned when the nats backend is selected in a binary
// built without the nats tag.
var ErrNATSNotBuilt = errors.New("nats pubsub backend requires building with -tags nats")

func openNATS(config.PubSubConfig) (*PubSub, error) {
	return nil, ErrNATSNotBuilt
}
