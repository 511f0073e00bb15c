// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package subscription

import (
	"fmt"
	"time"

	"github.com/tomtom215/unraid-api/internal/polling"
)

// Handler describes how a topic's producer is started and stopped.
// Build one with PollingHandler or EventHandler.
type Handler interface {
	start(topic string, registry *polling.Registry) error
	stop(topic string, registry *polling.Registry)
	kind() string
}

type pollingHandler struct {
	interval time.Duration
	fn       polling.Func
}

// PollingHandler produces a topic by polling fn every interval while the
// topic has subscribers. The polling task is named after the topic.
func PollingHandler(interval time.Duration, fn polling.Func) Handler {
	return pollingHandler{interval: interval, fn: fn}
}

func (h pollingHandler) start(topic string, registry *polling.Registry) error {
	if registry == nil {
		return fmt.Errorf("topic %s: no polling registry configured", topic)
	}
	return registry.StartPolling(topic, h.interval, h.fn)
}

func (h pollingHandler) stop(topic string, registry *polling.Registry) {
	if registry != nil {
		registry.StopPolling(topic)
	}
}

func (pollingHandler) kind() string { return "polling" }

type eventHandler struct {
	onStart func() error
	onStop  func()
}

// EventHandler runs onStart on the first subscriber and onStop when the last
// one leaves. Either may be nil.
func EventHandler(onStart func() error, onStop func()) Handler {
	return eventHandler{onStart: onStart, onStop: onStop}
}

func (h eventHandler) start(string, *polling.Registry) error {
	if h.onStart == nil {
		return nil
	}
	return h.onStart()
}

func (h eventHandler) stop(string, *polling.Registry) {
	if h.onStop != nil {
		h.onStop()
	}
}

func (eventHandler) kind() string { return "event" }

type stopHook struct {
	Handler
	fn func()
}

// OnStop returns h with fn run right after h's producer stops. fn runs with
// the topic locked and must not call back into the Tracker for that topic.
func OnStop(h Handler, fn func()) Handler {
	return stopHook{Handler: h, fn: fn}
}

func (h stopHook) stop(topic string, registry *polling.Registry) {
	h.Handler.stop(topic, registry)
	if h.fn != nil {
		h.fn()
	}
}

// Factory builds the handler of a dynamic topic. Returning nil leaves the
// topic without a producer.
type Factory func(topic string) Handler
