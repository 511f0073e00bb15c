// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

// Package subscription reference-counts listeners per topic and starts a
// topic's producer only while someone is listening.
//
// The first Subscribe to a topic runs its handler's start and the
// Unsubscribe that brings the count back to zero runs its stop. Counts for
// topics without a handler are still tracked. Each topic has its own lock;
// transitions on one topic are serialized in call order and never wait on
// another topic.
//
// Topics with a per-entity suffix, such as one topic per backup job, are
// served by a Factory registered for their prefix. The factory runs on the
// 0 to 1 transition and its handler is dropped again on the 1 to 0
// transition, so an idle dynamic topic leaves nothing behind.
package subscription

import (
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/tomtom215/unraid-api/internal/logging"
	"github.com/tomtom215/unraid-api/internal/metrics"
	"github.com/tomtom215/unraid-api/internal/polling"
	"github.com/tomtom215/unraid-api/internal/pubsub"
)

type topicState struct {
	mu      sync.Mutex
	count   int
	handler Handler

	// dynamic marks a handler built by a Factory.
	dynamic bool

	// removed is set once the state has been dropped from the tracker map.
	// Holders of a stale pointer must look the topic up again.
	removed bool
}

// Tracker owns the per-topic subscriber counts and handlers.
type Tracker struct {
	registry *polling.Registry

	mu        sync.Mutex
	topics    map[string]*topicState
	factories map[string]Factory
}

// NewTracker returns a tracker whose polling handlers run on registry.
func NewTracker(registry *polling.Registry) *Tracker {
	return &Tracker{
		registry:  registry,
		topics:    make(map[string]*topicState),
		factories: make(map[string]Factory),
	}
}

// lockTopic returns the locked state for topic, creating it when create is
// set. It returns nil if the topic is unknown and create is false.
func (t *Tracker) lockTopic(topic string, create bool) *topicState {
	for {
		t.mu.Lock()
		st, ok := t.topics[topic]
		if !ok {
			if !create {
				t.mu.Unlock()
				return nil
			}
			st = &topicState{}
			t.topics[topic] = st
		}
		t.mu.Unlock()

		st.mu.Lock()
		if !st.removed {
			return st
		}
		st.mu.Unlock()
	}
}

// dropIfIdle removes a topic with no subscribers and no handler. st.mu must be held.
func (t *Tracker) dropIfIdle(topic string, st *topicState) {
	if st.count > 0 || st.handler != nil {
		return
	}
	t.mu.Lock()
	if t.topics[topic] == st {
		delete(t.topics, topic)
	}
	t.mu.Unlock()
	st.removed = true
}

// RegisterTopic sets the handler for topic, replacing any previous one.
// A producer already running under the old handler is left running and
// will be stopped through the new handler.
func (t *Tracker) RegisterTopic(topic string, h Handler) {
	if h == nil {
		logging.Warn().Str("topic", topic).Msg("Ignoring nil topic handler")
		return
	}
	st := t.lockTopic(topic, true)
	defer st.mu.Unlock()

	replaced := st.handler != nil
	st.handler = h
	st.dynamic = false
	logging.Debug().
		Str("topic", topic).
		Str("kind", h.kind()).
		Bool("replaced", replaced).
		Msg("Topic registered")
}

// UnregisterTopic drops the topic's handler. If the producer is running it
// is stopped first; the subscriber count itself is kept.
func (t *Tracker) UnregisterTopic(topic string) {
	st := t.lockTopic(topic, false)
	if st == nil {
		return
	}
	defer st.mu.Unlock()

	if st.handler != nil && st.count > 0 {
		t.invokeStop(topic, st.handler)
	}
	st.handler = nil
	st.dynamic = false
	t.dropIfIdle(topic, st)
}

// RegisterFactory serves every topic starting with prefix that has no
// registered handler. A nil factory removes the prefix.
func (t *Tracker) RegisterFactory(prefix string, f Factory) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f == nil {
		delete(t.factories, prefix)
		return
	}
	t.factories[prefix] = f
}

// factoryFor returns the factory with the longest prefix matching topic.
func (t *Tracker) factoryFor(topic string) Factory {
	t.mu.Lock()
	defer t.mu.Unlock()
	var (
		best    Factory
		bestLen = -1
	)
	for prefix, f := range t.factories {
		if len(prefix) > bestLen && strings.HasPrefix(topic, prefix) {
			best, bestLen = f, len(prefix)
		}
	}
	return best
}

// buildDynamic asks the topic's factory for a handler. st.mu must be held.
func (t *Tracker) buildDynamic(topic string, st *topicState) {
	f := t.factoryFor(topic)
	if f == nil {
		return
	}
	var h Handler
	if err := safeCall(func() error { h = f(topic); return nil }); err != nil {
		logging.Error().Err(err).Str("topic", topic).Msg("Topic factory failed")
		return
	}
	if h != nil {
		st.handler = h
		st.dynamic = true
	}
}

// Subscribe adds a subscriber to topic and starts the producer on the 0 to
// 1 transition.
func (t *Tracker) Subscribe(topic string) {
	st := t.lockTopic(topic, true)
	defer st.mu.Unlock()

	st.count++
	metrics.SubscriptionSubscribers.WithLabelValues(topic).Set(float64(st.count))

	if st.count != 1 {
		return
	}
	if st.handler == nil {
		t.buildDynamic(topic, st)
	}
	if st.handler == nil {
		logging.Debug().Str("topic", topic).Msg("First subscriber on topic without handler")
		return
	}
	t.invokeStart(topic, st.handler)
}

// Unsubscribe removes a subscriber from topic and stops the producer on the
// 1 to 0 transition. Unsubscribing from a topic with no subscribers is a no-op.
func (t *Tracker) Unsubscribe(topic string) {
	st := t.lockTopic(topic, false)
	if st == nil {
		logging.Debug().Str("topic", topic).Msg("Unsubscribe from unknown topic ignored")
		return
	}
	defer st.mu.Unlock()

	if st.count == 0 {
		logging.Debug().Str("topic", topic).Msg("Unsubscribe with no subscribers ignored")
		return
	}

	st.count--
	if st.count > 0 {
		metrics.SubscriptionSubscribers.WithLabelValues(topic).Set(float64(st.count))
		return
	}

	metrics.SubscriptionSubscribers.DeleteLabelValues(topic)
	if st.handler != nil {
		t.invokeStop(topic, st.handler)
	}
	if st.dynamic {
		st.handler = nil
		st.dynamic = false
	}
	t.dropIfIdle(topic, st)
}

// GetSubscriberCount returns the current count, 0 for unknown topics.
func (t *Tracker) GetSubscriberCount(topic string) int {
	st := t.lockTopic(topic, false)
	if st == nil {
		return 0
	}
	defer st.mu.Unlock()
	return st.count
}

// GetAllSubscriberCounts returns a snapshot of every topic with at least one
// subscriber.
func (t *Tracker) GetAllSubscriberCounts() map[string]int {
	t.mu.Lock()
	states := make(map[string]*topicState, len(t.topics))
	for topic, st := range t.topics {
		states[topic] = st
	}
	t.mu.Unlock()

	counts := make(map[string]int, len(states))
	for topic, st := range states {
		st.mu.Lock()
		if !st.removed && st.count > 0 {
			counts[topic] = st.count
		}
		st.mu.Unlock()
	}
	return counts
}

// RegisteredTopics returns the sorted names of topics that have a handler.
func (t *Tracker) RegisteredTopics() []string {
	t.mu.Lock()
	states := make(map[string]*topicState, len(t.topics))
	for topic, st := range t.topics {
		states[topic] = st
	}
	t.mu.Unlock()

	names := make([]string, 0, len(states))
	for topic, st := range states {
		st.mu.Lock()
		if !st.removed && st.handler != nil {
			names = append(names, topic)
		}
		st.mu.Unlock()
	}
	sort.Strings(names)
	return names
}

func (t *Tracker) invokeStart(topic string, h Handler) {
	metrics.SubscriptionTransitions.WithLabelValues(pubsub.TopicFamily(topic), "start").Inc()
	if err := safeCall(func() error { return h.start(topic, t.registry) }); err != nil {
		logging.Error().Err(err).Str("topic", topic).Msg("Failed to start topic producer")
		return
	}
	logging.Info().Str("topic", topic).Str("kind", h.kind()).Msg("Topic producer started")
}

func (t *Tracker) invokeStop(topic string, h Handler) {
	metrics.SubscriptionTransitions.WithLabelValues(pubsub.TopicFamily(topic), "stop").Inc()
	if err := safeCall(func() error { h.stop(topic, t.registry); return nil }); err != nil {
		logging.Error().Err(err).Str("topic", topic).Msg("Failed to stop topic producer")
		return
	}
	logging.Info().Str("topic", topic).Msg("Topic producer stopped")
}

// safeCall turns a handler panic into an error so the count stays consistent.
func safeCall(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return fn()
}
