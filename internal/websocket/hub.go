// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/unraid-api/internal/logging"
	"github.com/tomtom215/unraid-api/internal/metrics"
	"github.com/tomtom215/unraid-api/internal/pubsub"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types for WebSocket communication
const (
	MessageTypeSubscribe    = "subscribe"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypeEvent        = "event"
	MessageTypeError        = "error"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
)

// Message is the envelope used in both directions.
type Message struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// SubscriptionTracker counts subscribers per topic. *subscription.Tracker
// satisfies it.
type SubscriptionTracker interface {
	Subscribe(topic string)
	Unsubscribe(topic string)
}

// EventSource delivers the events published on a topic until ctx ends.
// *pubsub.PubSub satisfies it.
type EventSource interface {
	Subscribe(ctx context.Context, topic string) (<-chan pubsub.Event, error)
}

// TopicPreparer decides whether a dynamic topic, one naming a single
// entity such as a backup job, may be subscribed to. It runs after the
// client's event stream is open, so anything it publishes on the topic
// reaches the new subscriber.
type TopicPreparer interface {
	PrepareTopic(ctx context.Context, topic string) bool
}

// prepareTimeout bounds a preparer's lookups.
const prepareTimeout = 5 * time.Second

// Hub owns the connected clients.
type Hub struct {
	tracker   SubscriptionTracker
	events    EventSource
	preparers []TopicPreparer

	mu      sync.RWMutex
	clients map[*Client]bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithTopicPreparer adds a preparer consulted when a client subscribes to
// a dynamic topic. Without one, dynamic topics are refused.
func WithTopicPreparer(p TopicPreparer) Option {
	return func(h *Hub) { h.preparers = append(h.preparers, p) }
}

// NewHub creates a hub that accounts subscriptions in tracker and reads
// events from events.
func NewHub(tracker SubscriptionTracker, events EventSource, opts ...Option) *Hub {
	h := &Hub{
		tracker: tracker,
		events:  events,
		clients: make(map[*Client]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RunWithContext blocks until ctx is cancelled, then closes every client
// and releases their subscriptions.
func (h *Hub) RunWithContext(ctx context.Context) error {
	<-ctx.Done()
	h.logGracefulShutdown(ctx)
	return ctx.Err()
}

// logGracefulShutdown closes all clients and logs why. ctx.Err() is not
// logged as an error since cancellation is the normal shutdown path.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.Set(float64(total))
	logging.Info().Uint64("client_id", c.id).Int("total_clients", total).Msg("websocket client connected")
}

// unregister removes c and releases its subscriptions. Calling it more
// than once is harmless.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	total := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	metrics.WSConnections.Set(float64(total))
	logging.Info().Uint64("client_id", c.id).Int("total_clients", total).Msg("websocket client disconnected")
}

// closeAllClients closes clients in ID order.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	for _, c := range clients {
		c.close()
	}
	metrics.WSConnections.Set(0)
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// admit reports whether topic may be subscribed to. Static topics always
// may; dynamic ones need a preparer that accepts them.
func (h *Hub) admit(ctx context.Context, topic string) bool {
	if _, dynamic := pubsub.JobIDFromProgressTopic(topic); !dynamic {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, prepareTimeout)
	defer cancel()
	for _, p := range h.preparers {
		if p.PrepareTopic(ctx, topic) {
			return true
		}
	}
	return false
}

// ValidTopic reports whether clients may subscribe to topic.
func ValidTopic(topic string) bool {
	switch topic {
	case pubsub.TopicCPUUtilization, pubsub.TopicMemoryUtilization:
		return true
	}
	_, ok := pubsub.JobIDFromProgressTopic(topic)
	return ok
}
