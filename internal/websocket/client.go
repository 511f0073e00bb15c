// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package websocket

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/unraid-api/internal/logging"
	"github.com/tomtom215/unraid-api/internal/metrics"
	"github.com/tomtom215/unraid-api/internal/pubsub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// clientIDCounter gives clients increasing IDs so shutdown order is stable.
var clientIDCounter atomic.Uint64

// Client is one websocket connection and the topics it holds.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	mu     sync.Mutex
	topics map[string]context.CancelFunc
	closed bool
}

// NewClient creates a client for conn. Call Start to run it.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:     clientIDCounter.Add(1),
		hub:    hub,
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		topics: make(map[string]context.CancelFunc),
	}
}

// ID returns the client's identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// Topics returns the topics the client is subscribed to, sorted.
func (c *Client) Topics() []string {
	c.mu.Lock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	c.mu.Unlock()
	sort.Strings(out)
	return out
}

// Start registers the client with its hub and starts the pumps.
func (c *Client) Start() {
	c.hub.register(c)
	go c.writePump()
	go c.readPump()
}

// trySend queues msg without blocking. A full queue drops the message.
func (c *Client) trySend(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		logging.Warn().
			Uint64("client_id", c.id).
			Str("topic", msg.Topic).
			Str("message_type", msg.Type).
			Msg("websocket send buffer full, dropping message")
		return false
	}
}

func (c *Client) handle(msg Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.subscribe(msg.Topic)
	case MessageTypeUnsubscribe:
		c.unsubscribe(msg.Topic)
	case MessageTypePing:
		c.trySend(Message{Type: MessageTypePong})
	default:
		c.trySend(Message{Type: MessageTypeError, Data: "unknown message type: " + msg.Type})
	}
}

func (c *Client) subscribe(topic string) {
	if !ValidTopic(topic) {
		c.trySend(Message{Type: MessageTypeError, Topic: topic, Data: "unknown topic"})
		return
	}

	c.mu.Lock()
	closed := c.closed
	_, held := c.topics[topic]
	c.mu.Unlock()
	if closed {
		return
	}
	if held {
		c.trySend(Message{Type: MessageTypeSubscribed, Topic: topic})
		return
	}

	// The event stream is opened before admission so that whatever the
	// preparer publishes, such as a finished job's final state, is not lost.
	ctx, cancel := context.WithCancel(context.Background())
	events, err := c.hub.events.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		logging.Error().Err(err).Uint64("client_id", c.id).Str("topic", topic).Msg("Failed to open topic for websocket client")
		c.trySend(Message{Type: MessageTypeError, Topic: topic, Data: "subscription failed"})
		return
	}
	if !c.hub.admit(ctx, topic) {
		cancel()
		logging.Debug().Uint64("client_id", c.id).Str("topic", topic).Msg("websocket subscription refused")
		c.trySend(Message{Type: MessageTypeError, Topic: topic, Data: "unknown topic"})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return
	}
	if _, held := c.topics[topic]; held {
		c.mu.Unlock()
		cancel()
		c.trySend(Message{Type: MessageTypeSubscribed, Topic: topic})
		return
	}
	c.topics[topic] = cancel
	c.hub.tracker.Subscribe(topic)
	c.mu.Unlock()

	logging.Debug().Uint64("client_id", c.id).Str("topic", topic).Msg("websocket client subscribed")
	c.trySend(Message{Type: MessageTypeSubscribed, Topic: topic})
	go c.forward(ctx, topic, events)
}

func (c *Client) unsubscribe(topic string) {
	c.mu.Lock()
	cancel, held := c.topics[topic]
	delete(c.topics, topic)
	c.mu.Unlock()

	if held {
		cancel()
		c.hub.tracker.Unsubscribe(topic)
		logging.Debug().Uint64("client_id", c.id).Str("topic", topic).Msg("websocket client unsubscribed")
	}
	c.trySend(Message{Type: MessageTypeUnsubscribed, Topic: topic})
}

func (c *Client) forward(ctx context.Context, topic string, events <-chan pubsub.Event) {
	family := pubsub.TopicFamily(topic)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if c.trySend(Message{Type: MessageTypeEvent, Topic: topic, Data: ev.Payload}) {
				metrics.WSMessagesSent.WithLabelValues(family).Inc()
			}
		}
	}
}

// close releases every held topic and closes the send queue, which makes
// writePump close the connection. Only the first call has an effect.
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	held := c.topics
	c.topics = make(map[string]context.CancelFunc)
	close(c.send)
	c.mu.Unlock()

	for topic, cancel := range held {
		cancel()
		c.hub.tracker.Unsubscribe(topic)
	}
	if len(held) > 0 {
		logging.Debug().Uint64("client_id", c.id).Int("topics", len(held)).Msg("Released websocket client subscriptions")
	}
}

// readPump reads client messages until the connection fails.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Uint64("client_id", c.id).Msg("unexpected websocket close error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.trySend(Message{Type: MessageTypeError, Data: "invalid message"})
			continue
		}
		c.handle(msg)
	}
}

// writePump writes queued messages and keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				logging.Error().Err(err).Str("message_type", message.Type).Msg("failed to encode websocket message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logging.Debug().Err(err).Uint64("client_id", c.id).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
