// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/unraid-api/internal/pubsub"
)

type countingTracker struct {
	mu     sync.Mutex
	counts map[string]int
	calls  map[string]int
}

func newCountingTracker() *countingTracker {
	return &countingTracker{counts: make(map[string]int), calls: make(map[string]int)}
}

func (c *countingTracker) Subscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[topic]++
	c.calls["subscribe:"+topic]++
}

func (c *countingTracker) Unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[topic] > 0 {
		c.counts[topic]--
	}
	c.calls["unsubscribe:"+topic]++
}

func (c *countingTracker) count(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[topic]
}

func (c *countingTracker) callCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[key]
}

type recordingPreparer struct {
	mu     sync.Mutex
	topics []string
	reject bool
	// onAccept runs for every accepted topic.
	onAccept func(ctx context.Context, topic string)
}

func (p *recordingPreparer) PrepareTopic(ctx context.Context, topic string) bool {
	p.mu.Lock()
	p.topics = append(p.topics, topic)
	reject, onAccept := p.reject, p.onAccept
	p.mu.Unlock()
	if reject {
		return false
	}
	if onAccept != nil {
		onAccept(ctx, topic)
	}
	return true
}

type testEnv struct {
	hub     *Hub
	tracker *countingTracker
	bus     *pubsub.PubSub
	server  *httptest.Server
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	tracker := newCountingTracker()
	bus := pubsub.NewGoChannel(64)
	hub := NewHub(tracker, bus, opts...)
	server := httptest.NewServer(hub.Handler([]string{"*"}))
	t.Cleanup(func() {
		server.Close()
		_ = bus.Close()
	})
	return &testEnv{hub: hub, tracker: tracker, bus: bus, server: server}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg Message) {
	t.Helper()
	data, _ := json.Marshal(msg)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

type rawMessage struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

func read(t *testing.T, conn *websocket.Conn) rawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg rawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func expect(t *testing.T, conn *websocket.Conn, typ, topic string) rawMessage {
	t.Helper()
	msg := read(t, conn)
	if msg.Type != typ || msg.Topic != topic {
		t.Fatalf("got %s/%s, want %s/%s", msg.Type, msg.Topic, typ, topic)
	}
	return msg
}

func waitUntil(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestSubscribe_ForwardsEvents(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, Message{Type: MessageTypeSubscribe, Topic: pubsub.TopicCPUUtilization})
	expect(t, conn, MessageTypeSubscribed, pubsub.TopicCPUUtilization)

	if got := env.tracker.count(pubsub.TopicCPUUtilization); got != 1 {
		t.Fatalf("tracker count = %d, want 1", got)
	}

	if err := env.bus.Publish(context.Background(), pubsub.TopicCPUUtilization, map[string]float64{"percent": 12.5}); err != nil {
		t.Fatal(err)
	}
	msg := expect(t, conn, MessageTypeEvent, pubsub.TopicCPUUtilization)
	if string(msg.Data) != `{"percent":12.5}` {
		t.Errorf("data = %s", msg.Data)
	}
}

func TestSubscribe_RepeatCountsOnce(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	for i := 0; i < 3; i++ {
		send(t, conn, Message{Type: MessageTypeSubscribe, Topic: pubsub.TopicMemoryUtilization})
		expect(t, conn, MessageTypeSubscribed, pubsub.TopicMemoryUtilization)
	}
	if got := env.tracker.callCount("subscribe:" + pubsub.TopicMemoryUtilization); got != 1 {
		t.Errorf("tracker.Subscribe called %d times, want 1", got)
	}
}

func TestSubscribe_UnknownTopic(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, Message{Type: MessageTypeSubscribe, Topic: "DISK_TEMPERATURE"})
	expect(t, conn, MessageTypeError, "DISK_TEMPERATURE")
	if env.tracker.count("DISK_TEMPERATURE") != 0 {
		t.Error("unknown topic was counted")
	}
}

func TestUnsubscribe_ReleasesTopic(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, Message{Type: MessageTypeSubscribe, Topic: pubsub.TopicCPUUtilization})
	expect(t, conn, MessageTypeSubscribed, pubsub.TopicCPUUtilization)
	send(t, conn, Message{Type: MessageTypeUnsubscribe, Topic: pubsub.TopicCPUUtilization})
	expect(t, conn, MessageTypeUnsubscribed, pubsub.TopicCPUUtilization)

	if got := env.tracker.count(pubsub.TopicCPUUtilization); got != 0 {
		t.Errorf("tracker count = %d, want 0", got)
	}

	// A second unsubscribe is acknowledged but not counted.
	send(t, conn, Message{Type: MessageTypeUnsubscribe, Topic: pubsub.TopicCPUUtilization})
	expect(t, conn, MessageTypeUnsubscribed, pubsub.TopicCPUUtilization)
	if got := env.tracker.callCount("unsubscribe:" + pubsub.TopicCPUUtilization); got != 1 {
		t.Errorf("tracker.Unsubscribe called %d times, want 1", got)
	}
}

func TestDisconnect_ReleasesEverySubscription(t *testing.T) {
	env := newTestEnv(t, WithTopicPreparer(&recordingPreparer{}))
	conn := env.dial(t)
	other := env.dial(t)

	topics := []string{pubsub.TopicCPUUtilization, pubsub.TopicMemoryUtilization, pubsub.BackupJobProgressTopic("7")}
	for _, topic := range topics {
		send(t, conn, Message{Type: MessageTypeSubscribe, Topic: topic})
		expect(t, conn, MessageTypeSubscribed, topic)
	}
	send(t, other, Message{Type: MessageTypeSubscribe, Topic: pubsub.TopicCPUUtilization})
	expect(t, other, MessageTypeSubscribed, pubsub.TopicCPUUtilization)

	_ = conn.Close()

	if !waitUntil(t, func() bool { return env.hub.GetClientCount() == 1 }) {
		t.Fatalf("client count = %d, want 1", env.hub.GetClientCount())
	}
	waitUntil(t, func() bool {
		return env.tracker.callCount("unsubscribe:"+topics[len(topics)-1]) > 0 &&
			env.tracker.callCount("unsubscribe:"+topics[0]) > 0 &&
			env.tracker.callCount("unsubscribe:"+topics[1]) > 0
	})
	for _, topic := range topics {
		if got := env.tracker.callCount("unsubscribe:" + topic); got != 1 {
			t.Errorf("Unsubscribe(%s) called %d times, want 1", topic, got)
		}
	}
	if got := env.tracker.count(pubsub.TopicCPUUtilization); got != 1 {
		t.Errorf("CPU count = %d, want 1 for the remaining client", got)
	}
}

func TestRunWithContext_ClosesClients(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, Message{Type: MessageTypeSubscribe, Topic: pubsub.TopicCPUUtilization})
	expect(t, conn, MessageTypeSubscribed, pubsub.TopicCPUUtilization)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.hub.RunWithContext(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("RunWithContext returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	if env.hub.GetClientCount() != 0 {
		t.Errorf("expected no clients, got %d", env.hub.GetClientCount())
	}
	if got := env.tracker.count(pubsub.TopicCPUUtilization); got != 0 {
		t.Errorf("subscription not released on shutdown: %d", got)
	}

	// The server side closes the connection.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func TestPingPong(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, Message{Type: MessageTypePing})
	expect(t, conn, MessageTypePong, "")

	send(t, conn, Message{Type: "shout"})
	expect(t, conn, MessageTypeError, "")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	expect(t, conn, MessageTypeError, "")
}

func TestSubscribe_CallsPreparer(t *testing.T) {
	prep := &recordingPreparer{}
	env := newTestEnv(t, WithTopicPreparer(prep))
	conn := env.dial(t)

	topic := pubsub.BackupJobProgressTopic("99")
	send(t, conn, Message{Type: MessageTypeSubscribe, Topic: topic})
	expect(t, conn, MessageTypeSubscribed, topic)

	prep.mu.Lock()
	defer prep.mu.Unlock()
	if len(prep.topics) != 1 || prep.topics[0] != topic {
		t.Errorf("preparer saw %v", prep.topics)
	}
}

func TestSubscribe_DynamicTopicAdmission(t *testing.T) {
	tests := []struct {
		name      string
		preparers []TopicPreparer
		admitted  bool
	}{
		{"no preparer", nil, false},
		{"rejecting preparer", []TopicPreparer{&recordingPreparer{reject: true}}, false},
		{"second preparer accepts", []TopicPreparer{&recordingPreparer{reject: true}, &recordingPreparer{}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			for _, p := range tt.preparers {
				opts = append(opts, WithTopicPreparer(p))
			}
			env := newTestEnv(t, opts...)
			conn := env.dial(t)

			topic := pubsub.BackupJobProgressTopic("404")
			send(t, conn, Message{Type: MessageTypeSubscribe, Topic: topic})
			if tt.admitted {
				expect(t, conn, MessageTypeSubscribed, topic)
			} else {
				expect(t, conn, MessageTypeError, topic)
			}

			want := 0
			if tt.admitted {
				want = 1
			}
			if got := env.tracker.callCount("subscribe:" + topic); got != want {
				t.Errorf("tracker.Subscribe called %d times, want %d", got, want)
			}

			// Static topics never consult a preparer.
			send(t, conn, Message{Type: MessageTypeSubscribe, Topic: pubsub.TopicCPUUtilization})
			expect(t, conn, MessageTypeSubscribed, pubsub.TopicCPUUtilization)
		})
	}
}

func TestSubscribe_ReceivesWhatPreparerPublishes(t *testing.T) {
	prep := &recordingPreparer{}
	env := newTestEnv(t, WithTopicPreparer(prep))
	prep.mu.Lock()
	prep.onAccept = func(ctx context.Context, topic string) {
		if err := env.bus.Publish(ctx, topic, map[string]string{"status": "COMPLETED"}); err != nil {
			t.Errorf("publish: %v", err)
		}
	}
	prep.mu.Unlock()
	conn := env.dial(t)

	topic := pubsub.BackupJobProgressTopic("5")
	send(t, conn, Message{Type: MessageTypeSubscribe, Topic: topic})
	expect(t, conn, MessageTypeSubscribed, topic)
	msg := expect(t, conn, MessageTypeEvent, topic)
	if string(msg.Data) != `{"status":"COMPLETED"}` {
		t.Errorf("data = %s", msg.Data)
	}
}

func TestValidTopic(t *testing.T) {
	tests := map[string]bool{
		pubsub.TopicCPUUtilization:          true,
		pubsub.TopicMemoryUtilization:       true,
		pubsub.BackupJobProgressTopic("12"): true,
		pubsub.BackupJobProgressPrefix + ":": false,
		"":                                  false,
		"ARRAY_STATE":                       false,
	}
	for topic, want := range tests {
		if got := ValidTopic(topic); got != want {
			t.Errorf("ValidTopic(%q) = %v, want %v", topic, got, want)
		}
	}
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    bool
	}{
		{"wildcard allows anything", []string{"*"}, "http://evil.example", true},
		{"wildcard allows missing origin", []string{"*"}, "", true},
		{"listed origin", []string{"http://tower.local"}, "http://tower.local", true},
		{"unlisted origin", []string{"http://tower.local"}, "http://evil.example", false},
		{"missing origin", []string{"http://tower.local"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := originChecker(tt.origins)(r); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
