// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

// Package pubsub carries topic events from producers to subscription
// transports on top of watermill.
//
// The default backend is watermill's in-process gochannel. Builds with the
// nats tag can use a NATS server instead so several API processes share
// topics. Payloads are JSON.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/unraid-api/internal/config"
	"github.com/tomtom215/unraid-api/internal/logging"
	"github.com/tomtom215/unraid-api/internal/metrics"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("pubsub is closed")

const publishedAtKey = "published_at"

// Event is one message delivered to a subscriber.
type Event struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
}

// PubSub publishes and subscribes to named topics.
type PubSub struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	backend    string

	mu     sync.RWMutex
	closed bool
}

// New wraps an existing watermill publisher/subscriber pair.
func New(backend string, pub message.Publisher, sub message.Subscriber) *PubSub {
	return &PubSub{publisher: pub, subscriber: sub, backend: backend}
}

// NewGoChannel returns an in-process PubSub. Messages published to a topic
// with no subscribers are dropped.
func NewGoChannel(outputBuffer int64) *PubSub {
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: outputBuffer,
		Persistent:          false,
	}, watermillLogger())
	return New("gochannel", ch, ch)
}

// Open builds the backend selected in cfg.
func Open(cfg config.PubSubConfig) (*PubSub, error) {
	switch cfg.Backend {
	case "", "gochannel":
		return NewGoChannel(cfg.OutputBuffer), nil
	case "nats":
		return openNATS(cfg)
	default:
		return nil, fmt.Errorf("unknown pubsub backend %q", cfg.Backend)
	}
}

func watermillLogger() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logging.NewSlogLogger())
}

// Backend returns "gochannel" or "nats".
func (p *PubSub) Backend() string {
	return p.backend
}

// Publish encodes payload as JSON and publishes it on topic.
func (p *PubSub) Publish(ctx context.Context, topic string, payload any) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", topic, err)
	}

	msg := message.NewMessage(uuid.NewString(), data)
	msg.Metadata.Set(publishedAtKey, time.Now().UTC().Format(time.RFC3339Nano))
	msg.SetContext(ctx)

	err = p.publisher.Publish(topic, msg)
	metrics.RecordPublish(TopicFamily(topic), err)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns a channel of events on topic. The channel is closed
// when ctx ends or the PubSub is closed.
func (p *PubSub) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	messages, err := p.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			ev := Event{
				ID:      msg.UUID,
				Topic:   topic,
				Payload: json.RawMessage(append([]byte(nil), msg.Payload...)),
			}
			if ts, err := time.Parse(time.RFC3339Nano, msg.Metadata.Get(publishedAtKey)); err == nil {
				ev.PublishedAt = ts
			}
			msg.Ack()

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts down the backend. Further calls are no-ops.
func (p *PubSub) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var errs []error
	if err := p.publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	// gochannel uses one value for both sides.
	if any(p.subscriber) != any(p.publisher) {
		if err := p.subscriber.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
