// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/unraid-api/internal/polling"
)

type counters struct {
	starts atomic.Int32
	stops  atomic.Int32
}

func (c *counters) handler() Handler {
	return EventHandler(
		func() error { c.starts.Add(1); return nil },
		func() { c.stops.Add(1) },
	)
}

func TestSubscribe_StartStopTransitions(t *testing.T) {
	tr := NewTracker(polling.NewRegistry())
	var c counters
	tr.RegisterTopic("CPU", c.handler())

	tr.Subscribe("CPU")
	if c.starts.Load() != 1 {
		t.Fatalf("onStart calls = %d, want 1", c.starts.Load())
	}

	tr.Subscribe("CPU")
	if c.starts.Load() != 1 {
		t.Errorf("onStart called again on second subscribe")
	}
	if got := tr.GetSubscriberCount("CPU"); got != 2 {
		t.Errorf("count = %d, want 2", got)
	}

	tr.Unsubscribe("CPU")
	if c.stops.Load() != 0 {
		t.Errorf("onStop called with a subscriber remaining")
	}
	if got := tr.GetSubscriberCount("CPU"); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}

	tr.Unsubscribe("CPU")
	if c.stops.Load() != 1 {
		t.Errorf("onStop calls = %d, want 1", c.stops.Load())
	}
	if got := tr.GetSubscriberCount("CPU"); got != 0 {
		t.Errorf("count = %d, want 0", got)
	}
}

func TestSubscribe_ExactlyOnceForAnyN(t *testing.T) {
	for _, n := range []int{1, 2, 5, 50} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			tr := NewTracker(nil)
			var c counters
			tr.RegisterTopic("T", c.handler())

			for i := 0; i < n; i++ {
				tr.Subscribe("T")
			}
			for i := 0; i < n; i++ {
				tr.Unsubscribe("T")
			}
			if c.starts.Load() != 1 || c.stops.Load() != 1 {
				t.Errorf("starts=%d stops=%d, want 1/1", c.starts.Load(), c.stops.Load())
			}
		})
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	tr := NewTracker(nil)
	var c counters
	tr.RegisterTopic("T", c.handler())

	tr.Unsubscribe("T")
	tr.Unsubscribe("never-registered")

	if got := tr.GetSubscriberCount("T"); got != 0 {
		t.Errorf("count = %d, want 0", got)
	}
	if c.stops.Load() != 0 {
		t.Errorf("onStop invoked on unsubscribe at zero")
	}

	tr.Subscribe("T")
	tr.Unsubscribe("T")
	tr.Unsubscribe("T")
	if c.stops.Load() != 1 {
		t.Errorf("onStop calls = %d, want 1", c.stops.Load())
	}
}

func TestSubscribe_WithoutHandlerStillCounts(t *testing.T) {
	tr := NewTracker(nil)

	tr.Subscribe("orphan")
	tr.Subscribe("orphan")
	if got := tr.GetSubscriberCount("orphan"); got != 2 {
		t.Errorf("count = %d, want 2", got)
	}

	tr.Unsubscribe("orphan")
	tr.Unsubscribe("orphan")
	if _, ok := tr.GetAllSubscriberCounts()["orphan"]; ok {
		t.Error("zero-count topic still reported")
	}
}

func TestStartStopAlternation(t *testing.T) {
	tr := NewTracker(nil)
	var mu sync.Mutex
	var events []string
	tr.RegisterTopic("T", EventHandler(
		func() error { mu.Lock(); events = append(events, "start"); mu.Unlock(); return nil },
		func() { mu.Lock(); events = append(events, "stop"); mu.Unlock() },
	))

	for i := 0; i < 3; i++ {
		tr.Subscribe("T")
		tr.Subscribe("T")
		tr.Unsubscribe("T")
		tr.Unsubscribe("T")
	}

	want := []string{"start", "stop", "start", "stop", "start", "stop"}
	if fmt.Sprint(events) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestGetAllSubscriberCounts(t *testing.T) {
	tr := NewTracker(nil)
	tr.Subscribe("A")
	tr.Subscribe("A")
	tr.Subscribe("B")
	tr.Subscribe("C")
	tr.Unsubscribe("C")

	counts := tr.GetAllSubscriberCounts()
	if len(counts) != 2 || counts["A"] != 2 || counts["B"] != 1 {
		t.Errorf("counts = %v, want map[A:2 B:1]", counts)
	}

	// Snapshot is detached from the tracker.
	counts["A"] = 99
	if tr.GetSubscriberCount("A") != 2 {
		t.Error("mutating snapshot changed tracker state")
	}
}

func TestRegisterTopic_Overwrites(t *testing.T) {
	tr := NewTracker(nil)
	var first, second counters
	tr.RegisterTopic("T", first.handler())
	tr.RegisterTopic("T", second.handler())

	tr.Subscribe("T")
	tr.Unsubscribe("T")

	if first.starts.Load() != 0 || first.stops.Load() != 0 {
		t.Error("overwritten handler was invoked")
	}
	if second.starts.Load() != 1 || second.stops.Load() != 1 {
		t.Errorf("new handler starts=%d stops=%d", second.starts.Load(), second.stops.Load())
	}
	if got := tr.RegisteredTopics(); len(got) != 1 || got[0] != "T" {
		t.Errorf("RegisteredTopics = %v", got)
	}
}

func TestUnregisterTopic_StopsRunningProducer(t *testing.T) {
	tr := NewTracker(nil)
	var c counters
	tr.RegisterTopic("T", c.handler())
	tr.Subscribe("T")

	tr.UnregisterTopic("T")
	if c.stops.Load() != 1 {
		t.Errorf("onStop calls = %d, want 1", c.stops.Load())
	}
	if got := tr.GetSubscriberCount("T"); got != 1 {
		t.Errorf("count = %d, want 1 (subscribers kept)", got)
	}

	tr.Unsubscribe("T")
	if c.stops.Load() != 1 {
		t.Error("onStop invoked after handler was removed")
	}
	if len(tr.RegisteredTopics()) != 0 {
		t.Errorf("RegisteredTopics = %v", tr.RegisteredTopics())
	}
}

func TestHandlerFailuresKeepCounts(t *testing.T) {
	tr := NewTracker(nil)
	tr.RegisterTopic("err", EventHandler(func() error { return errors.New("nope") }, nil))
	tr.RegisterTopic("panic", EventHandler(func() error { panic("boom") }, func() { panic("boom") }))

	tr.Subscribe("err")
	tr.Subscribe("panic")
	if tr.GetSubscriberCount("err") != 1 || tr.GetSubscriberCount("panic") != 1 {
		t.Fatalf("counts = %v", tr.GetAllSubscriberCounts())
	}

	tr.Unsubscribe("panic")
	if tr.GetSubscriberCount("panic") != 0 {
		t.Error("panicking onStop left a stale count")
	}
}

func TestPollingHandler_DrivesRegistry(t *testing.T) {
	reg := polling.NewRegistry()
	defer reg.StopAll()
	tr := NewTracker(reg)

	var calls atomic.Int32
	tr.RegisterTopic("MEMORY_UTILIZATION", PollingHandler(10*time.Millisecond, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}))

	if reg.IsPolling("MEMORY_UTILIZATION") {
		t.Fatal("polling started before any subscriber")
	}

	tr.Subscribe("MEMORY_UTILIZATION")
	if !reg.IsPolling("MEMORY_UTILIZATION") {
		t.Fatal("polling not started on first subscriber")
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() == 0 {
		t.Fatal("polling callback never ran")
	}

	tr.Unsubscribe("MEMORY_UTILIZATION")
	if reg.IsPolling("MEMORY_UTILIZATION") {
		t.Error("polling still active after last unsubscribe")
	}
}

func TestPollingHandler_NoRegistry(t *testing.T) {
	tr := NewTracker(nil)
	tr.RegisterTopic("T", PollingHandler(time.Second, func(ctx context.Context) error { return nil }))

	tr.Subscribe("T")
	tr.Unsubscribe("T")
	if tr.GetSubscriberCount("T") != 0 {
		t.Error("count not restored")
	}
}

func TestConcurrentSubscribers(t *testing.T) {
	tr := NewTracker(nil)
	topics := []string{"A", "B", "C", "D"}
	cs := make(map[string]*counters, len(topics))
	for _, topic := range topics {
		c := &counters{}
		cs[topic] = c
		tr.RegisterTopic(topic, c.handler())
	}

	const perTopic = 100
	var wg sync.WaitGroup
	for _, topic := range topics {
		for i := 0; i < perTopic; i++ {
			wg.Add(1)
			go func(topic string) {
				defer wg.Done()
				tr.Subscribe(topic)
			}(topic)
		}
	}
	wg.Wait()

	for _, topic := range topics {
		if got := tr.GetSubscriberCount(topic); got != perTopic {
			t.Errorf("%s count = %d, want %d", topic, got, perTopic)
		}
		if cs[topic].starts.Load() != 1 {
			t.Errorf("%s starts = %d, want 1", topic, cs[topic].starts.Load())
		}
	}

	for _, topic := range topics {
		for i := 0; i < perTopic; i++ {
			wg.Add(1)
			go func(topic string) {
				defer wg.Done()
				tr.Unsubscribe(topic)
			}(topic)
		}
	}
	wg.Wait()

	for _, topic := range topics {
		if cs[topic].stops.Load() != 1 {
			t.Errorf("%s stops = %d, want 1", topic, cs[topic].stops.Load())
		}
	}
	if len(tr.GetAllSubscriberCounts()) != 0 {
		t.Errorf("counts left: %v", tr.GetAllSubscriberCounts())
	}
}

func TestConcurrentChurnOnUnhandledTopic(t *testing.T) {
	// Topics without a handler are dropped at zero and recreated on demand;
	// the count must stay exact across that churn.
	tr := NewTracker(nil)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Subscribe("churn")
			tr.Unsubscribe("churn")
		}()
	}
	wg.Wait()

	if got := tr.GetSubscriberCount("churn"); got != 0 {
		t.Errorf("count = %d, want 0", got)
	}
}

func TestRegisterTopic_NilHandlerIgnored(t *testing.T) {
	tr := NewTracker(nil)
	tr.RegisterTopic("T", nil)

	tr.Subscribe("T")
	tr.Unsubscribe("T")

	if got := tr.RegisteredTopics(); len(got) != 0 {
		t.Errorf("RegisteredTopics = %v, want none", got)
	}

	var c counters
	tr.RegisterTopic("T", c.handler())
	tr.RegisterTopic("T", nil)
	tr.Subscribe("T")
	if c.starts.Load() != 1 {
		t.Errorf("nil registration replaced existing handler, starts=%d", c.starts.Load())
	}
	tr.Unsubscribe("T")
}

func TestRegisterFactory_BuildsPerTransition(t *testing.T) {
	tests := []struct {
		name   string
		topic  string
		builds int32
	}{
		{"matching prefix", "JOB:1", 1},
		{"other prefix", "OTHER:1", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(nil)
			var built atomic.Int32
			var c counters
			tr.RegisterFactory("JOB:", func(topic string) Handler {
				built.Add(1)
				return c.handler()
			})

			tr.Subscribe(tt.topic)
			tr.Subscribe(tt.topic)
			tr.Unsubscribe(tt.topic)
			tr.Unsubscribe(tt.topic)

			if built.Load() != tt.builds {
				t.Errorf("factory calls = %d, want %d", built.Load(), tt.builds)
			}
			if c.starts.Load() != tt.builds || c.stops.Load() != tt.builds {
				t.Errorf("starts=%d stops=%d, want %d each", c.starts.Load(), c.stops.Load(), tt.builds)
			}
			if got := tr.RegisteredTopics(); len(got) != 0 {
				t.Errorf("RegisteredTopics = %v, want none after last unsubscribe", got)
			}
		})
	}
}

func TestRegisterFactory_NilHandlerAndPanic(t *testing.T) {
	tr := NewTracker(nil)
	tr.RegisterFactory("NIL:", func(string) Handler { return nil })
	tr.RegisterFactory("PANIC:", func(string) Handler { panic("boom") })

	for _, topic := range []string{"NIL:1", "PANIC:1"} {
		tr.Subscribe(topic)
		if got := tr.GetSubscriberCount(topic); got != 1 {
			t.Errorf("%s count = %d, want 1", topic, got)
		}
		tr.Unsubscribe(topic)
	}
	if got := tr.RegisteredTopics(); len(got) != 0 {
		t.Errorf("RegisteredTopics = %v", got)
	}
}

func TestRegisterFactory_LongestPrefixAndExplicitHandlerWin(t *testing.T) {
	tr := NewTracker(nil)
	var short, long, explicit counters
	tr.RegisterFactory("A:", func(string) Handler { return short.handler() })
	tr.RegisterFactory("A:B:", func(string) Handler { return long.handler() })
	tr.RegisterTopic("A:B:fixed", explicit.handler())

	tr.Subscribe("A:B:1")
	tr.Unsubscribe("A:B:1")
	tr.Subscribe("A:B:fixed")
	tr.Unsubscribe("A:B:fixed")

	if short.starts.Load() != 0 {
		t.Error("shorter prefix factory was used")
	}
	if long.starts.Load() != 1 {
		t.Errorf("longest prefix starts = %d, want 1", long.starts.Load())
	}
	if explicit.starts.Load() != 1 {
		t.Errorf("explicit handler starts = %d, want 1", explicit.starts.Load())
	}
	if got := tr.RegisteredTopics(); len(got) != 1 || got[0] != "A:B:fixed" {
		t.Errorf("RegisteredTopics = %v, want [A:B:fixed]", got)
	}

	tr.RegisterFactory("A:B:", nil)
	tr.Subscribe("A:B:2")
	tr.Unsubscribe("A:B:2")
	if short.starts.Load() != 1 {
		t.Errorf("removed factory not replaced by shorter prefix, starts=%d", short.starts.Load())
	}
}

func TestOnStop_RunsAfterStop(t *testing.T) {
	tr := NewTracker(nil)
	var order []string
	h := OnStop(EventHandler(nil, func() { order = append(order, "stop") }), func() {
		order = append(order, "hook")
	})
	tr.RegisterTopic("T", h)

	tr.Subscribe("T")
	if len(order) != 0 {
		t.Fatalf("hook ran before any stop: %v", order)
	}
	tr.Unsubscribe("T")
	if len(order) != 2 || order[0] != "stop" || order[1] != "hook" {
		t.Errorf("order = %v, want [stop hook]", order)
	}
}

func TestConcurrentChurnOnDynamicTopics(t *testing.T) {
	tr := NewTracker(nil)
	var live atomic.Int32
	tr.RegisterFactory("JOB:", func(string) Handler {
		return EventHandler(
			func() error { live.Add(1); return nil },
			func() { live.Add(-1) },
		)
	})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				topic := fmt.Sprintf("JOB:%d", i%5)
				tr.Subscribe(topic)
				tr.Unsubscribe(topic)
			}
		}(g)
	}
	wg.Wait()

	if got := live.Load(); got != 0 {
		t.Errorf("live producers = %d, want 0", got)
	}
	if got := tr.RegisteredTopics(); len(got) != 0 {
		t.Errorf("RegisteredTopics = %v, want none", got)
	}
	if got := tr.GetAllSubscriberCounts(); len(got) != 0 {
		t.Errorf("counts = %v, want none", got)
	}
}
