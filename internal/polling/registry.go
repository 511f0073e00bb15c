// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

// Package polling runs named callbacks on fixed intervals.
//
// A task fires once immediately and then every interval until it is stopped.
// Each tick runs on its own goroutine, and a tick that arrives while the
// previous callback for the same task is still running is dropped. Errors
// and panics raised by a callback are logged and never stop the ticker.
//
// Names are unique: registering a name that is already polling replaces the
// old task, so at most one ticker exists per name.
package polling

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/unraid-api/internal/logging"
	"github.com/tomtom215/unraid-api/internal/metrics"
)

// Func is a polling callback. ctx is cancelled when the task is stopped or
// replaced; callbacks that publish results should check it first so late
// results from a stopped task are discarded.
type Func func(ctx context.Context) error

var (
	// ErrInvalidInterval is returned for a zero or negative interval.
	ErrInvalidInterval = errors.New("polling interval must be positive")

	// ErrNilFunc is returned when no callback is given.
	ErrNilFunc = errors.New("polling callback is nil")

	// ErrEmptyName is returned when the task name is empty.
	ErrEmptyName = errors.New("polling task name is empty")

	// ErrTaskDone is returned by a callback to stop its own task. It is not
	// counted as a failure.
	ErrTaskDone = errors.New("polling task done")
)

type task struct {
	name     string
	interval time.Duration
	fn       Func
	ctx      context.Context
	cancel   context.CancelFunc

	// inProgress is set while a callback for this task is running.
	inProgress atomic.Bool
}

// Registry owns every running polling task.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*task

	// callbacks tracks in-flight callbacks so Serve can drain them on
	// shutdown. Add is only called under mu while draining is false.
	callbacks sync.WaitGroup
	draining  bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*task)}
}

// StartPolling registers fn under name and starts it. The first invocation
// happens immediately on a separate goroutine. An existing task with the same
// name is stopped first.
func (r *Registry) StartPolling(name string, interval time.Duration, fn Func) error {
	if name == "" {
		return ErrEmptyName
	}
	if interval <= 0 {
		return fmt.Errorf("%w: %s got %v", ErrInvalidInterval, name, interval)
	}
	if fn == nil {
		return fmt.Errorf("%w: %s", ErrNilFunc, name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		name:     name,
		interval: interval,
		fn:       fn,
		ctx:      ctx,
		cancel:   cancel,
	}

	r.mu.Lock()
	if old, ok := r.tasks[name]; ok {
		old.cancel()
		logging.Debug().Str("task", name).Msg("Replacing polling task")
	} else {
		metrics.PollingActiveTasks.Inc()
	}
	r.tasks[name] = t
	r.mu.Unlock()

	logging.Debug().Str("task", name).Dur("interval", interval).Msg("Polling started")

	go r.loop(t)
	return nil
}

// StopPolling stops the named task. Unknown names are ignored. A callback
// that is already running is not interrupted, but its context is cancelled.
func (r *Registry) StopPolling(name string) {
	r.mu.Lock()
	t, ok := r.tasks[name]
	if ok {
		delete(r.tasks, name)
		metrics.PollingActiveTasks.Dec()
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	t.cancel()
	logging.Debug().Str("task", name).Msg("Polling stopped")
}

// StopAll stops every task.
func (r *Registry) StopAll() {
	r.mu.Lock()
	tasks := r.tasks
	r.tasks = make(map[string]*task)
	metrics.PollingActiveTasks.Sub(float64(len(tasks)))
	r.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	if len(tasks) > 0 {
		logging.Info().Int("count", len(tasks)).Msg("Stopped all polling tasks")
	}
}

// IsPolling reports whether a task with this name is registered.
func (r *Registry) IsPolling(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[name]
	return ok
}

// Tasks returns the registered task names in sorted order.
func (r *Registry) Tasks() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

// Serve implements suture.Service. Tasks are independent of ctx; when ctx
// ends every task is stopped and in-flight callbacks are awaited.
func (r *Registry) Serve(ctx context.Context) error {
	<-ctx.Done()

	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()

	r.StopAll()
	r.callbacks.Wait()

	r.mu.Lock()
	r.draining = false
	r.mu.Unlock()
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (r *Registry) String() string {
	return "polling-registry"
}

func (r *Registry) loop(t *task) {
	r.fire(t)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			r.fire(t)
		}
	}
}

// fire starts one callback unless the previous one is still running.
func (r *Registry) fire(t *task) {
	if t.ctx.Err() != nil {
		return
	}

	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return
	}
	r.callbacks.Add(1)
	r.mu.Unlock()

	if !t.inProgress.CompareAndSwap(false, true) {
		r.callbacks.Done()
		metrics.PollingTicksSkipped.WithLabelValues(t.name).Inc()
		logging.Debug().Str("task", t.name).Msg("Previous poll still running, skipping tick")
		return
	}

	go func() {
		defer r.callbacks.Done()
		defer t.inProgress.Store(false)
		r.run(t)
	}()
}

func (r *Registry) run(t *task) {
	start := time.Now()
	failed := false

	defer func() {
		if rec := recover(); rec != nil {
			failed = true
			logging.Error().
				Str("task", t.name).
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("Polling callback panicked")
		}
		metrics.RecordTick(t.name, time.Since(start), failed)
	}()

	if err := t.fn(t.ctx); err != nil {
		if errors.Is(err, ErrTaskDone) {
			r.finish(t)
			return
		}
		if t.ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return
		}
		failed = true
		logging.Error().Err(err).Str("task", t.name).Msg("Polling callback failed")
	}
}

// finish stops t after its callback asked to. A task that has already been
// replaced under the same name is left alone.
func (r *Registry) finish(t *task) {
	r.mu.Lock()
	if r.tasks[t.name] == t {
		delete(r.tasks, t.name)
		metrics.PollingActiveTasks.Dec()
	}
	r.mu.Unlock()
	t.cancel()
	logging.Debug().Str("task", t.name).Msg("Polling task finished")
}
