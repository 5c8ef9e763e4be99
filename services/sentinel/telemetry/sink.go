// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry delivers pipeline progress notices to observers.
//
// Emission is fire-and-forget. Emit enqueues onto a bounded channel and
// returns immediately; when the channel is full the oldest queued notice is
// discarded to make room. A single worker goroutine drains the queue,
// records each notice in a bounded history, and invokes subscribers with
// panic recovery. Telemetry loss is acceptable and never back-pressures the
// pipeline.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultQueueSize bounds notices waiting for delivery.
	DefaultQueueSize = 256

	// DefaultHistorySize bounds notices kept for Recent.
	DefaultHistorySize = 1000
)

// Notice is one telemetry record. The JSON shape is what dashboards consume.
type Notice struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	AgentState string         `json:"agent_state"`
	EventID    string         `json:"event_id"`
	Details    map[string]any `json:"details"`
	Confidence float64        `json:"confidence"`
}

// Emitter is the telemetry contract the pipeline depends on.
type Emitter interface {
	// Emit publishes a notice. It must not block and has no result.
	Emit(stage, eventID string, details map[string]any, confidence float64)
}

// Handler receives delivered notices.
type Handler func(n Notice)

// Filter selects notices for a subscription.
type Filter func(n Notice) bool

type subscription struct {
	id      string
	handler Handler
	filter  Filter
}

// Stats counts sink activity.
type Stats struct {
	Emitted   int64 `json:"emitted"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

// Sink is the bounded, drop-oldest telemetry emitter.
//
// Thread Safety: safe for concurrent use.
type Sink struct {
	queue  chan Notice
	done   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
	once   sync.Once

	mu          sync.RWMutex
	subs        map[string]*subscription
	history     []Notice
	historySize int

	emitted   atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64

	logger *slog.Logger
	now    func() time.Time
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithQueueSize sets the queue bound. Values below 1 are ignored.
func WithQueueSize(n int) SinkOption {
	return func(s *Sink) {
		if n > 0 {
			s.queue = make(chan Notice, n)
		}
	}
}

// WithHistorySize sets how many delivered notices Recent can return.
func WithHistorySize(n int) SinkOption {
	return func(s *Sink) {
		if n > 0 {
			s.historySize = n
		}
	}
}

// WithLogger sets the logger used for handler panics.
func WithLogger(l *slog.Logger) SinkOption {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock injects the timestamp source.
func WithClock(now func() time.Time) SinkOption {
	return func(s *Sink) { s.now = now }
}

// NewSink creates a Sink and starts its delivery goroutine. Call Close to
// stop it.
func NewSink(opts ...SinkOption) *Sink {
	s := &Sink{
		queue:       make(chan Notice, DefaultQueueSize),
		done:        make(chan struct{}),
		subs:        make(map[string]*subscription),
		historySize: DefaultHistorySize,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.history = make([]Notice, 0, min(s.historySize, 64))

	s.wg.Add(1)
	go s.run()
	return s
}

// Emit enqueues a notice without blocking. When the queue is full the
// oldest queued notice is dropped. Emit after Close is a no-op.
func (s *Sink) Emit(stage, eventID string, details map[string]any, confidence float64) {
	if s.closed.Load() {
		return
	}
	n := Notice{
		ID:         uuid.NewString(),
		Timestamp:  s.now().UTC(),
		AgentState: stage,
		EventID:    eventID,
		Details:    details,
		Confidence: confidence,
	}
	s.emitted.Add(1)

	for {
		select {
		case s.queue <- n:
			return
		default:
		}
		select {
		case <-s.queue:
			s.dropped.Add(1)
		default:
		}
	}
}

func (s *Sink) run() {
	defer s.wg.Done()
	for {
		select {
		case n := <-s.queue:
			s.deliver(n)
		case <-s.done:
			return
		}
	}
}

func (s *Sink) deliver(n Notice) {
	s.mu.Lock()
	if len(s.history) >= s.historySize {
		copy(s.history, s.history[1:])
		s.history = s.history[:len(s.history)-1]
	}
	s.history = append(s.history, n)
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if sub.filter != nil && !sub.filter(n) {
			continue
		}
		s.safeInvoke(sub.handler, n)
	}
	s.delivered.Add(1)
}

func (s *Sink) safeInvoke(h Handler, n Notice) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Telemetry handler panicked",
				slog.String("event_id", n.EventID),
				slog.String("agent_state", n.AgentState),
				slog.Any("panic", r),
			)
		}
	}()
	h(n)
}

// Subscribe registers handler for notices of the given stages (all stages
// when none are given). It returns the subscription ID.
func (s *Sink) Subscribe(handler Handler, stages ...string) string {
	var filter Filter
	if len(stages) > 0 {
		set := make(map[string]struct{}, len(stages))
		for _, st := range stages {
			set[st] = struct{}{}
		}
		filter = func(n Notice) bool {
			_, ok := set[n.AgentState]
			return ok
		}
	}
	return s.SubscribeWithFilter(handler, filter)
}

// SubscribeWithFilter registers handler with an arbitrary filter.
func (s *Sink) SubscribeWithFilter(handler Handler, filter Filter) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.subs[id] = &subscription{id: id, handler: handler, filter: filter}
	s.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription and reports whether it existed.
func (s *Sink) Unsubscribe(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return false
	}
	delete(s.subs, id)
	return true
}

// Recent returns up to limit delivered notices, oldest first. limit <= 0
// returns the whole history.
func (s *Sink) Recent(limit int) []Notice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if limit > 0 && len(s.history) > limit {
		start = len(s.history) - limit
	}
	out := make([]Notice, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

// ForEvent returns delivered notices for one event ID.
func (s *Sink) ForEvent(eventID string) []Notice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Notice
	for _, n := range s.history {
		if n.EventID == eventID {
			out = append(out, n)
		}
	}
	return out
}

// Stats returns activity counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Emitted:   s.emitted.Load(),
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// Close stops delivery. Notices still queued are delivered until ctx is
// done; the rest are dropped.
func (s *Sink) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
	s.wg.Wait()

	for {
		select {
		case n := <-s.queue:
			if ctx.Err() != nil {
				s.dropped.Add(1)
				continue
			}
			s.deliver(n)
		default:
			return ctx.Err()
		}
	}
}

// =============================================================================
// Test and no-op emitters
// =============================================================================

// Nop discards everything.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(string, string, map[string]any, float64) {}

// Recorder stores notices synchronously. Used by tests.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Emit implements Emitter.
func (r *Recorder) Emit(stage, eventID string, details map[string]any, confidence float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, Notice{
		Timestamp:  time.Now().UTC(),
		AgentState: stage,
		EventID:    eventID,
		Details:    details,
		Confidence: confidence,
	})
}

// Notices returns a copy of everything recorded.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// ByStage returns recorded notices for one stage.
func (r *Recorder) ByStage(stage string) []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notice
	for _, n := range r.notices {
		if n.AgentState == stage {
			out = append(out, n)
		}
	}
	return out
}

var (
	_ Emitter = (*Sink)(nil)
	_ Emitter = Nop{}
	_ Emitter = (*Recorder)(nil)
)
