// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics tracks detection and action latency per disruption event
// and derives MTTD, MTTA, and value-saved aggregates.
//
// State is sharded by event ID. Writers lock only the shard that owns their
// key; Snapshot walks the shards one at a time under read locks, so a
// snapshot never holds more than one shard and never stalls writers on
// other shards.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultUnitCost is the estimated cost of one day of delay.
	DefaultUnitCost = 50000.0

	// PreventedThresholdDays is the days-saved level above which an acted
	// event counts as a prevented disruption.
	PreventedThresholdDays = 2.0

	defaultShards = 32
)

// Event is the tracked state for one event ID.
type Event struct {
	OccurredAt time.Time
	DetectedAt time.Time
	ActionAt   time.Time // zero until acted
	DaysSaved  float64
}

// Acted reports whether an action was recorded.
func (e Event) Acted() bool {
	return !e.ActionAt.IsZero()
}

// Snapshot is the aggregate view returned by Tracker.Snapshot.
//
// MTTDSeconds and MTTASeconds are nil when there is no qualifying data,
// which is distinct from a measured zero latency.
type Snapshot struct {
	MTTDSeconds        *float64 `json:"mttd_seconds"`
	MTTASeconds        *float64 `json:"mtta_seconds"`
	EstimatedDaysSaved float64  `json:"estimated_days_saved"`
	EstimatedCostSaved float64  `json:"estimated_cost_saved"`
	EventsPrevented    int      `json:"events_prevented"`
	PredictedDelays    int      `json:"predicted_delays"`
	EventsSeen         int      `json:"events_seen"`
	ActionsTaken       int      `json:"actions_taken"`
}

type shard struct {
	mu     sync.RWMutex
	events map[string]Event
}

// Tracker implements the Metrics Tracker.
//
// Thread Safety: safe for concurrent use.
type Tracker struct {
	shards   []*shard
	unitCost atomic.Uint64 // math.Float64bits
	now      func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithUnitCost sets the cost of one day of delay.
func WithUnitCost(cost float64) Option {
	return func(t *Tracker) { t.unitCost.Store(math.Float64bits(cost)) }
}

// WithClock injects the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithShards overrides the shard count. Values below 1 are ignored.
func WithShards(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.shards = newShards(n)
		}
	}
}

// NewTracker creates an empty Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		shards: newShards(defaultShards),
		now:    time.Now,
	}
	t.unitCost.Store(math.Float64bits(DefaultUnitCost))
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// UnitCost returns the cost of one day of delay.
func (t *Tracker) UnitCost() float64 {
	return math.Float64frombits(t.unitCost.Load())
}

// SetUnitCost changes the cost used by later snapshots. Negative values are
// ignored.
func (t *Tracker) SetUnitCost(cost float64) {
	if cost < 0 {
		return
	}
	t.unitCost.Store(math.Float64bits(cost))
}

func newShards(n int) []*shard {
	s := make([]*shard, n)
	for i := range s {
		s[i] = &shard{events: make(map[string]Event)}
	}
	return s
}

func (t *Tracker) shardFor(eventID string) *shard {
	return t.shards[xxhash.Sum64String(eventID)%uint64(len(t.shards))]
}

// TrackDetection records that eventID was detected now.
//
// Repeated calls overwrite the previous entry, including any recorded
// action, so the latest detection is the only one that counts.
func (t *Tracker) TrackDetection(eventID string, occurredAt time.Time) {
	s := t.shardFor(eventID)
	now := t.now()
	s.mu.Lock()
	s.events[eventID] = Event{OccurredAt: occurredAt, DetectedAt: now}
	s.mu.Unlock()
}

// TrackAction records an action for eventID. Unknown IDs are ignored.
// It reports whether the event was known.
func (t *Tracker) TrackAction(eventID string, daysSaved float64) bool {
	s := t.shardFor(eventID)
	now := t.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok {
		return false
	}
	ev.ActionAt = now
	ev.DaysSaved = daysSaved
	s.events[eventID] = ev
	return true
}

// Get returns the tracked state for eventID.
func (t *Tracker) Get(eventID string) (Event, bool) {
	s := t.shardFor(eventID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[eventID]
	return ev, ok
}

// Evict drops events detected before cutoff and returns how many were removed.
func (t *Tracker) Evict(cutoff time.Time) int {
	removed := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for id, ev := range s.events {
			if ev.DetectedAt.Before(cutoff) {
				delete(s.events, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Snapshot computes aggregates over all tracked events.
//
// Description:
//
//	MTTD is the mean of DetectedAt-OccurredAt; MTTA is the mean of
//	ActionAt-DetectedAt over acted events. Negative deltas are excluded.
//	Latencies are rounded to 0.1 s and days saved to 0.1 day.
//
// Outputs:
//
//	Snapshot - Consistent per shard at read time.
func (t *Tracker) Snapshot() Snapshot {
	var (
		detectSum, actSum     float64
		detectCount, actCount int
		snap                  Snapshot
	)

	for _, s := range t.shards {
		s.mu.RLock()
		for _, ev := range s.events {
			snap.EventsSeen++
			if d := ev.DetectedAt.Sub(ev.OccurredAt).Seconds(); d >= 0 {
				detectSum += d
				detectCount++
			}
			if !ev.Acted() {
				snap.PredictedDelays++
				continue
			}
			snap.ActionsTaken++
			snap.EstimatedDaysSaved += ev.DaysSaved
			if ev.DaysSaved > PreventedThresholdDays {
				snap.EventsPrevented++
			}
			if d := ev.ActionAt.Sub(ev.DetectedAt).Seconds(); d >= 0 {
				actSum += d
				actCount++
			}
		}
		s.mu.RUnlock()
	}

	if detectCount > 0 {
		v := round1(detectSum / float64(detectCount))
		snap.MTTDSeconds = &v
	}
	if actCount > 0 {
		v := round1(actSum / float64(actCount))
		snap.MTTASeconds = &v
	}
	snap.EstimatedCostSaved = math.Round(snap.EstimatedDaysSaved * t.UnitCost())
	snap.EstimatedDaysSaved = round1(snap.EstimatedDaysSaved)
	return snap
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
