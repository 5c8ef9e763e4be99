// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
)

// Memory is a non-durable Backend for tests and replay.
type Memory struct {
	mu     sync.RWMutex
	events map[string]model.StoredEvent
	closed bool
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{events: make(map[string]model.StoredEvent)}
}

// Append implements Backend.
func (m *Memory) Append(ctx context.Context, ev model.StoredEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.events[ev.EventID] = ev
	return nil
}

// Get implements Backend.
func (m *Memory) Get(_ context.Context, eventID string) (model.StoredEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return model.StoredEvent{}, ErrClosed
	}
	ev, ok := m.events[eventID]
	if !ok {
		return model.StoredEvent{}, ErrNotFound
	}
	return ev, nil
}

// Recent implements Backend.
func (m *Memory) Recent(_ context.Context, limit int) ([]model.StoredEvent, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	out := make([]model.StoredEvent, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev)
	}
	m.mu.RUnlock()

	SortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close implements Backend.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SortNewestFirst orders events by Timestamp descending, EventID ascending
// on ties.
func SortNewestFirst(events []model.StoredEvent) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp > events[j].Timestamp
		}
		return events[i].EventID < events[j].EventID
	})
}

var _ Backend = (*Memory)(nil)
