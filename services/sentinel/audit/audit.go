// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit keeps the durable record of executed actions and derives
// trend reports from it.
//
// Persistence is delegated to a Backend (BadgerDB in badgerstore, SQL in
// sqlstore, or the in-memory Memory backend). Store layers the reporting
// queries on top of any Backend.
package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
)

const (
	// TrendWindow is how many of the most recent records reports consider.
	TrendWindow = 500

	// HotspotLimit caps the hotspot list in Trends.
	HotspotLimit = 5

	// DefaultRecurringThreshold is the occurrence count that makes a
	// location recurring.
	DefaultRecurringThreshold = 3

	// DefaultRecentLimit is used when Recent is called with limit <= 0.
	DefaultRecentLimit = 100
)

var (
	// ErrNotFound is returned by Get for an unknown event ID.
	ErrNotFound = errors.New("audit record not found")

	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("audit store is closed")

	// ErrInvalidRecord is returned by Append for a record without an event ID.
	ErrInvalidRecord = errors.New("audit record requires an event_id")
)

// Backend persists StoredEvents keyed by EventID.
//
// Description:
//
//	Append is an atomic upsert: a second record with the same EventID
//	replaces the first in full. Recent returns records ordered by Timestamp,
//	newest first.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use.
type Backend interface {
	Append(ctx context.Context, ev model.StoredEvent) error
	Get(ctx context.Context, eventID string) (model.StoredEvent, error)
	Recent(ctx context.Context, limit int) ([]model.StoredEvent, error)
	Close() error
}

// Store is the audit trail used by the pipeline and the API.
type Store struct {
	backend Backend
}

// NewStore wraps backend.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Append validates and persists ev.
func (s *Store) Append(ctx context.Context, ev model.StoredEvent) error {
	if ev.EventID == "" {
		return ErrInvalidRecord
	}
	if err := s.backend.Append(ctx, ev); err != nil {
		return fmt.Errorf("append %s: %w", ev.EventID, err)
	}
	return nil
}

// Get returns the record for eventID or ErrNotFound.
func (s *Store) Get(ctx context.Context, eventID string) (model.StoredEvent, error) {
	return s.backend.Get(ctx, eventID)
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]model.StoredEvent, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return s.backend.Recent(ctx, limit)
}

// Trends reports frequencies over the last TrendWindow records.
func (s *Store) Trends(ctx context.Context) (Trends, error) {
	events, err := s.backend.Recent(ctx, TrendWindow)
	if err != nil {
		return Trends{}, err
	}
	return ComputeTrends(events), nil
}

// Recurring lists locations with at least threshold records in the window.
// threshold <= 0 uses DefaultRecurringThreshold.
func (s *Store) Recurring(ctx context.Context, threshold int) ([]string, error) {
	if threshold <= 0 {
		threshold = DefaultRecurringThreshold
	}
	events, err := s.backend.Recent(ctx, TrendWindow)
	if err != nil {
		return nil, err
	}
	return ComputeRecurring(events, threshold), nil
}

// Insights builds the adaptive summary over the window.
func (s *Store) Insights(ctx context.Context) (Insights, error) {
	events, err := s.backend.Recent(ctx, TrendWindow)
	if err != nil {
		return Insights{}, err
	}
	return ComputeInsights(events), nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
