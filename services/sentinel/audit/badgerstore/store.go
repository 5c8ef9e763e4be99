// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badgerstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
)

// Key layout:
//
//	audit/evt/<event_id>              -> JSON StoredEvent
//	audit/ts/<8-byte ts><event_id>    -> empty (time index)
var (
	eventPrefix = []byte("audit/evt/")
	timePrefix  = []byte("audit/ts/")
)

// Store is an audit.Backend on BadgerDB.
//
// Thread Safety: safe for concurrent use. Each Append is one read-write
// transaction, retried on write conflicts.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	closed atomic.Bool
	once   sync.Once
}

// Open opens or creates the database described by cfg.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		gc, err := startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("start value log GC: %w", err)
		}
		s.gc = gc
	}
	return s, nil
}

// OpenInMemory opens a throwaway store.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

func eventKey(id string) []byte {
	return append(append([]byte{}, eventPrefix...), id...)
}

// timeKey orders non-negative epoch seconds. Negative timestamps are
// clamped to zero before they reach the index.
func timeKey(ts float64, id string) []byte {
	if ts < 0 || math.IsNaN(ts) {
		ts = 0
	}
	k := make([]byte, 0, len(timePrefix)+8+len(id))
	k = append(k, timePrefix...)
	k = binary.BigEndian.AppendUint64(k, math.Float64bits(ts))
	return append(k, id...)
}

// Append implements audit.Backend.
func (s *Store) Append(ctx context.Context, ev model.StoredEvent) error {
	if s.closed.Load() {
		return audit.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}

	for attempt := 0; ; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error { return upsert(txn, ev, val) })
		if !errors.Is(err, badger.ErrConflict) || attempt >= maxConflictRetries {
			return err
		}
	}
}

// maxConflictRetries bounds retries when two writers race on one event ID.
const maxConflictRetries = 5

func upsert(txn *badger.Txn, ev model.StoredEvent, val []byte) error {
	item, err := txn.Get(eventKey(ev.EventID))
	switch {
	case err == nil:
		var prev model.StoredEvent
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &prev) }); err != nil {
			return fmt.Errorf("decode previous record: %w", err)
		}
		if err := txn.Delete(timeKey(prev.Timestamp, prev.EventID)); err != nil {
			return err
		}
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}
	if err := txn.Set(eventKey(ev.EventID), val); err != nil {
		return err
	}
	return txn.Set(timeKey(ev.Timestamp, ev.EventID), nil)
}

// Get implements audit.Backend.
func (s *Store) Get(ctx context.Context, eventID string) (model.StoredEvent, error) {
	if s.closed.Load() {
		return model.StoredEvent{}, audit.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return model.StoredEvent{}, err
	}
	var ev model.StoredEvent
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(eventKey(eventID))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &ev) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.StoredEvent{}, audit.ErrNotFound
	}
	if err != nil {
		return model.StoredEvent{}, fmt.Errorf("get audit record: %w", err)
	}
	return ev, nil
}

// Recent implements audit.Backend by walking the time index backwards.
// Records sharing a timestamp are collected and ordered by EventID
// ascending, matching audit.SortNewestFirst.
func (s *Store) Recent(ctx context.Context, limit int) ([]model.StoredEvent, error) {
	if s.closed.Load() {
		return nil, audit.ErrClosed
	}
	var out []model.StoredEvent
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		opts.Prefix = timePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var (
			group   []model.StoredEvent
			groupTS []byte
		)
		flush := func() {
			audit.SortNewestFirst(group)
			out = append(out, group...)
			group = group[:0]
		}

		seek := append(append([]byte{}, timePrefix...), bytes.Repeat([]byte{0xff}, 9)...)
		for it.Seek(seek); it.ValidForPrefix(timePrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().Key()
			ts := key[len(timePrefix) : len(timePrefix)+8]
			if len(group) > 0 && !bytes.Equal(ts, groupTS) {
				flush()
				if limit > 0 && len(out) >= limit {
					break
				}
			}
			groupTS = append(groupTS[:0], ts...)

			id := key[len(timePrefix)+8:]
			item, err := txn.Get(eventKey(string(id)))
			if err != nil {
				return fmt.Errorf("time index points at missing record %q: %w", id, err)
			}
			var ev model.StoredEvent
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &ev) }); err != nil {
				return err
			}
			group = append(group, ev)
		}
		flush()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		if s.gc != nil {
			s.gc.stop()
		}
		err = s.db.Close()
	})
	return err
}

var _ audit.Backend = (*Store)(nil)
