// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audittest holds the behavioral tests every audit.Backend must pass.
package audittest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
)

// Factory opens a fresh, empty backend. The test closes it.
type Factory func(t *testing.T) audit.Backend

// Record builds a StoredEvent with the given id and timestamp.
func Record(id string, ts float64) model.StoredEvent {
	return model.StoredEvent{
		EventID:     id,
		Timestamp:   ts,
		Location:    "Suez Canal",
		EventType:   "BLOCKAGE",
		Severity:    90,
		ActionTaken: model.ActionReroute,
		DaysSaved:   4.2,
	}
}

// RunBackendTests exercises upsert, lookup, ordering and close semantics.
func RunBackendTests(t *testing.T, newBackend Factory) {
	t.Helper()
	ctx := context.Background()

	t.Run("append and get", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()

		want := Record("EVT_1", 1700000000.5)
		require.NoError(t, b.Append(ctx, want))

		got, err := b.Get(ctx, "EVT_1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("get missing", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()

		_, err := b.Get(ctx, "nope")
		assert.ErrorIs(t, err, audit.ErrNotFound)
	})

	t.Run("upsert replaces the whole record", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()

		first := Record("EVT_1", 100)
		second := first
		second.Timestamp = 200
		second.ActionTaken = model.ActionAlert
		second.DaysSaved = 0.5
		second.Location = "Rotterdam"

		require.NoError(t, b.Append(ctx, first))
		require.NoError(t, b.Append(ctx, second))

		got, err := b.Get(ctx, "EVT_1")
		require.NoError(t, err)
		assert.Equal(t, second, got)

		recent, err := b.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.Equal(t, second, recent[0])
	})

	t.Run("recent is newest first and limited", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()

		for i, ts := range []float64{300, 100, 500, 200, 400} {
			require.NoError(t, b.Append(ctx, Record(fmt.Sprintf("EVT_%d", i), ts)))
		}

		recent, err := b.Recent(ctx, 3)
		require.NoError(t, err)
		require.Len(t, recent, 3)
		assert.Equal(t, 500.0, recent[0].Timestamp)
		assert.Equal(t, 400.0, recent[1].Timestamp)
		assert.Equal(t, 300.0, recent[2].Timestamp)
	})

	t.Run("equal timestamps order by event id", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()

		for _, r := range []model.StoredEvent{
			Record("EVT_B", 100), Record("EVT_C", 200), Record("EVT_A", 100),
			Record("EVT_E", 200), Record("EVT_D", 50),
		} {
			require.NoError(t, b.Append(ctx, r))
		}

		recent, err := b.Recent(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"EVT_C", "EVT_E", "EVT_A", "EVT_B", "EVT_D"}, eventIDs(recent))

		recent, err = b.Recent(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"EVT_C", "EVT_E", "EVT_A"}, eventIDs(recent))
	})

	t.Run("concurrent appends", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, b.Append(ctx, Record(fmt.Sprintf("EVT_%02d", i), float64(i))))
			}(i)
		}
		wg.Wait()

		recent, err := b.Recent(ctx, 100)
		require.NoError(t, err)
		assert.Len(t, recent, 20)
	})

	t.Run("closed backend", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Close())

		err := b.Append(ctx, Record("EVT_1", 1))
		assert.ErrorIs(t, err, audit.ErrClosed)
	})
}

func eventIDs(events []model.StoredEvent) []string {
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.EventID
	}
	return ids
}
