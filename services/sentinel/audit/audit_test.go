// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit/audittest"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
)

func TestMemoryBackend(t *testing.T) {
	audittest.RunBackendTests(t, func(t *testing.T) audit.Backend {
		return audit.NewMemory()
	})
}

func ev(id string, ts float64, loc, typ string, sev int, action model.ActionKind, days float64) model.StoredEvent {
	return model.StoredEvent{
		EventID: id, Timestamp: ts, Location: loc, EventType: typ,
		Severity: sev, ActionTaken: action, DaysSaved: days,
	}
}

func TestStore_AppendRejectsEmptyID(t *testing.T) {
	s := audit.NewStore(audit.NewMemory())
	err := s.Append(context.Background(), model.StoredEvent{})
	assert.ErrorIs(t, err, audit.ErrInvalidRecord)
}

func TestStore_Trends(t *testing.T) {
	ctx := context.Background()
	s := audit.NewStore(audit.NewMemory())
	records := []model.StoredEvent{
		ev("E1", 1, "Suez Canal", "BLOCKAGE", 90, model.ActionReroute, 4.2),
		ev("E2", 2, "Rotterdam", "STRIKE", 60, model.ActionAlert, 0.5),
		ev("E3", 3, "Suez Canal", "BLOCKAGE", 95, model.ActionReroute, 4.2),
		ev("E4", 4, "Shanghai", "TARIFF", 55, model.ActionAlert, 0.5),
	}
	for _, r := range records {
		require.NoError(t, s.Append(ctx, r))
	}

	got, err := s.Trends(ctx)
	require.NoError(t, err)

	want := audit.Trends{
		TotalEvents: 4,
		Hotspots: []audit.Hotspot{
			{Location: "Suez Canal", Count: 2},
			{Location: "Shanghai", Count: 1},
			{Location: "Rotterdam", Count: 1},
		},
		ByType:      map[string]int{"BLOCKAGE": 2, "STRIKE": 1, "TARIFF": 1},
		AvgSeverity: 75,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Trends() mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_TrendsEmpty(t *testing.T) {
	got, err := audit.NewStore(audit.NewMemory()).Trends(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, got.TotalEvents)
	assert.Empty(t, got.Hotspots)
	assert.Zero(t, got.AvgSeverity)
}

func TestComputeTrends_HotspotCap(t *testing.T) {
	var events []model.StoredEvent
	for i := 0; i < 8; i++ {
		events = append(events, ev(fmt.Sprintf("E%d", i), float64(i), fmt.Sprintf("Port %d", i), "STRIKE", 50, model.ActionAlert, 0.5))
	}
	assert.Len(t, audit.ComputeTrends(events).Hotspots, audit.HotspotLimit)
}

func TestStore_Recurring(t *testing.T) {
	ctx := context.Background()
	s := audit.NewStore(audit.NewMemory())
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(ctx, ev(fmt.Sprintf("S%d", i), float64(10+i), "Suez Canal", "BLOCKAGE", 90, model.ActionReroute, 4.2)))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Append(ctx, ev(fmt.Sprintf("R%d", i), float64(i), "Rotterdam", "STRIKE", 60, model.ActionAlert, 0.5)))
	}

	got, err := s.Recurring(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Suez Canal"}, got)

	got, err = s.Recurring(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Suez Canal", "Rotterdam"}, got)
}

func TestComputeInsights_Empty(t *testing.T) {
	got := audit.ComputeInsights(nil)
	assert.Equal(t, []string{"Accumulating event memory..."}, got.Insights)
	assert.Equal(t, audit.ConfidenceTrend{Initial: 61, Current: 61}, got.ConfidenceTrend)
	assert.Zero(t, got.AdaptationScore)
}

func TestComputeInsights(t *testing.T) {
	events := []model.StoredEvent{
		ev("E3", 3, "Suez Canal", "BLOCKAGE", 95, model.ActionReroute, 4.2),
		ev("E2", 2, "Rotterdam", "STRIKE", 60, model.ActionAlert, 0.5),
		ev("E1", 1, "Suez Canal", "BLOCKAGE", 90, model.ActionReroute, 4.2),
	}
	got := audit.ComputeInsights(events)

	assert.Equal(t, []string{
		"Suez Canal risk frequency up 31% (detected 2x)",
		"Suez Canal events recurring every ~30 days",
		"BLOCKAGE is dominant threat (2 occurrences)",
		"System has learned from 3 prior interventions",
	}, got.Insights)
	assert.Equal(t, 62, got.ConfidenceTrend.Current)
	assert.Equal(t, 21, got.AdaptationScore)
	assert.Equal(t, []string{"Suez Canal"}, got.RecurringPatterns)
	assert.Equal(t, 3, got.EventsLearned)
	assert.Equal(t, 3, got.ActionsTaken)
	assert.Equal(t, 8.9, got.TotalDaysSaved)
}
