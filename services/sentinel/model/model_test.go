// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecommendation(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		tag       SeverityTag
		rationale string
	}{
		{"critical prefix", "CRITICAL: REROUTE REQUIRED", TagCritical, "REROUTE REQUIRED"},
		{"warning prefix", "WARNING: ALERT ISSUED", TagWarning, "ALERT ISSUED"},
		{"advisory prefix", "ADVISORY: PROCEED WITH CAUTION", TagAdvisory, "PROCEED WITH CAUTION"},
		{"lowercase", "critical - take the Cape route", TagCritical, "take the Cape route"},
		{"markdown emphasis", "**WARNING**: alert the driver", TagWarning, "alert the driver"},
		{"leading whitespace", "  \nADVISORY: monitor", TagAdvisory, "monitor"},
		{"tag mentioned later", "Recommend CRITICAL reroute via Cape", TagCritical, "Recommend CRITICAL reroute via Cape"},
		{"severity order when several", "this is a warning, not critical", TagCritical, "this is a warning, not critical"},
		{"no tag", "Proceed as planned", TagAdvisory, "Proceed as planned"},
		{"empty", "", TagAdvisory, ""},
		{"tag only", "CRITICAL", TagCritical, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseRecommendation(tt.text)
			assert.Equal(t, tt.tag, got.Tag)
			assert.Equal(t, tt.rationale, got.Rationale)
			assert.True(t, got.Tag.IsValid())
		})
	}
}

func TestRecommendation_String(t *testing.T) {
	assert.Equal(t, "CRITICAL: REROUTE REQUIRED", Recommendation{Tag: TagCritical, Rationale: "REROUTE REQUIRED"}.String())
	assert.Equal(t, "WARNING", Recommendation{Tag: TagWarning}.String())
}

func TestRecommendation_JSONKeepsStructure(t *testing.T) {
	data, err := json.Marshal(Decision{
		ShipmentID:     "SHP_1",
		Recommendation: Recommendation{Tag: TagWarning, Rationale: "alert"},
		Risk:           60,
		Confidence:     0.95,
	})
	require.NoError(t, err)

	var decoded Decision
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, TagWarning, decoded.Recommendation.Tag)
	assert.Equal(t, "alert", decoded.Recommendation.Rationale)
}

func TestSeverityTag_IsValid(t *testing.T) {
	assert.True(t, TagCritical.IsValid())
	assert.False(t, SeverityTag("URGENT").IsValid())
}

func TestDisruptionEvent_Validate(t *testing.T) {
	valid := DisruptionEvent{EventID: "E1", Severity: 5, Location: "Suez Canal"}
	require.NoError(t, valid.Validate())

	missingID := valid
	missingID.EventID = ""
	err := missingID.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidEvent))

	badSeverity := valid
	badSeverity.Severity = 11
	assert.ErrorIs(t, badSeverity.Validate(), ErrInvalidEvent)
}

func TestShipmentSnapshot_Validate(t *testing.T) {
	require.NoError(t, ShipmentSnapshot{ShipmentID: "S1"}.Validate())
	assert.ErrorIs(t, ShipmentSnapshot{}.Validate(), ErrInvalidShipment)
	assert.ErrorIs(t, ShipmentSnapshot{ShipmentID: "S1", ETADays: -1}.Validate(), ErrInvalidShipment)
}

func TestDisruptionEvent_Sanitize(t *testing.T) {
	in := DisruptionEvent{EventID: " E1 ", Severity: 0, OccurredAt: -5, Location: " Rotterdam "}
	out := in.Sanitize()

	assert.Equal(t, "E1", out.EventID)
	assert.Equal(t, 1, out.Severity)
	assert.Equal(t, float64(0), out.OccurredAt)
	assert.Equal(t, "Rotterdam", out.Location)
	assert.Equal(t, " E1 ", in.EventID, "input must not be mutated")

	assert.Equal(t, 10, DisruptionEvent{Severity: 99}.Sanitize().Severity)
}

func TestDisruptionEvent_OccurredTime(t *testing.T) {
	now := time.Unix(1700000100, 0)
	assert.Equal(t, now, DisruptionEvent{}.OccurredTime(now))

	got := DisruptionEvent{OccurredAt: 1700000000.5}.OccurredTime(now)
	assert.Equal(t, int64(1700000000), got.Unix())
	assert.Equal(t, 500*time.Millisecond, time.Duration(got.Nanosecond()))
}

func TestEpochRoundTrip(t *testing.T) {
	ts := time.Unix(1700000000, 250_000_000)
	assert.InDelta(t, 1700000000.25, TimeToEpoch(ts), 1e-6)
	assert.Equal(t, ts.Unix(), EpochToTime(TimeToEpoch(ts)).Unix())
}

func TestAffectedShipment_Inferred(t *testing.T) {
	assert.False(t, AffectedShipment{}.Inferred())
	assert.True(t, AffectedShipment{InferenceNote: "Inferred impact from Suez"}.Inferred())
}
