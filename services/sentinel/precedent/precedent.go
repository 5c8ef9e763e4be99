// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package precedent looks up how similar past disruptions were handled. The
// RETRIEVE stage attaches the result to its telemetry; it never changes a
// decision.
package precedent

import (
	"context"
	"strings"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
)

// Case is one past action.
type Case struct {
	EventID     string           `json:"event_id"`
	Location    string           `json:"location"`
	EventType   string           `json:"event_type"`
	ActionTaken model.ActionKind `json:"action_taken"`
	DaysSaved   float64          `json:"days_saved"`
	Timestamp   float64          `json:"timestamp"`
}

// Summary aggregates the cases found for an event.
type Summary struct {
	Count      int              `json:"count"`
	LastAction model.ActionKind `json:"last_action,omitempty"`
	DaysSaved  float64          `json:"days_saved"`
	Cases      []Case           `json:"cases,omitempty"`
}

// Details renders s as telemetry details.
func (s Summary) Details() map[string]any {
	d := map[string]any{
		"precedents": s.Count,
		"days_saved": s.DaysSaved,
	}
	if s.LastAction != model.ActionNone {
		d["last_action"] = string(s.LastAction)
	}
	return d
}

// Source finds precedents for an event.
type Source interface {
	Lookup(ctx context.Context, event model.DisruptionEvent) (Summary, error)
}

// Recorder is implemented by sources that learn from new actions.
type Recorder interface {
	Record(ctx context.Context, ev model.StoredEvent) error
}

// Summarize builds a Summary from cases ordered newest first, keeping at
// most maxCases of them.
func Summarize(cases []Case, maxCases int) Summary {
	s := Summary{Count: len(cases)}
	for _, c := range cases {
		s.DaysSaved += c.DaysSaved
	}
	if len(cases) > 0 {
		s.LastAction = cases[0].ActionTaken
	}
	if maxCases > 0 && len(cases) > maxCases {
		cases = cases[:maxCases]
	}
	s.Cases = cases
	return s
}

func sameLocation(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
