// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package precedent

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
)

// History is the read side of the audit store.
type History interface {
	Recent(ctx context.Context, limit int) ([]model.StoredEvent, error)
}

// AuditSource matches the event location against the recent audit window.
type AuditSource struct {
	history  History
	maxCases int
}

// NewAuditSource builds a source over history. maxCases <= 0 keeps 5.
func NewAuditSource(history History, maxCases int) *AuditSource {
	if maxCases <= 0 {
		maxCases = 5
	}
	return &AuditSource{history: history, maxCases: maxCases}
}

// Lookup implements Source.
func (a *AuditSource) Lookup(ctx context.Context, event model.DisruptionEvent) (Summary, error) {
	records, err := a.history.Recent(ctx, audit.TrendWindow)
	if err != nil {
		return Summary{}, fmt.Errorf("read audit history: %w", err)
	}
	var cases []Case
	for _, r := range records {
		if r.EventID == event.EventID || !sameLocation(r.Location, event.Location) {
			continue
		}
		cases = append(cases, Case{
			EventID:     r.EventID,
			Location:    r.Location,
			EventType:   r.EventType,
			ActionTaken: r.ActionTaken,
			DaysSaved:   r.DaysSaved,
			Timestamp:   r.Timestamp,
		})
	}
	return Summarize(cases, a.maxCases), nil
}

var _ Source = (*AuditSource)(nil)
