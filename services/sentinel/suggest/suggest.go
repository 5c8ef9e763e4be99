// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package suggest ranks candidate mitigation actions for an event type,
// risk score and location. It is stateless.
package suggest

import (
	"fmt"
	"sort"
	"strings"
)

// MaxSuggestions caps the ranked list.
const MaxSuggestions = 5

// AutoExecuteMinConfidence is the confidence a suggestion must exceed to be
// executed without a human.
const AutoExecuteMinConfidence = 0.9

// Priority ranks urgency for display.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
)

// Suggestion is one candidate action.
type Suggestion struct {
	Action      string   `json:"action"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
	Priority    Priority `json:"priority"`
	AutoExecute bool     `json:"auto_execute"`
}

// Suggest returns at most MaxSuggestions suggestions ordered by confidence,
// highest first. Equal confidences keep insertion order.
func Suggest(eventType string, risk float64, location string) []Suggestion {
	var out []Suggestion

	if risk > 80 {
		out = append(out,
			Suggestion{
				Action:      "REROUTE_SHIPMENT",
				Description: fmt.Sprintf("Immediately reroute all shipments passing through %s", location),
				Confidence:  0.95,
				Priority:    PriorityCritical,
				AutoExecute: true,
			},
			Suggestion{
				Action:      "NOTIFY_STAKEHOLDERS",
				Description: "Send emergency alerts to all affected parties",
				Confidence:  0.92,
				Priority:    PriorityCritical,
				AutoExecute: true,
			})
	}
	if risk > 50 {
		out = append(out,
			Suggestion{
				Action:      "PRIORITIZE_CRITICAL",
				Description: "Expedite time-sensitive and perishable cargo",
				Confidence:  0.85,
				Priority:    PriorityHigh,
			},
			Suggestion{
				Action:      "SCHEDULE_ALTERNATIVE",
				Description: "Pre-book alternative transport routes",
				Confidence:  0.78,
				Priority:    PriorityHigh,
			})
	}

	kind := strings.ToLower(eventType)
	if strings.Contains(kind, "blockage") {
		out = append(out, Suggestion{
			Action:      "ACTIVATE_CAPE_ROUTE",
			Description: "Switch to Cape of Good Hope route for Suez-bound cargo",
			Confidence:  0.88,
			Priority:    PriorityHigh,
			AutoExecute: risk > 85,
		})
	}
	if strings.Contains(kind, "strike") {
		out = append(out, Suggestion{
			Action:      "DIVERT_TO_NEARBY_PORT",
			Description: "Redirect vessels to nearest operational port",
			Confidence:  0.82,
			Priority:    PriorityHigh,
		})
	}
	if strings.Contains(kind, "tariff") {
		out = append(out, Suggestion{
			Action:      "OPTIMIZE_CUSTOMS",
			Description: "Pre-clear documentation to minimize delays",
			Confidence:  0.75,
			Priority:    PriorityMedium,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	if len(out) > MaxSuggestions {
		out = out[:MaxSuggestions]
	}
	return out
}

// ShouldAutoExecute reports whether s may run without review.
func ShouldAutoExecute(s Suggestion) bool {
	return s.AutoExecute && s.Confidence > AutoExecuteMinConfidence
}
