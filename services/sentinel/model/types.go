// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the data types shared by the Sentinel decision
// pipeline: disruption events, shipment snapshots, decisions, and audit
// records.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidEvent indicates a DisruptionEvent failed validation.
	ErrInvalidEvent = errors.New("invalid disruption event")

	// ErrInvalidShipment indicates a ShipmentSnapshot failed validation.
	ErrInvalidShipment = errors.New("invalid shipment snapshot")
)

// =============================================================================
// Inputs
// =============================================================================

// DisruptionEvent is an immutable report of a real-world disruption.
//
// OccurredAt is epoch seconds. Zero means unknown; the pipeline substitutes
// the detection time.
type DisruptionEvent struct {
	EventID    string  `json:"event_id" yaml:"event_id" validate:"required"`
	OccurredAt float64 `json:"occurred_at,omitempty" yaml:"occurred_at" validate:"gte=0"`
	Topic      string  `json:"topic" yaml:"topic"`
	Location   string  `json:"location" yaml:"location"`
	Severity   int     `json:"severity" yaml:"severity" validate:"gte=1,lte=10"`
	Summary    string  `json:"summary" yaml:"summary"`
}

// ShipmentSnapshot is a read-only point-in-time view of one shipment.
type ShipmentSnapshot struct {
	ShipmentID      string `json:"shipment_id" yaml:"shipment_id" validate:"required"`
	RouteID         string `json:"route_id" yaml:"route_id"`
	CurrentLocation string `json:"current_location" yaml:"current_location"`
	Status          string `json:"status" yaml:"status"`
	ETADays         int    `json:"eta_days" yaml:"eta_days" validate:"gte=0"`
	CargoType       string `json:"cargo_type,omitempty" yaml:"cargo_type"`
}

var validate = validator.New()

// Validate checks required fields and ranges.
func (e DisruptionEvent) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

// Validate checks required fields and ranges.
func (s ShipmentSnapshot) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidShipment, err)
	}
	return nil
}

// Sanitize returns a copy with upstream data errors replaced by safe
// defaults: severity clamped to 1-10, negative occurrence time cleared,
// surrounding whitespace trimmed.
func (e DisruptionEvent) Sanitize() DisruptionEvent {
	out := e
	out.EventID = strings.TrimSpace(out.EventID)
	out.Location = strings.TrimSpace(out.Location)
	out.Topic = strings.TrimSpace(out.Topic)
	if out.Severity < 1 {
		out.Severity = 1
	}
	if out.Severity > 10 {
		out.Severity = 10
	}
	if out.OccurredAt < 0 {
		out.OccurredAt = 0
	}
	return out
}

// OccurredTime returns the occurrence time, or fallback when unknown.
func (e DisruptionEvent) OccurredTime(fallback time.Time) time.Time {
	if e.OccurredAt <= 0 {
		return fallback
	}
	return EpochToTime(e.OccurredAt)
}

// =============================================================================
// Derived, per-run values
// =============================================================================

// AffectedShipment is a shipment the Risk Matcher decided an event touches.
// It lives only for the duration of one pipeline run.
type AffectedShipment struct {
	ShipmentSnapshot
	RiskScore      float64 `json:"risk_score"`
	TriggerEventID string  `json:"trigger_event_id"`
	InferenceNote  string  `json:"inference_note,omitempty"`
}

// Inferred reports whether the match came from the inference fallback
// rather than a direct location match.
func (a AffectedShipment) Inferred() bool {
	return a.InferenceNote != ""
}

// AnalysisResult is the reasoning collaborator's impact assessment for one
// affected shipment.
type AnalysisResult struct {
	ShipmentID string `json:"shipment_id"`
	Text       string `json:"text"`
	Fallback   bool   `json:"fallback,omitempty"`
}

// Decision is the outcome of the DECIDE stage for one shipment.
type Decision struct {
	ShipmentID     string         `json:"shipment_id"`
	Recommendation Recommendation `json:"recommendation"`
	Risk           float64        `json:"risk"`
	Confidence     float64        `json:"confidence"`
	Fallback       bool           `json:"fallback,omitempty"`
}

// =============================================================================
// Audit record
// =============================================================================

// ActionKind is the audit label for an executed action.
type ActionKind string

const (
	ActionNone    ActionKind = ""
	ActionReroute ActionKind = "REROUTE"
	ActionAlert   ActionKind = "ALERT"
)

// StoredEvent is the durable audit record of an executed action, keyed by
// EventID. Timestamp is epoch seconds. Severity is the integer risk score
// of the decision that caused the action.
type StoredEvent struct {
	EventID     string     `json:"event_id"`
	Timestamp   float64    `json:"timestamp"`
	Location    string     `json:"location"`
	EventType   string     `json:"event_type"`
	Severity    int        `json:"severity"`
	ActionTaken ActionKind `json:"action_taken"`
	DaysSaved   float64    `json:"days_saved"`
}

// Time returns Timestamp as a time.Time.
func (s StoredEvent) Time() time.Time {
	return EpochToTime(s.Timestamp)
}

// EpochToTime converts fractional epoch seconds to time.Time.
func EpochToTime(sec float64) time.Time {
	whole := int64(sec)
	frac := sec - float64(whole)
	return time.Unix(whole, int64(frac*float64(time.Second)))
}

// TimeToEpoch converts a time.Time to fractional epoch seconds.
func TimeToEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
