// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package safety implements the confidence-gated circuit breaker that every
// decision passes before an action is dispatched.
package safety

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
)

// DefaultMinConfidence is the lowest confidence that may produce an action.
const DefaultMinConfidence = 0.7

// ErrInvalidThreshold is returned for thresholds outside [0, 1].
var ErrInvalidThreshold = errors.New("confidence threshold must be within [0, 1]")

// Verdict is the gate's answer for one decision.
type Verdict struct {
	ShipmentID string  `json:"shipment_id"`
	Allowed    bool    `json:"allowed"`
	Confidence float64 `json:"confidence"`
	Threshold  float64 `json:"threshold"`
	Reason     string  `json:"reason,omitempty"`
}

// Result summarizes a batch check.
type Result struct {
	Passed       bool      `json:"passed"`
	BlockedCount int       `json:"blocked_count"`
	Verdicts     []Verdict `json:"verdicts"`
}

// Stats counts gate outcomes since creation.
type Stats struct {
	Allowed int64 `json:"allowed"`
	Blocked int64 `json:"blocked"`
}

// Gate blocks decisions whose confidence is below a threshold.
//
// Thread Safety: safe for concurrent use. The threshold can be changed at
// runtime with SetMinConfidence.
type Gate struct {
	threshold atomic.Uint64 // math.Float64bits
	allowed   atomic.Int64
	blocked   atomic.Int64
}

// NewGate creates a gate with the given threshold.
func NewGate(minConfidence float64) (*Gate, error) {
	g := &Gate{}
	if err := g.SetMinConfidence(minConfidence); err != nil {
		return nil, err
	}
	return g, nil
}

// NewDefaultGate creates a gate at DefaultMinConfidence.
func NewDefaultGate() *Gate {
	g := &Gate{}
	g.threshold.Store(math.Float64bits(DefaultMinConfidence))
	return g
}

// MinConfidence returns the current threshold.
func (g *Gate) MinConfidence() float64 {
	return math.Float64frombits(g.threshold.Load())
}

// SetMinConfidence changes the threshold.
func (g *Gate) SetMinConfidence(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, v)
	}
	g.threshold.Store(math.Float64bits(v))
	return nil
}

// Allow reports whether decision may be acted on.
func (g *Gate) Allow(decision model.Decision) bool {
	return g.Evaluate(decision).Allowed
}

// Evaluate returns the full verdict for one decision and counts it.
func (g *Gate) Evaluate(decision model.Decision) Verdict {
	threshold := g.MinConfidence()
	v := Verdict{
		ShipmentID: decision.ShipmentID,
		Confidence: decision.Confidence,
		Threshold:  threshold,
		Allowed:    decision.Confidence >= threshold,
	}
	if v.Allowed {
		g.allowed.Add(1)
		return v
	}
	g.blocked.Add(1)
	v.Reason = fmt.Sprintf("BLOCKED: Confidence %.2f < %.2f. Circuit Breaker Activated.", decision.Confidence, threshold)
	return v
}

// Check evaluates every decision independently. Passed is true only when
// none were blocked; callers still act on the allowed ones.
func (g *Gate) Check(decisions []model.Decision) Result {
	res := Result{Passed: true, Verdicts: make([]Verdict, 0, len(decisions))}
	for _, d := range decisions {
		v := g.Evaluate(d)
		if !v.Allowed {
			res.Passed = false
			res.BlockedCount++
		}
		res.Verdicts = append(res.Verdicts, v)
	}
	return res
}

// Stats returns outcome counters.
func (g *Gate) Stats() Stats {
	return Stats{Allowed: g.allowed.Load(), Blocked: g.blocked.Load()}
}
