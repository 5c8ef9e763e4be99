// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package riskmatch decides which shipments a disruption event affects and
// scores their risk on a 0-100 scale.
//
// Direct location matches are the primary signal. When nothing matches
// directly and the event is severe enough, a bounded number of shipments
// is selected by inference and flagged so downstream stages can tell the
// two apart.
package riskmatch

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
)

const (
	// InferenceSeverityFloor is the minimum severity for the inference fallback.
	InferenceSeverityFloor = 5

	// MaxInferred bounds the number of shipments selected by inference.
	MaxInferred = 2

	// Perturbation bounds the random risk adjustment for inferred matches.
	Perturbation = 20

	// SensitiveCargoMultiplier scales risk for medical or perishable cargo.
	SensitiveCargoMultiplier = 1.5
)

// Source is the randomness used by the inference fallback.
type Source interface {
	// IntN returns a uniform integer in [0, n). n > 0.
	IntN(n int) int
}

// lockedRand makes a *rand.Rand safe for concurrent pipeline runs.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// NewSource returns a concurrency-safe PCG source. seed 0 seeds from the clock.
func NewSource(seed uint64) Source {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Matcher implements the Risk Matcher.
//
// Thread Safety: safe for concurrent use when its Source is.
type Matcher struct {
	src Source
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithSource sets the randomness source for inference.
func WithSource(src Source) Option {
	return func(m *Matcher) {
		if src != nil {
			m.src = src
		}
	}
}

// WithSeed uses a deterministic PCG source.
func WithSeed(seed uint64) Option {
	return func(m *Matcher) {
		m.src = NewSource(seed)
	}
}

// NewMatcher creates a Matcher with a clock-seeded source unless overridden.
func NewMatcher(opts ...Option) *Matcher {
	m := &Matcher{}
	for _, opt := range opts {
		opt(m)
	}
	if m.src == nil {
		m.src = NewSource(0)
	}
	return m
}

// Match returns the shipments affected by event.
//
// Description:
//
//	Each shipment whose normalized current location contains or is
//	contained by the normalized event location, or whose route ID contains
//	the event location, is a direct match scored
//	min(100, severity*10*multiplier). With no direct match, severity at or
//	above InferenceSeverityFloor, and a non-empty pool, up to MaxInferred
//	shipments are sampled and scored from the topic keyword plus a bounded
//	perturbation.
//
// Inputs:
//
//	event - The disruption event
//	shipments - Caller-owned snapshot list; never modified
//
// Outputs:
//
//	[]model.AffectedShipment - Possibly empty. Never nil-vs-empty significant.
func (m *Matcher) Match(event model.DisruptionEvent, shipments []model.ShipmentSnapshot) []model.AffectedShipment {
	loc := normalize(event.Location)
	affected := make([]model.AffectedShipment, 0)

	for _, s := range shipments {
		if !directMatch(loc, s) {
			continue
		}
		affected = append(affected, model.AffectedShipment{
			ShipmentSnapshot: s,
			RiskScore:        DirectRisk(event.Severity, s.CargoType),
			TriggerEventID:   event.EventID,
		})
	}

	if len(affected) > 0 || event.Severity < InferenceSeverityFloor || len(shipments) == 0 {
		return affected
	}
	return m.infer(event, shipments)
}

func (m *Matcher) infer(event model.DisruptionEvent, shipments []model.ShipmentSnapshot) []model.AffectedShipment {
	n := min(MaxInferred, len(shipments))
	picked := m.sample(len(shipments), n)
	base := TopicBaseRisk(event.Topic)
	note := fmt.Sprintf("Inferred impact from %s", event.Location)

	out := make([]model.AffectedShipment, 0, n)
	for _, idx := range picked {
		delta := m.src.IntN(2*Perturbation+1) - Perturbation
		out = append(out, model.AffectedShipment{
			ShipmentSnapshot: shipments[idx],
			RiskScore:        clamp(base+float64(delta), 0, 100),
			TriggerEventID:   event.EventID,
			InferenceNote:    note,
		})
	}
	return out
}

// sample picks k distinct indices from [0, n) with a partial Fisher-Yates.
func (m *Matcher) sample(n, k int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + m.src.IntN(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:k]
}

// DirectRisk scores a direct match.
func DirectRisk(severity int, cargoType string) float64 {
	multiplier := 1.0
	if IsSensitiveCargo(cargoType) {
		multiplier = SensitiveCargoMultiplier
	}
	return math.Min(100, float64(severity)*10*multiplier)
}

// IsSensitiveCargo reports medical or perishable cargo.
func IsSensitiveCargo(cargoType string) bool {
	c := normalize(cargoType)
	return strings.Contains(c, "medical") || strings.Contains(c, "perishable")
}

// TopicBaseRisk is the inference base score for an event topic.
func TopicBaseRisk(topic string) float64 {
	t := normalize(topic)
	switch {
	case strings.Contains(t, "strike"), strings.Contains(t, "blockage"):
		return 75
	case strings.Contains(t, "tariff"):
		return 55
	default:
		return 45
	}
}

func directMatch(eventLoc string, s model.ShipmentSnapshot) bool {
	if eventLoc == "" {
		return false
	}
	cur := normalize(s.CurrentLocation)
	if cur != "" && (strings.Contains(cur, eventLoc) || strings.Contains(eventLoc, cur)) {
		return true
	}
	return strings.Contains(normalize(s.RouteID), eventLoc)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
