// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/actions"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/reasoning"
)

// =============================================================================
// OBSERVE
// =============================================================================

type observeStage struct{ p *Pipeline }

func (s *observeStage) Name() string { return StateObserve.String() }

// Execute records detection, announces the event and matches shipments.
func (s *observeStage) Execute(_ context.Context, run *Run) error {
	p := s.p
	ev := run.Event

	run.DetectedAt = p.now()
	p.tracker.TrackDetection(ev.EventID, ev.OccurredTime(run.DetectedAt))

	p.emitter.Emit(StateObserve.String(), ev.EventID, map[string]any{
		"topic":    ev.Topic,
		"location": ev.Location,
	}, 1.0)

	run.Affected = p.matcher.Match(ev, run.Shipments)

	inferred := 0
	for _, a := range run.Affected {
		if a.Inferred() {
			inferred++
		}
	}
	p.logger.Info("Event observed",
		slog.String("event_id", ev.EventID),
		slog.Int("affected", len(run.Affected)),
		slog.Int("inferred", inferred))
	return nil
}

// =============================================================================
// RETRIEVE
// =============================================================================

type retrieveStage struct{ p *Pipeline }

func (s *retrieveStage) Name() string { return StateRetrieve.String() }

// Execute consults the precedent source when one is configured. Lookup
// failures are logged and the run continues without precedent.
func (s *retrieveStage) Execute(ctx context.Context, run *Run) error {
	p := s.p
	if len(run.Affected) == 0 {
		return nil
	}

	details := map[string]any{"context": "Querying historical precedents"}
	if p.precedents != nil {
		lctx, cancel := context.WithTimeout(ctx, p.reasoningTimeout)
		summary, err := p.precedents.Lookup(lctx, run.Event)
		cancel()
		if err != nil {
			p.logger.Warn("Precedent lookup failed",
				slog.String("event_id", run.Event.EventID),
				slog.String("error", err.Error()))
		} else {
			run.Precedent = summary
			for k, v := range summary.Details() {
				details[k] = v
			}
		}
	}

	p.emitter.Emit(StateRetrieve.String(), run.Event.EventID, details, 1.0)
	return nil
}

// =============================================================================
// ANALYZE
// =============================================================================

type analyzeStage struct{ p *Pipeline }

func (s *analyzeStage) Name() string { return StateAnalyze.String() }

// Execute assesses impact per shipment. Results are written by index so
// Analyses[i] always belongs to Affected[i].
func (s *analyzeStage) Execute(ctx context.Context, run *Run) error {
	p := s.p
	summary := eventSummary(run.Event)
	results := make([]model.AnalysisResult, len(run.Affected))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, shipment := range run.Affected {
		g.Go(func() error {
			p.emitter.Emit(StateAnalyze.String(), run.Event.EventID, map[string]any{
				"thought": fmt.Sprintf("Assessing impact on Shipment %s...", shipment.ShipmentID),
			}, 1.0)

			cctx, cancel := context.WithTimeout(ctx, p.reasoningTimeout)
			defer cancel()

			text, err := p.reasoner.AssessImpact(cctx, summary, shipment)
			if err == nil && text == "" {
				err = errors.New("empty impact assessment")
			}
			if err != nil {
				p.logger.Warn("Impact assessment failed, using fallback",
					slog.String("event_id", run.Event.EventID),
					slog.String("shipment_id", shipment.ShipmentID),
					slog.String("error", err.Error()))
				p.instruments.RecordFallback(ctx, "assess")
				results[i] = model.AnalysisResult{
					ShipmentID: shipment.ShipmentID,
					Text:       reasoning.FallbackAnalysis(summary, shipment.RouteID),
					Fallback:   true,
				}
				return nil
			}
			results[i] = model.AnalysisResult{ShipmentID: shipment.ShipmentID, Text: text}
			return nil
		})
	}
	_ = g.Wait()

	run.Analyses = results
	return nil
}

// =============================================================================
// DECIDE
// =============================================================================

type decideStage struct{ p *Pipeline }

func (s *decideStage) Name() string { return StateDecide.String() }

// Execute turns each analysis into a decision. Decision i depends only on
// Analyses[i].
func (s *decideStage) Execute(ctx context.Context, run *Run) error {
	p := s.p
	if len(run.Analyses) != len(run.Affected) {
		return fmt.Errorf("analyses (%d) do not match affected shipments (%d)", len(run.Analyses), len(run.Affected))
	}
	decisions := make([]model.Decision, len(run.Affected))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, shipment := range run.Affected {
		g.Go(func() error {
			risk := shipment.RiskScore
			confidence := p.confidence(shipment)

			cctx, cancel := context.WithTimeout(ctx, p.reasoningTimeout)
			defer cancel()

			rec, err := p.reasoner.RecommendAction(cctx, run.Analyses[i].Text, risk)
			if err == nil && !rec.Tag.IsValid() {
				err = fmt.Errorf("unrecognized recommendation %q", rec.String())
			}
			fallback := false
			if err != nil {
				p.logger.Warn("Recommendation failed, using fallback",
					slog.String("event_id", run.Event.EventID),
					slog.String("shipment_id", shipment.ShipmentID),
					slog.String("error", err.Error()))
				p.instruments.RecordFallback(ctx, "recommend")
				rec = reasoning.FallbackRecommendation(risk)
				fallback = true
			}

			decisions[i] = model.Decision{
				ShipmentID:     shipment.ShipmentID,
				Recommendation: rec,
				Risk:           risk,
				Confidence:     confidence,
				Fallback:       fallback,
			}
			p.instruments.RecordDecision(ctx, rec.Tag.String(), fallback)
			p.emitter.Emit(StateDecide.String(), run.Event.EventID, map[string]any{
				"action": rec.String(),
				"risk":   risk,
			}, confidence)
			return nil
		})
	}
	_ = g.Wait()

	run.Decisions = decisions
	return nil
}

// =============================================================================
// ACT
// =============================================================================

type actStage struct{ p *Pipeline }

func (s *actStage) Name() string { return StateAct.String() }

// plan is the action implied by a recommendation tag.
type plan struct {
	kind      actions.Kind
	target    string
	message   string
	action    model.ActionKind
	daysSaved float64
	result    string
}

func planFor(d model.Decision) (plan, bool) {
	switch d.Recommendation.Tag {
	case model.TagCritical:
		return plan{
			kind:      actions.KindEmail,
			target:    EmailTarget,
			message:   "URGENT: " + d.ShipmentID + "\n\n" + d.Recommendation.String(),
			action:    model.ActionReroute,
			daysSaved: RerouteDaysSaved,
			result:    "AUTO-REROUTE for " + d.ShipmentID,
		}, true
	case model.TagWarning:
		return plan{
			kind:      actions.KindChat,
			target:    ChatTarget,
			message:   "Warning: " + d.ShipmentID + "\n" + d.Recommendation.String(),
			action:    model.ActionAlert,
			daysSaved: AlertDaysSaved,
			result:    "ALERT SENT for " + d.ShipmentID,
		}, true
	default:
		return plan{}, false
	}
}

// Execute gates and dispatches decisions concurrently, then records
// tracker and audit updates in decision order so the last audited
// shipment of a run is deterministic.
func (s *actStage) Execute(ctx context.Context, run *Run) error {
	p := s.p
	eventID := run.Event.EventID
	outcomes := make([]ActionOutcome, len(run.Decisions))
	plans := make([]plan, len(run.Decisions))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, d := range run.Decisions {
		g.Go(func() error {
			out := &outcomes[i]
			out.ShipmentID = d.ShipmentID
			out.Verdict = p.gate.Evaluate(d)

			if !out.Verdict.Allowed {
				p.instruments.RecordGateBlock(ctx)
				p.logger.Info("Safety gate blocked action",
					slog.String("event_id", eventID),
					slog.String("shipment_id", d.ShipmentID),
					slog.Float64("confidence", d.Confidence),
					slog.Float64("threshold", out.Verdict.Threshold),
					slog.Bool("blocked", true))
				p.emitter.Emit(StateAct.String(), eventID, map[string]any{
					"result": fmt.Sprintf("BLOCKED: Confidence %.2f < %.2f. Circuit Breaker Activated.",
						d.Confidence, out.Verdict.Threshold),
				}, d.Confidence)
				return nil
			}

			pl, ok := planFor(d)
			if !ok {
				return nil
			}
			plans[i] = pl
			out.Kind = pl.kind
			out.Action = pl.action

			status, err := p.dispatch(ctx, pl.kind, pl.target, pl.message)
			out.Status = status
			p.instruments.RecordAction(ctx, string(pl.kind), err == nil)
			if err != nil {
				out.Err = err
				p.emitter.Emit(StateAct.String(), eventID, map[string]any{
					"result": fmt.Sprintf("DISPATCH FAILED for %s", d.ShipmentID),
					"error":  err.Error(),
				}, d.Confidence)
				return nil
			}
			out.Dispatched = true
			out.DaysSaved = pl.daysSaved

			if pl.action == model.ActionReroute {
				p.updateERP(ctx, eventID, d.ShipmentID)
			}
			return nil
		})
	}
	_ = g.Wait()

	// An action that went out must be recorded even if the caller has
	// since gone away.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	for i := range outcomes {
		out := &outcomes[i]
		if !out.Dispatched {
			continue
		}
		d := run.Decisions[i]
		p.tracker.TrackAction(eventID, out.DaysSaved)

		record := model.StoredEvent{
			EventID:     eventID,
			Timestamp:   model.TimeToEpoch(p.now()),
			Location:    orDefault(run.Event.Location, unknownLocation),
			EventType:   orDefault(run.Event.Topic, unknownEventTopic),
			Severity:    int(d.Risk),
			ActionTaken: out.Action,
			DaysSaved:   out.DaysSaved,
		}
		if err := p.audit.Append(rctx, record); err != nil {
			p.instruments.RecordAuditFailure(rctx)
			p.logger.Error("Audit append failed",
				slog.String("event_id", eventID),
				slog.String("shipment_id", d.ShipmentID),
				slog.String("action", string(out.Action)),
				slog.String("error", err.Error()))
			out.Err = errors.Join(out.Err, fmt.Errorf("audit append: %w", err))
		} else {
			out.Record = &record
			p.recordPrecedent(rctx, record)
		}

		p.emitter.Emit(StateAct.String(), eventID, map[string]any{
			"result": plans[i].result,
		}, d.Confidence)
	}

	run.Outcomes = outcomes
	return nil
}

func (p *Pipeline) dispatch(ctx context.Context, kind actions.Kind, target, message string) (string, error) {
	dctx, cancel := context.WithTimeout(ctx, p.actionTimeout)
	defer cancel()
	return p.executor.Dispatch(dctx, kind, target, message)
}

// updateERP marks a rerouted shipment in the ERP. Failures are logged only.
func (p *Pipeline) updateERP(ctx context.Context, eventID, shipmentID string) {
	status, err := p.dispatch(ctx, actions.KindERP, shipmentID, ERPRerouteStatus)
	p.instruments.RecordAction(ctx, string(actions.KindERP), err == nil)
	if err != nil {
		p.logger.Warn("ERP status update failed",
			slog.String("event_id", eventID),
			slog.String("shipment_id", shipmentID),
			slog.String("error", err.Error()))
		return
	}
	p.logger.Debug("ERP status updated",
		slog.String("shipment_id", shipmentID),
		slog.String("status", status))
}

func (p *Pipeline) recordPrecedent(ctx context.Context, record model.StoredEvent) {
	if p.recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, p.reasoningTimeout)
	defer cancel()
	if err := p.recorder.Record(rctx, record); err != nil {
		p.logger.Warn("Precedent record failed",
			slog.String("event_id", record.EventID),
			slog.String("error", err.Error()))
	}
}

func eventSummary(ev model.DisruptionEvent) string {
	if ev.Summary != "" {
		return ev.Summary
	}
	return fmt.Sprintf("%s at %s", orDefault(ev.Topic, "Disruption"), orDefault(ev.Location, "unknown location"))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
