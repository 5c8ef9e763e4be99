// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs one disruption event through the decision state
// machine: OBSERVE → RETRIEVE → ANALYZE → DECIDE → ACT.
//
// Each run is independent. Collaborator failures degrade per shipment and
// never fail the run; Run returns an error only for invalid input.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/actions"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/metrics"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/observability"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/precedent"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/reasoning"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/riskmatch"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/safety"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/telemetry"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrNilContext is returned when Run receives a nil context.
	ErrNilContext = errors.New("context must not be nil")

	// ErrInvalidEvent is returned when the event fails validation after
	// sanitizing. It matches model.ErrInvalidEvent.
	ErrInvalidEvent = model.ErrInvalidEvent

	// ErrInvalidTransition is returned for a transition not in TransitionTable.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrStageNotFound is returned when no executor is registered for a state.
	ErrStageNotFound = errors.New("no stage registered for state")
)

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultConcurrency bounds per-shipment fan-out inside a stage.
	DefaultConcurrency = 8

	// DefaultReasoningTimeout bounds each reasoning collaborator call.
	DefaultReasoningTimeout = 30 * time.Second

	// DefaultActionTimeout bounds each action dispatch.
	DefaultActionTimeout = 15 * time.Second

	// recordTimeout bounds tracker, audit and precedent writes after a
	// dispatch. These run detached from the caller's context.
	recordTimeout = 10 * time.Second

	// HighConfidence is assigned to decisions below ExtremeRisk.
	HighConfidence = 0.95

	// ReducedConfidence is assigned at or above ExtremeRisk.
	ReducedConfidence = 0.85

	// ExtremeRisk is the risk score from which confidence is reduced.
	ExtremeRisk = 90.0

	// Action targets and days-saved estimates per recommendation tag.
	EmailTarget       = "logistics@company.com"
	ChatTarget        = "#alerts"
	RerouteDaysSaved  = 4.2
	AlertDaysSaved    = 0.5
	ERPRerouteStatus  = "REROUTED"
	unknownLocation   = "Unknown"
	unknownEventTopic = "UNKNOWN"
)

// DefaultConfidence returns the decision confidence for a risk score.
func DefaultConfidence(shipment model.AffectedShipment) float64 {
	if shipment.RiskScore < ExtremeRisk {
		return HighConfidence
	}
	return ReducedConfidence
}

// =============================================================================
// Collaborator contracts
// =============================================================================

// Matcher finds the shipments an event affects.
type Matcher interface {
	Match(event model.DisruptionEvent, shipments []model.ShipmentSnapshot) []model.AffectedShipment
}

// Tracker records detection and action times.
type Tracker interface {
	TrackDetection(eventID string, occurredAt time.Time)
	TrackAction(eventID string, daysSaved float64) bool
}

// AuditWriter persists one record per executed action.
type AuditWriter interface {
	Append(ctx context.Context, ev model.StoredEvent) error
}

// Gate vetoes low-confidence decisions.
type Gate interface {
	Evaluate(decision model.Decision) safety.Verdict
}

// =============================================================================
// Run data
// =============================================================================

// Transition is one recorded state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// ActionOutcome is what ACT did for one decision.
type ActionOutcome struct {
	ShipmentID string             `json:"shipment_id"`
	Verdict    safety.Verdict     `json:"verdict"`
	Kind       actions.Kind       `json:"kind,omitempty"`
	Action     model.ActionKind   `json:"action,omitempty"`
	Status     string             `json:"status,omitempty"`
	Dispatched bool               `json:"dispatched"`
	DaysSaved  float64            `json:"days_saved,omitempty"`
	Record     *model.StoredEvent `json:"record,omitempty"`

	// Err is a dispatch or audit failure for this shipment. It never
	// undoes a completed dispatch.
	Err error `json:"-"`
}

// Run is the mutable state of one pipeline run. Stages read and write it.
type Run struct {
	ID         string
	Event      model.DisruptionEvent
	Shipments  []model.ShipmentSnapshot
	StartedAt  time.Time
	DetectedAt time.Time
	State      State

	Affected  []model.AffectedShipment
	Precedent precedent.Summary
	Analyses  []model.AnalysisResult
	Decisions []model.Decision
	Outcomes  []ActionOutcome
	History   []Transition
}

// RunResult is the caller-facing summary of a finished run.
type RunResult struct {
	RunID       string                   `json:"run_id"`
	EventID     string                   `json:"event_id"`
	FinalState  State                    `json:"final_state"`
	Path        []State                  `json:"path"`
	Affected    []model.AffectedShipment `json:"affected"`
	Precedent   precedent.Summary        `json:"precedent"`
	Analyses    []model.AnalysisResult   `json:"analyses"`
	Decisions   []model.Decision         `json:"decisions"`
	Outcomes    []ActionOutcome          `json:"outcomes"`
	History     []Transition             `json:"history"`
	Duration    time.Duration            `json:"duration"`
	Interrupted bool                     `json:"interrupted,omitempty"`
}

// Dispatched counts outcomes whose action went out.
func (r *RunResult) Dispatched() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Dispatched {
			n++
		}
	}
	return n
}

// Blocked counts outcomes vetoed by the safety gate.
func (r *RunResult) Blocked() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Verdict.Allowed {
			n++
		}
	}
	return n
}

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline wires collaborators to the stage registry.
//
// Thread Safety: Run is safe for concurrent use once the pipeline is built.
type Pipeline struct {
	matcher     Matcher
	tracker     Tracker
	reasoner    reasoning.Collaborator
	executor    actions.Executor
	gate        Gate
	audit       AuditWriter
	emitter     telemetry.Emitter
	precedents  precedent.Source
	recorder    precedent.Recorder
	confidence  func(model.AffectedShipment) float64
	instruments *observability.Instruments
	logger      *slog.Logger
	now         func() time.Time

	concurrency      int
	reasoningTimeout time.Duration
	actionTimeout    time.Duration

	registry     *StageRegistry
	stateMachine *StateMachine
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMatcher sets the Risk Matcher.
func WithMatcher(m Matcher) Option { return func(p *Pipeline) { p.matcher = m } }

// WithTracker sets the Metrics Tracker.
func WithTracker(t Tracker) Option { return func(p *Pipeline) { p.tracker = t } }

// WithReasoner sets the reasoning collaborator.
func WithReasoner(r reasoning.Collaborator) Option { return func(p *Pipeline) { p.reasoner = r } }

// WithExecutor sets the action executor.
func WithExecutor(e actions.Executor) Option { return func(p *Pipeline) { p.executor = e } }

// WithGate sets the safety gate.
func WithGate(g Gate) Option { return func(p *Pipeline) { p.gate = g } }

// WithAudit sets the audit writer.
func WithAudit(a AuditWriter) Option { return func(p *Pipeline) { p.audit = a } }

// WithEmitter sets the telemetry emitter.
func WithEmitter(e telemetry.Emitter) Option { return func(p *Pipeline) { p.emitter = e } }

// WithPrecedent sets the RETRIEVE-stage precedent source. When the source
// also implements precedent.Recorder, audited actions are recorded to it.
func WithPrecedent(s precedent.Source) Option {
	return func(p *Pipeline) {
		p.precedents = s
		if r, ok := s.(precedent.Recorder); ok {
			p.recorder = r
		}
	}
}

// WithConfidence replaces DefaultConfidence.
func WithConfidence(fn func(model.AffectedShipment) float64) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.confidence = fn
		}
	}
}

// WithInstruments enables OpenTelemetry metrics.
func WithInstruments(i *observability.Instruments) Option {
	return func(p *Pipeline) { p.instruments = i }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithConcurrency bounds per-shipment fan-out. Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithReasoningTimeout bounds each reasoning call.
func WithReasoningTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.reasoningTimeout = d
		}
	}
}

// WithActionTimeout bounds each dispatch.
func WithActionTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.actionTimeout = d
		}
	}
}

// WithStage replaces the executor for one state.
func WithStage(state State, executor StageExecutor) Option {
	return func(p *Pipeline) { p.registry.Register(state, executor) }
}

// New builds a pipeline.
//
// Description:
//
//	Unset collaborators get in-process defaults: a time-seeded matcher, a
//	fresh tracker, the static reasoner, a dry-run action router, the
//	default safety gate, an in-memory audit store and a no-op emitter.
//	The five standard stages are registered before options run, so
//	WithStage can replace any of them.
//
// Outputs:
//
//	*Pipeline - Ready to Run.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		matcher:          riskmatch.NewMatcher(),
		tracker:          metrics.NewTracker(),
		reasoner:         reasoning.Static{},
		executor:         actions.NewRouter(),
		gate:             safety.NewDefaultGate(),
		audit:            audit.NewStore(audit.NewMemory()),
		emitter:          telemetry.Nop{},
		confidence:       DefaultConfidence,
		logger:           slog.Default(),
		now:              time.Now,
		concurrency:      DefaultConcurrency,
		reasoningTimeout: DefaultReasoningTimeout,
		actionTimeout:    DefaultActionTimeout,
		registry:         NewStageRegistry(),
		stateMachine:     DefaultStateMachine,
	}
	p.registry.Register(StateObserve, &observeStage{p: p})
	p.registry.Register(StateRetrieve, &retrieveStage{p: p})
	p.registry.Register(StateAnalyze, &analyzeStage{p: p})
	p.registry.Register(StateDecide, &decideStage{p: p})
	p.registry.Register(StateAct, &actStage{p: p})

	for _, opt := range opts {
		opt(p)
	}
	if p.emitter == nil {
		p.emitter = telemetry.Nop{}
	}
	return p
}

// Registry exposes the stage registry.
func (p *Pipeline) Registry() *StageRegistry {
	return p.registry
}

// Run executes the pipeline for one event.
//
// Description:
//
//	Sanitizes the event, drops shipments without an ID, then drives the
//	state machine from OBSERVE until END. Cancellation of ctx stops the run
//	at the next stage boundary and marks the result Interrupted.
//
// Inputs:
//
//	ctx - Bounds every collaborator call. Must not be nil.
//	event - The disruption event.
//	shipments - Snapshot of active shipments.
//
// Outputs:
//
//	*RunResult - What every stage produced.
//	error - ErrNilContext, ErrInvalidEvent or ErrStageNotFound.
//
// Thread Safety: Safe for concurrent use.
func (p *Pipeline) Run(ctx context.Context, event model.DisruptionEvent, shipments []model.ShipmentSnapshot) (*RunResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	event = event.Sanitize()
	if err := event.Validate(); err != nil {
		return nil, err
	}

	run := &Run{
		ID:        uuid.NewString(),
		Event:     event,
		Shipments: p.validShipments(event.EventID, shipments),
		StartedAt: p.now(),
		State:     StateObserve,
	}

	ctx, span := observability.StartSpan(ctx, "Pipeline.Run", trace.WithAttributes(
		attribute.String("run_id", run.ID),
		attribute.String("event_id", event.EventID),
		attribute.Int("shipments", len(run.Shipments)),
	))
	defer span.End()

	logger := p.logger.With(slog.String("run_id", run.ID), slog.String("event_id", event.EventID))
	logger.Info("Pipeline run started",
		slog.String("location", event.Location),
		slog.String("topic", event.Topic),
		slog.Int("severity", event.Severity),
		slog.Int("shipments", len(run.Shipments)))

	path := []State{StateObserve}
	interrupted, failed := false, false

	for !run.State.IsTerminal() {
		if err := ctx.Err(); err != nil {
			logger.Warn("Pipeline run interrupted",
				slog.String("state", run.State.String()),
				slog.String("error", err.Error()))
			interrupted = true
			break
		}

		stage, ok := p.registry.Get(run.State)
		if !ok {
			err := fmt.Errorf("%w: %s", ErrStageNotFound, run.State)
			observability.RecordError(span, err)
			return nil, err
		}

		start := time.Now()
		stageErr := p.executeStage(ctx, stage, run)
		p.instruments.RecordStage(ctx, run.State.String(), time.Since(start))

		var next State
		var reason string
		if stageErr != nil {
			logger.Error("Pipeline stage failed",
				slog.String("stage", stage.Name()),
				slog.String("error", stageErr.Error()))
			observability.RecordError(span, stageErr)
			failed = true
			next, reason = StateEnd, "stage failed: "+stageErr.Error()
		} else {
			var err error
			next, err = Next(run.State, RunState{Affected: len(run.Affected)})
			if err != nil {
				logger.Error("State transition failed", slog.String("error", err.Error()))
				break
			}
			reason = TransitionReason(run.State, next)
		}

		p.transition(logger, run, next, reason, stageErr != nil)
		path = append(path, next)
	}

	result := &RunResult{
		RunID:       run.ID,
		EventID:     event.EventID,
		FinalState:  run.State,
		Path:        path,
		Affected:    run.Affected,
		Precedent:   run.Precedent,
		Analyses:    run.Analyses,
		Decisions:   run.Decisions,
		Outcomes:    run.Outcomes,
		History:     run.History,
		Duration:    p.now().Sub(run.StartedAt),
		Interrupted: interrupted,
	}

	p.instruments.RecordRun(ctx, runPathLabel(interrupted, failed, len(run.Affected)), result.Duration)
	span.SetAttributes(
		attribute.String("final_state", run.State.String()),
		attribute.Int("affected", len(run.Affected)),
		attribute.Int("dispatched", result.Dispatched()))

	logger.Info("Pipeline run finished",
		slog.String("final_state", run.State.String()),
		slog.Int("affected", len(run.Affected)),
		slog.Int("dispatched", result.Dispatched()),
		slog.Int("blocked", result.Blocked()),
		slog.Duration("duration", result.Duration))

	return result, nil
}

// runPathLabel classifies a finished run for the runs counter.
func runPathLabel(interrupted, failed bool, affected int) string {
	switch {
	case interrupted:
		return "interrupted"
	case failed:
		return "failed"
	case affected == 0:
		return "no_match"
	default:
		return "acted"
	}
}

// executeStage runs one stage in its own span, converting a panic into an
// error so a faulty stage cannot take the process down.
func (p *Pipeline) executeStage(ctx context.Context, stage StageExecutor, run *Run) (err error) {
	ctx, span := observability.StartSpan(ctx, "Pipeline.Stage."+stage.Name())
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", stage.Name(), r)
		}
		observability.RecordError(span, err)
	}()
	return stage.Execute(ctx, run)
}

// transition moves run to next. A stage failure forces END, which the
// table does not list for every state, so validation is skipped then.
func (p *Pipeline) transition(logger *slog.Logger, run *Run, next State, reason string, forced bool) {
	from := run.State
	if !forced {
		if err := p.stateMachine.Validate(from, next); err != nil {
			logger.Error("State transition failed", slog.String("error", err.Error()))
			next, reason = StateEnd, err.Error()
		}
	}

	logger.Info("State transition",
		slog.String("from", from.String()),
		slog.String("to", next.String()),
		slog.String("reason", reason))

	run.History = append(run.History, Transition{From: from, To: next, Reason: reason, At: p.now()})
	run.State = next
}

func (p *Pipeline) validShipments(eventID string, in []model.ShipmentSnapshot) []model.ShipmentSnapshot {
	out := make([]model.ShipmentSnapshot, 0, len(in))
	for _, s := range in {
		if err := s.Validate(); err != nil {
			p.logger.Warn("Skipping invalid shipment",
				slog.String("event_id", eventID),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, s)
	}
	return out
}
