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
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/actions"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/audit"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/metrics"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/precedent"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/reasoning"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/riskmatch"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// Fakes
// =============================================================================

type dispatchCall struct {
	Kind    actions.Kind
	Target  string
	Message string
}

type recordingExecutor struct {
	mu    sync.Mutex
	calls []dispatchCall
	fail  map[actions.Kind]error
}

func (e *recordingExecutor) Dispatch(_ context.Context, kind actions.Kind, target, message string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, dispatchCall{kind, target, message})
	if err := e.fail[kind]; err != nil {
		return "", err
	}
	return "ok:" + string(kind), nil
}

func (e *recordingExecutor) Calls() []dispatchCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]dispatchCall(nil), e.calls...)
}

// flakyReasoner fails impact assessment for shipments in failFor and any
// recommendation built on a fallback analysis.
type flakyReasoner struct {
	failFor map[string]bool
}

func (f flakyReasoner) AssessImpact(ctx context.Context, summary string, s model.AffectedShipment) (string, error) {
	if f.failFor[s.ShipmentID] {
		return "", errors.New("model unavailable")
	}
	return "Shipment " + s.ShipmentID + " delayed", nil
}

func (f flakyReasoner) RecommendAction(_ context.Context, impact string, _ float64) (model.Recommendation, error) {
	if strings.HasPrefix(impact, "Analysis unavailable") {
		return model.Recommendation{}, errors.New("model unavailable")
	}
	return model.Recommendation{Tag: model.TagWarning, Rationale: "monitor closely"}, nil
}

// slowReasoner blocks until its context ends.
type slowReasoner struct{}

func (slowReasoner) AssessImpact(ctx context.Context, _ string, _ model.AffectedShipment) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (slowReasoner) RecommendAction(ctx context.Context, _ string, _ float64) (model.Recommendation, error) {
	<-ctx.Done()
	return model.Recommendation{}, ctx.Err()
}

type failingAudit struct{ err error }

func (f failingAudit) Append(context.Context, model.StoredEvent) error { return f.err }

type staticPrecedent struct {
	summary  precedent.Summary
	err      error
	mu       sync.Mutex
	recorded []model.StoredEvent
}

func (s *staticPrecedent) Lookup(context.Context, model.DisruptionEvent) (precedent.Summary, error) {
	return s.summary, s.err
}

func (s *staticPrecedent) Record(_ context.Context, ev model.StoredEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, ev)
	return nil
}

type fixture struct {
	p        *Pipeline
	exec     *recordingExecutor
	tracker  *metrics.Tracker
	store    *audit.Store
	recorder *telemetry.Recorder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		exec:     &recordingExecutor{},
		tracker:  metrics.NewTracker(),
		store:    audit.NewStore(audit.NewMemory()),
		recorder: &telemetry.Recorder{},
	}
	base := []Option{
		WithMatcher(riskmatch.NewMatcher(riskmatch.WithSeed(7))),
		WithTracker(f.tracker),
		WithExecutor(f.exec),
		WithAudit(f.store),
		WithEmitter(f.recorder),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	f.p = New(append(base, opts...)...)
	return f
}

func suezEvent() model.DisruptionEvent {
	return model.DisruptionEvent{
		EventID:  "EVT_SUEZ",
		Topic:    "Canal Blockage",
		Location: "Suez Canal",
		Severity: 10,
		Summary:  "Container ship grounded in the Suez Canal",
	}
}

// =============================================================================
// Scenarios
// =============================================================================

func TestRun_DirectMatchReroutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.p.Run(ctx, suezEvent(), []model.ShipmentSnapshot{
		{ShipmentID: "SHP_1", RouteID: "Route_Suez_EU", CurrentLocation: "Suez Canal", ETADays: 12},
	})
	require.NoError(t, err)

	assert.Equal(t, StateEnd, res.FinalState)
	assert.Equal(t, []State{StateObserve, StateRetrieve, StateAnalyze, StateDecide, StateAct, StateEnd}, res.Path)
	require.Len(t, res.Affected, 1)
	assert.Equal(t, 100.0, res.Affected[0].RiskScore)
	assert.False(t, res.Affected[0].Inferred())

	require.Len(t, res.Decisions, 1)
	d := res.Decisions[0]
	assert.Equal(t, model.TagCritical, d.Recommendation.Tag)
	assert.Equal(t, ReducedConfidence, d.Confidence)

	require.Len(t, res.Outcomes, 1)
	assert.True(t, res.Outcomes[0].Dispatched)
	assert.NoError(t, res.Outcomes[0].Err)

	stored, err := f.store.Get(ctx, "EVT_SUEZ")
	require.NoError(t, err)
	assert.Equal(t, model.ActionReroute, stored.ActionTaken)
	assert.InDelta(t, 4.2, stored.DaysSaved, 1e-9)
	assert.Equal(t, 100, stored.Severity)
	assert.Equal(t, "Suez Canal", stored.Location)
	assert.Equal(t, "Canal Blockage", stored.EventType)

	calls := f.exec.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls, dispatchCall{actions.KindEmail, EmailTarget, "URGENT: SHP_1\n\n" + d.Recommendation.String()})
	assert.Contains(t, calls, dispatchCall{actions.KindERP, "SHP_1", ERPRerouteStatus})

	ev, ok := f.tracker.Get("EVT_SUEZ")
	require.True(t, ok)
	assert.True(t, ev.Acted())
	assert.InDelta(t, 4.2, ev.DaysSaved, 1e-9)

	acts := f.recorder.ByStage("ACT")
	require.Len(t, acts, 1)
	assert.Equal(t, "AUTO-REROUTE for SHP_1", acts[0].Details["result"])
}

func TestRun_NoMatchEndsAtObserve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.p.Run(ctx, model.DisruptionEvent{
		EventID: "EVT_NOWHERE", Topic: "Fog", Location: "Nowhere", Severity: 2,
	}, []model.ShipmentSnapshot{
		{ShipmentID: "SHP_1", RouteID: "Route_A", CurrentLocation: "Rotterdam"},
		{ShipmentID: "SHP_2", RouteID: "Route_B", CurrentLocation: "Singapore"},
	})
	require.NoError(t, err)

	assert.Equal(t, []State{StateObserve, StateEnd}, res.Path)
	assert.Empty(t, res.Affected)
	assert.Empty(t, res.Analyses)
	assert.Empty(t, res.Decisions)
	assert.Empty(t, res.Outcomes)
	assert.Empty(t, f.exec.Calls())

	_, err = f.store.Get(ctx, "EVT_NOWHERE")
	assert.ErrorIs(t, err, audit.ErrNotFound)

	_, ok := f.tracker.Get("EVT_NOWHERE")
	assert.True(t, ok, "detection is recorded even without affected shipments")

	notices := f.recorder.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, "OBSERVE", notices[0].AgentState)
	assert.Equal(t, "Nowhere", notices[0].Details["location"])
}

func TestRun_ReasoningFailureIsIsolated(t *testing.T) {
	f := newFixture(t, WithReasoner(flakyReasoner{failFor: map[string]bool{"SHP_BAD": true}}))

	res, err := f.p.Run(context.Background(), suezEvent(), []model.ShipmentSnapshot{
		{ShipmentID: "SHP_GOOD", RouteID: "Route_Suez_EU", CurrentLocation: "Suez Canal"},
		{ShipmentID: "SHP_BAD", RouteID: "Route_Suez_Asia", CurrentLocation: "Suez Canal"},
	})
	require.NoError(t, err)
	require.Len(t, res.Analyses, 2)
	require.Len(t, res.Decisions, 2)

	assert.Equal(t, "SHP_GOOD", res.Analyses[0].ShipmentID)
	assert.False(t, res.Analyses[0].Fallback)
	assert.Equal(t, model.TagWarning, res.Decisions[0].Recommendation.Tag)
	assert.False(t, res.Decisions[0].Fallback)

	assert.Equal(t, "SHP_BAD", res.Analyses[1].ShipmentID)
	assert.True(t, res.Analyses[1].Fallback)
	assert.Equal(t, reasoning.FallbackRecommendation(100), res.Decisions[1].Recommendation)
	assert.True(t, res.Decisions[1].Fallback)

	assert.Equal(t, 2, res.Dispatched())
}

func TestRun_ReasoningTimeoutFallsBack(t *testing.T) {
	f := newFixture(t, WithReasoner(slowReasoner{}), WithReasoningTimeout(10*time.Millisecond))

	res, err := f.p.Run(context.Background(), suezEvent(), []model.ShipmentSnapshot{
		{ShipmentID: "SHP_1", RouteID: "Route_Suez_EU", CurrentLocation: "Suez Canal"},
	})
	require.NoError(t, err)
	require.Len(t, res.Decisions, 1)
	assert.True(t, res.Analyses[0].Fallback)
	assert.True(t, res.Decisions[0].Fallback)
	assert.Equal(t, model.TagCritical, res.Decisions[0].Recommendation.Tag)
	assert.Equal(t, 1, res.Dispatched())
}

func TestRun_SafetyGateBlocks(t *testing.T) {
	f := newFixture(t, WithConfidence(func(model.AffectedShipment) float64 { return 0.5 }))
	ctx := context.Background()

	res, err := f.p.Run(ctx, suezEvent(), []model.ShipmentSnapshot{
		{ShipmentID: "SHP_1", RouteID: "Route_Suez_EU", CurrentLocation: "Suez Canal"},
	})
	require.NoError(t, err)

	assert.Equal(t, StateEnd, res.FinalState)
	assert.Equal(t, 1, res.Blocked())
	assert.Zero(t, res.Dispatched())
	assert.Empty(t, f.exec.Calls())

	_, err = f.store.Get(ctx, "EVT_SUEZ")
	assert.ErrorIs(t, err, audit.ErrNotFound)

	ev, _ := f.tracker.Get("EVT_SUEZ")
	assert.False(t, ev.Acted())

	acts := f.recorder.ByStage("ACT")
	require.Len(t, acts, 1)
	assert.Contains(t, acts[0].Details["result"], "BLOCKED")
}

func TestRun_MixedConfidenceGatedPerDecision(t *testing.T) {
	conf := func(s model.AffectedShipment) float64 {
		if s.ShipmentID == "SHP_LOW" {
			return 0.6
		}
		return 0.95
	}
	f := newFixture(t, WithConfidence(conf))

	res, err := f.p.Run(context.Background(), suezEvent(), []model.ShipmentSnapshot{
		{ShipmentID: "SHP_HIGH", RouteID: "R1", CurrentLocation: "Suez Canal"},
		{ShipmentID: "SHP_LOW", RouteID: "R2", CurrentLocation: "Suez Canal"},
	})
	require.NoError(t, err)
	assert.True(t, res.Outcomes[0].Dispatched)
	assert.False(t, res.Outcomes[1].Dispatched)
	assert.False(t, res.Outcomes[1].Verdict.Allowed)
}

func TestRun_AuditFailureSurfacesWithoutUndoingDispatch(t *testing.T) {
	storeErr := errors.New("disk full")
	f := newFixture(t, WithAudit(failingAudit{err: storeErr}))

	res, err := f.p.Run(context.Background(), suezEvent(), []model.ShipmentSnapshot{
		{ShipmentID: "SHP_1", RouteID: "Route_Suez_EU", CurrentLocation: "Suez Canal"},
	})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)

	out := res.Outcomes[0]
	assert.True(t, out.Dispatched)
	assert.ErrorIs(t, out.Err, storeErr)
	assert.Nil(t, out.Record)
	assert.NotEmpty(t, f.exec.Calls())
}

func TestRun_DispatchFailureWritesNoAudit(t *testing.T) {
	exec := &recordingExecutor{fail: map[actions.Kind]error{actions.KindEmail: errors.New("smtp down")}}
	f := newFixture(t, WithExecutor(exec))
	ctx := context.Background()

	res, err := f.p.Run(ctx, suezEvent(), []model.ShipmentSnapshot{
		{ShipmentID: "SHP_1", RouteID: "Route_Suez_EU", CurrentLocation: "Suez Canal"},
	})
	require.NoError(t, err)
	assert.False(t, res.Outcomes[0].Dispatched)
	assert.Error(t, res.Outcomes[0].Err)

	_, err = f.store.Get(ctx, "EVT_SUEZ")
	assert.ErrorIs(t, err, audit.ErrNotFound)
}

func TestRun_WarningSendsChatAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.p.Run(ctx, model.DisruptionEvent{
		EventID: "EVT_ROT", Topic: "Congestion", Location: "Rotterdam", Severity: 6,
	}, []model.ShipmentSnapshot{
		{ShipmentID: "SHP_R", RouteID: "Route_NS", CurrentLocation: "Port of Rotterdam"},
	})
	require.NoError(t, err)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, model.TagWarning, res.Decisions[0].Recommendation.Tag)

	assert.Equal(t, []dispatchCall{{actions.KindChat, ChatTarget, "Warning: SHP_R\n" + res.Decisions[0].Recommendation.String()}}, f.exec.Calls())

	stored, err := f.store.Get(ctx, "EVT_ROT")
	require.NoError(t, err)
	assert.Equal(t, model.ActionAlert, stored.ActionTaken)
	assert.InDelta(t, 0.5, stored.DaysSaved, 1e-9)
}

func TestRun_AdvisoryDispatchesNothing(t *testing.T) {
	f := newFixture(t)

	res, err := f.p.Run(context.Background(), model.DisruptionEvent{
		EventID: "EVT_LOW", Topic: "Rain", Location: "Hamburg", Severity: 3,
	}, []model.ShipmentSnapshot{
		{ShipmentID: "SHP_H", RouteID: "Route_H", CurrentLocation: "Hamburg"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.TagAdvisory, res.Decisions[0].Recommendation.Tag)
	assert.Zero(t, res.Dispatched())
	assert.Empty(t, f.exec.Calls())
}

func TestRun_PrecedentEnrichesAndRecords(t *testing.T) {
	src := &staticPrecedent{summary: precedent.Summary{Count: 2, LastAction: model.ActionReroute, DaysSaved: 8.4}}
	f := newFixture(t, WithPrecedent(src))

	res, err := f.p.Run(context.Background(), suezEvent(), []model.ShipmentSnapshot{
		{ShipmentID: "SHP_1", RouteID: "Route_Suez_EU", CurrentLocation: "Suez Canal"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Precedent.Count)

	retrieves := f.recorder.ByStage("RETRIEVE")
	require.Len(t, retrieves, 1)
	assert.Equal(t, 2, retrieves[0].Details["precedents"])

	src.mu.Lock()
	defer src.mu.Unlock()
	require.Len(t, src.recorded, 1)
	assert.Equal(t, "EVT_SUEZ", src.recorded[0].EventID)
}

func TestRun_PrecedentFailureIsIgnored(t *testing.T) {
	src := &staticPrecedent{err: errors.New("vector store offline")}
	f := newFixture(t, WithPrecedent(src))

	res, err := f.p.Run(context.Background(), suezEvent(), []model.ShipmentSnapshot{
		{ShipmentID: "SHP_1", RouteID: "Route_Suez_EU", CurrentLocation: "Suez Canal"},
	})
	require.NoError(t, err)
	assert.Equal(t, StateEnd, res.FinalState)
	assert.Zero(t, res.Precedent.Count)
	assert.Len(t, f.recorder.ByStage("RETRIEVE"), 1)
}

func TestRun_MissingOccurredAtUsesDetectionTime(t *testing.T) {
	now := time.Date(2025, 3, 23, 12, 0, 0, 0, time.UTC)
	tracker := metrics.NewTracker(metrics.WithClock(func() time.Time { return now }))
	p := New(WithTracker(tracker), WithClock(func() time.Time { return now }))

	_, err := p.Run(context.Background(), model.DisruptionEvent{EventID: "E", Location: "X", Severity: 1}, nil)
	require.NoError(t, err)

	ev, ok := tracker.Get("E")
	require.True(t, ok)
	assert.Equal(t, now, ev.OccurredAt)
}

func TestRun_InvalidInput(t *testing.T) {
	p := New()

	//nolint:staticcheck // nil context is the case under test
	_, err := p.Run(nil, suezEvent(), nil)
	assert.ErrorIs(t, err, ErrNilContext)

	_, err = p.Run(context.Background(), model.DisruptionEvent{Location: "Suez"}, nil)
	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.ErrorIs(t, err, model.ErrInvalidEvent)
}

func TestRun_SkipsInvalidShipments(t *testing.T) {
	f := newFixture(t)
	res, err := f.p.Run(context.Background(), suezEvent(), []model.ShipmentSnapshot{
		{ShipmentID: "", CurrentLocation: "Suez Canal"},
		{ShipmentID: "SHP_1", CurrentLocation: "Suez Canal"},
	})
	require.NoError(t, err)
	require.Len(t, res.Affected, 1)
	assert.Equal(t, "SHP_1", res.Affected[0].ShipmentID)
}

func TestRun_CancelledContextInterrupts(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.p.Run(ctx, suezEvent(), []model.ShipmentSnapshot{
		{ShipmentID: "SHP_1", CurrentLocation: "Suez Canal"},
	})
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Empty(t, f.exec.Calls())
}

// cancellingExecutor cancels the caller's context as soon as the action has
// gone out, like a client disconnecting mid-request.
type cancellingExecutor struct {
	recordingExecutor
	cancel context.CancelFunc
}

func (e *cancellingExecutor) Dispatch(ctx context.Context, kind actions.Kind, target, message string) (string, error) {
	status, err := e.recordingExecutor.Dispatch(ctx, kind, target, message)
	e.cancel()
	return status, err
}

func TestRun_CallerCancelAfterDispatchStillAudits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := &cancellingExecutor{cancel: cancel}
	f := newFixture(t, WithExecutor(exec))

	res, err := f.p.Run(ctx, suezEvent(), []model.ShipmentSnapshot{
		{ShipmentID: "SHP_1", RouteID: "Route_Suez_EU", CurrentLocation: "Suez Canal"},
	})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	require.Len(t, res.Outcomes, 1)
	out := res.Outcomes[0]
	assert.True(t, out.Dispatched)
	assert.NoError(t, out.Err)
	require.NotNil(t, out.Record)

	stored, err := f.store.Get(context.Background(), "EVT_SUEZ")
	require.NoError(t, err)
	assert.Equal(t, model.ActionReroute, stored.ActionTaken)

	ev, ok := f.tracker.Get("EVT_SUEZ")
	require.True(t, ok)
	assert.True(t, ev.Acted())
}

func TestRunPathLabel(t *testing.T) {
	tests := []struct {
		name        string
		interrupted bool
		failed      bool
		affected    int
		want        string
	}{
		{"acted", false, false, 2, "acted"},
		{"nothing affected", false, false, 0, "no_match"},
		{"interrupted", true, false, 1, "interrupted"},
		{"stage failed", false, true, 1, "failed"},
		{"failed before match", false, true, 0, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, runPathLabel(tt.interrupted, tt.failed, tt.affected))
		})
	}
}

type failingStage struct{}

func (failingStage) Name() string { return "RETRIEVE" }

func (failingStage) Execute(context.Context, *Run) error { return errors.New("boom") }

type panickingStage struct{}

func (panickingStage) Name() string { return "ANALYZE" }

func (panickingStage) Execute(context.Context, *Run) error { panic("bad stage") }

func TestRun_StageFailureEndsRun(t *testing.T) {
	for name, stage := range map[string]StageExecutor{"error": failingStage{}, "panic": panickingStage{}} {
		t.Run(name, func(t *testing.T) {
			state := StateRetrieve
			if name == "panic" {
				state = StateAnalyze
			}
			f := newFixture(t, WithStage(state, stage))

			res, err := f.p.Run(context.Background(), suezEvent(), []model.ShipmentSnapshot{
				{ShipmentID: "SHP_1", CurrentLocation: "Suez Canal"},
			})
			require.NoError(t, err)
			assert.Equal(t, StateEnd, res.FinalState)
			assert.Empty(t, res.Outcomes)
			assert.Empty(t, f.exec.Calls())
		})
	}
}

func TestRun_ConcurrentRunsShareTrackerAndStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := suezEvent()
			ev.EventID = fmt.Sprintf("EVT_%02d", i)
			_, err := f.p.Run(ctx, ev, []model.ShipmentSnapshot{
				{ShipmentID: fmt.Sprintf("SHP_%02d", i), CurrentLocation: "Suez Canal"},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	recent, err := f.store.Recent(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, recent, 20)

	snap := f.tracker.Snapshot()
	assert.Equal(t, 20, snap.ActionsTaken)
	assert.Equal(t, 20, snap.EventsPrevented)
}
