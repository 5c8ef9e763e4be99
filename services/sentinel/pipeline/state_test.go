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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/model"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name     string
		from     State
		affected int
		want     State
	}{
		{"observe with matches", StateObserve, 2, StateRetrieve},
		{"observe without matches", StateObserve, 0, StateEnd},
		{"retrieve", StateRetrieve, 1, StateAnalyze},
		{"analyze", StateAnalyze, 1, StateDecide},
		{"decide", StateDecide, 1, StateAct},
		{"act", StateAct, 1, StateEnd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.from, RunState{Affected: tt.affected})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, DefaultStateMachine.CanTransition(tt.from, got))
		})
	}
}

func TestNext_TerminalAndUnknown(t *testing.T) {
	_, err := Next(StateEnd, RunState{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = Next(State("IDLE"), RunState{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStateMachine_InvalidTransitions(t *testing.T) {
	sm := NewStateMachine()
	invalid := []struct{ from, to State }{
		{StateObserve, StateAnalyze},
		{StateRetrieve, StateEnd},
		{StateAnalyze, StateAct},
		{StateDecide, StateObserve},
		{StateAct, StateObserve},
		{StateEnd, StateObserve},
	}
	for _, tt := range invalid {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.False(t, sm.CanTransition(tt.from, tt.to))
			assert.ErrorIs(t, sm.Validate(tt.from, tt.to), ErrInvalidTransition)
		})
	}
}

func TestStateMachine_ValidTransitionsFrom(t *testing.T) {
	sm := NewStateMachine()
	assert.Equal(t, []State{StateRetrieve, StateEnd}, sm.ValidTransitionsFrom(StateObserve))
	assert.Empty(t, sm.ValidTransitionsFrom(StateEnd))
}

func TestTransitionReason(t *testing.T) {
	assert.Equal(t, "no affected shipments", TransitionReason(StateObserve, StateEnd))
	assert.Equal(t, "unknown transition", TransitionReason(StateEnd, StateObserve))
}

type namedStage string

func (n namedStage) Name() string                     { return string(n) }
func (namedStage) Execute(context.Context, *Run) error { return nil }

func TestStageRegistry(t *testing.T) {
	r := NewStageRegistry()
	r.Register(StateAct, namedStage("act"))
	r.Register(StateObserve, namedStage("observe"))
	r.Register(StateDecide, nil)

	assert.Equal(t, 2, r.Count())
	assert.Equal(t, []State{StateObserve, StateAct}, r.States())

	got, ok := r.Get(StateObserve)
	require.True(t, ok)
	assert.Equal(t, "observe", got.Name())

	_, ok = r.Get(StateDecide)
	assert.False(t, ok)
	assert.Panics(t, func() { r.MustGet(StateDecide) })
}

func TestNew_RegistersAllStages(t *testing.T) {
	p := New()
	assert.Equal(t, []State{StateObserve, StateRetrieve, StateAnalyze, StateDecide, StateAct}, p.Registry().States())
}

func TestDefaultConfidence(t *testing.T) {
	assert.Equal(t, HighConfidence, DefaultConfidence(model.AffectedShipment{RiskScore: 89.9}))
	assert.Equal(t, ReducedConfidence, DefaultConfidence(model.AffectedShipment{RiskScore: 90}))
	assert.Equal(t, ReducedConfidence, DefaultConfidence(model.AffectedShipment{RiskScore: 100}))
}
