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
	"fmt"
	"sync"
)

// State is a stage of the decision pipeline.
//
// A run moves through the states in a fixed order; the only branch is
// OBSERVE → END when no shipment is affected. Invalid transitions return
// ErrInvalidTransition.
type State string

const (
	// StateObserve records detection and matches shipments.
	StateObserve State = "OBSERVE"

	// StateRetrieve gathers historical precedent.
	StateRetrieve State = "RETRIEVE"

	// StateAnalyze assesses impact per affected shipment.
	StateAnalyze State = "ANALYZE"

	// StateDecide produces one decision per affected shipment.
	StateDecide State = "DECIDE"

	// StateAct gates and dispatches decisions.
	StateAct State = "ACT"

	// StateEnd is terminal.
	StateEnd State = "END"
)

// String returns the state name.
func (s State) String() string {
	return string(s)
}

// IsTerminal reports whether no stage runs in s.
func (s State) IsTerminal() bool {
	return s == StateEnd
}

// AllStates returns every state in pipeline order.
func AllStates() []State {
	return []State{StateObserve, StateRetrieve, StateAnalyze, StateDecide, StateAct, StateEnd}
}

// TransitionTable lists, for each state, the states a run may move to.
//
//	OBSERVE  → RETRIEVE : shipments affected
//	OBSERVE  → END      : nothing affected
//	RETRIEVE → ANALYZE  : context gathered
//	ANALYZE  → DECIDE   : impact assessed
//	DECIDE   → ACT      : decisions produced
//	ACT      → END      : actions handled
var TransitionTable = map[State][]State{
	StateObserve:  {StateRetrieve, StateEnd},
	StateRetrieve: {StateAnalyze},
	StateAnalyze:  {StateDecide},
	StateDecide:   {StateAct},
	StateAct:      {StateEnd},
	StateEnd:      {},
}

// RunState is the slice of run data the evaluator branches on.
type RunState struct {
	Affected int
}

// Next is the single transition evaluator.
//
// Description:
//
//	Returns the state that follows from. It is pure and has no knowledge
//	of stage bodies, so the control flow is testable on its own.
//
// Inputs:
//
//	from - The state whose stage just completed.
//	rs - Branch inputs collected by that stage.
//
// Outputs:
//
//	State - The next state.
//	error - ErrInvalidTransition when from is terminal or unknown.
func Next(from State, rs RunState) (State, error) {
	switch from {
	case StateObserve:
		if rs.Affected == 0 {
			return StateEnd, nil
		}
		return StateRetrieve, nil
	case StateRetrieve:
		return StateAnalyze, nil
	case StateAnalyze:
		return StateDecide, nil
	case StateDecide:
		return StateAct, nil
	case StateAct:
		return StateEnd, nil
	default:
		return "", fmt.Errorf("%w: no successor for %s", ErrInvalidTransition, from)
	}
}

// StateMachine validates transitions against a table.
//
// Thread Safety: StateMachine is safe for concurrent use.
type StateMachine struct {
	mu          sync.RWMutex
	transitions map[State]map[State]bool
}

// NewStateMachine builds a state machine from TransitionTable.
func NewStateMachine() *StateMachine {
	sm := &StateMachine{transitions: make(map[State]map[State]bool)}
	for _, s := range AllStates() {
		sm.transitions[s] = make(map[State]bool)
	}
	for from, tos := range TransitionTable {
		for _, to := range tos {
			sm.transitions[from][to] = true
		}
	}
	return sm
}

// CanTransition reports whether from → to is allowed.
//
// Thread Safety: This method is safe for concurrent use.
func (sm *StateMachine) CanTransition(from, to State) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if toMap, ok := sm.transitions[from]; ok {
		return toMap[to]
	}
	return false
}

// Validate returns ErrInvalidTransition when from → to is not allowed.
func (sm *StateMachine) Validate(from, to State) error {
	if !sm.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ValidTransitionsFrom returns the allowed targets of from in pipeline order.
func (sm *StateMachine) ValidTransitionsFrom(from State) []State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var result []State
	for _, s := range AllStates() {
		if sm.transitions[from][s] {
			result = append(result, s)
		}
	}
	return result
}

// TransitionReason describes why a transition happens.
func TransitionReason(from, to State) string {
	switch from.String() + "->" + to.String() {
	case "OBSERVE->RETRIEVE":
		return "shipments affected"
	case "OBSERVE->END":
		return "no affected shipments"
	case "RETRIEVE->ANALYZE":
		return "context gathered"
	case "ANALYZE->DECIDE":
		return "impact assessed"
	case "DECIDE->ACT":
		return "decisions produced"
	case "ACT->END":
		return "actions handled"
	default:
		return "unknown transition"
	}
}

// DefaultStateMachine is the shared state machine instance.
var DefaultStateMachine = NewStateMachine()
