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
	"fmt"
	"sync"
)

// StageExecutor runs the body of one pipeline state.
//
// Execute mutates run with the stage's output. A returned error ends the
// run early; collaborator failures are handled inside the stage and are
// not returned.
type StageExecutor interface {
	Name() string
	Execute(ctx context.Context, run *Run) error
}

// StageRegistry maps states to stage executors.
//
// Thread Safety: StageRegistry is safe for concurrent use.
type StageRegistry struct {
	mu     sync.RWMutex
	stages map[State]StageExecutor
}

// NewStageRegistry creates an empty registry.
func NewStageRegistry() *StageRegistry {
	return &StageRegistry{stages: make(map[State]StageExecutor)}
}

// Register associates executor with state, replacing any previous one.
// A nil executor is ignored.
func (r *StageRegistry) Register(state State, executor StageExecutor) {
	if executor == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[state] = executor
}

// Get returns the executor for state.
func (r *StageRegistry) Get(state State) (StageExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	executor, ok := r.stages[state]
	return executor, ok
}

// MustGet is like Get but panics when nothing is registered.
func (r *StageRegistry) MustGet(state State) StageExecutor {
	executor, ok := r.Get(state)
	if !ok {
		panic(fmt.Sprintf("no stage registered for state %s", state))
	}
	return executor
}

// States returns registered states in pipeline order.
func (r *StageRegistry) States() []State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make([]State, 0, len(r.stages))
	for _, s := range AllStates() {
		if _, ok := r.stages[s]; ok {
			states = append(states, s)
		}
	}
	return states
}

// Count returns the number of registered stages.
func (r *StageRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stages)
}
