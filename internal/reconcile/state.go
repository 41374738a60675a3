// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package reconcile

import "fmt"

// State is a step of the per-event state machine.
type State string

const (
	StateReceived  State = "received"
	StateResolving State = "resolving"
	StateDiffing   State = "diffing"
	StateApplying  State = "applying"
	StateCommitted State = "committed"
	StateFailed    State = "failed"
)

// transitions lists the legal next states. A retried attempt re-enters
// Resolving from wherever the transient failure hit.
var transitions = map[State][]State{
	StateReceived:  {StateResolving, StateFailed},
	StateResolving: {StateResolving, StateDiffing, StateCommitted, StateFailed},
	StateDiffing:   {StateResolving, StateApplying, StateCommitted, StateFailed},
	StateApplying:  {StateResolving, StateCommitted, StateFailed},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed
}

// CanTransition reports whether s may move to next.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Machine tracks the state of one reconciliation and its history.
type Machine struct {
	state   State
	history []State
}

func newMachine() *Machine {
	return &Machine{state: StateReceived, history: []State{StateReceived}}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// History returns every state entered, in order.
func (m *Machine) History() []State {
	out := make([]State, len(m.history))
	copy(out, m.history)
	return out
}

// To moves the machine to next.
func (m *Machine) To(next State) error {
	if !m.state.CanTransition(next) {
		return fmt.Errorf("illegal reconcile transition %s -> %s", m.state, next)
	}
	m.state = next
	m.history = append(m.history, next)
	return nil
}

// LastActive returns the last non-terminal state entered, which is where a
// failed reconciliation stopped.
func (m *Machine) LastActive() State {
	for i := len(m.history) - 1; i >= 0; i-- {
		if !m.history[i].Terminal() {
			return m.history[i]
		}
	}
	return StateReceived
}
