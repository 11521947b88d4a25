// Package muxstate implements the MuxStateMachine debouncer of spec.md
// §3/§4.3: driver/DB notifications debounced by a single threshold M
// into {Active, Standby, Unknown, Error, Wait}.
package muxstate

import "github.com/dualtor/muxmgrd/pkg/muxconfig"

// Label is the debounced MUX label.
type Label int

const (
	Wait Label = iota
	Active
	Standby
	Unknown
	Error
)

func (l Label) String() string {
	switch l {
	case Active:
		return "Active"
	case Standby:
		return "Standby"
	case Unknown:
		return "Unknown"
	case Error:
		return "Error"
	default:
		return "Wait"
	}
}

// Event is a raw driver/DB notification (spec.md §3).
type Event int

const (
	MuxActive Event = iota
	MuxStandby
	MuxUnknown
	MuxError
)

// State is the debouncer's label plus its four per-label counters
// (spec.md §4.3: "Any label requires M consecutive identical
// notifications to become current; a different label resets the other
// counters").
type State struct {
	Label         Label
	ActiveCount   int
	StandbyCount  int
	UnknownCount  int
	ErrorCount    int
}

// Next applies one notification to state. Every state (including Wait)
// uses the same rule: matching the current pending event increments its
// counter and resets the other three; reaching M flips the label
// (original_source src/mux_state/WaitState.cpp, generalized to every
// state since ActiveState/StandbyState/UnknownState/ErrorState follow
// the identical shape with their own label as the "already converged"
// case skipped).
func Next(state State, event Event, cfg muxconfig.MuxPortConfig) State {
	threshold := cfg.MuxStateRetryCount
	switch event {
	case MuxActive:
		state.StandbyCount, state.UnknownCount, state.ErrorCount = 0, 0, 0
		if state.Label == Active {
			state.ActiveCount = 0
			return state
		}
		state.ActiveCount++
		if state.ActiveCount >= threshold {
			return State{Label: Active}
		}
		return state
	case MuxStandby:
		state.ActiveCount, state.UnknownCount, state.ErrorCount = 0, 0, 0
		if state.Label == Standby {
			state.StandbyCount = 0
			return state
		}
		state.StandbyCount++
		if state.StandbyCount >= threshold {
			return State{Label: Standby}
		}
		return state
	case MuxUnknown:
		state.ActiveCount, state.StandbyCount, state.ErrorCount = 0, 0, 0
		if state.Label == Unknown {
			state.UnknownCount = 0
			return state
		}
		state.UnknownCount++
		if state.UnknownCount >= threshold {
			return State{Label: Unknown}
		}
		return state
	case MuxError:
		state.ActiveCount, state.StandbyCount, state.UnknownCount = 0, 0, 0
		if state.Label == Error {
			state.ErrorCount = 0
			return state
		}
		state.ErrorCount++
		if state.ErrorCount >= threshold {
			return State{Label: Error}
		}
		return state
	default:
		return state
	}
}

// EnterWait returns the debouncer in Wait with all counters cleared.
// Only this package's tests call it; the composite machines hold their
// own Wait label while a MUX toggle is in flight.
func EnterWait() State {
	return State{Label: Wait}
}
