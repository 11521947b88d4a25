// Package linkstate implements the LinkStateMachine debouncer of
// spec.md §3/§4.3: host-side link-up/link-down notifications debounced
// by a single threshold L into {Up, Down}.
package linkstate

import "github.com/dualtor/muxmgrd/pkg/muxconfig"

// Label is the debounced host link label.
type Label int

const (
	Down Label = iota
	Up
)

func (l Label) String() string {
	if l == Up {
		return "Up"
	}
	return "Down"
}

// Event is a raw netlink notification (spec.md §3).
type Event int

const (
	LinkUp Event = iota
	LinkDown
)

// State is the debouncer's label plus its two counters.
type State struct {
	Label     Label
	UpCount   int
	DownCount int
}

// Initial returns the state a port's link child starts in. Link state
// is assumed down until the first netlink notification arrives
// (original_source src/link_state/LinkStateMachine.cpp constructs its
// initial state as down).
func Initial() State {
	return State{Label: Down}
}

// Next applies one notification to state (original_source
// src/link_state/UpState.cpp / DownState.cpp: L consecutive matching
// notifications are required to flip the label, any count of the
// opposite event resets to zero without itself flipping short of L).
func Next(state State, event Event, cfg muxconfig.MuxPortConfig) State {
	threshold := cfg.LinkStateRetryCount
	switch event {
	case LinkUp:
		state.DownCount = 0
		if state.Label == Up {
			state.UpCount = 0
			return state
		}
		state.UpCount++
		if state.UpCount >= threshold {
			return State{Label: Up}
		}
		return state
	case LinkDown:
		state.UpCount = 0
		if state.Label == Down {
			state.DownCount = 0
			return state
		}
		state.DownCount++
		if state.DownCount >= threshold {
			return State{Label: Down}
		}
		return state
	default:
		return state
	}
}
