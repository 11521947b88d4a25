// Package proberstate implements the active/standby LinkProberStateMachine
// debouncer of spec.md §3/§4.3: a pure reducer from (state, event) to the
// next state, with no virtual dispatch (spec.md §9 "Polymorphic state
// classes with downcasts" redesign note).
package proberstate

import "github.com/dualtor/muxmgrd/pkg/muxconfig"

// Label is the coarse prober label for active/standby ports.
type Label int

const (
	Wait Label = iota
	Active
	Standby
	Unknown
)

func (l Label) String() string {
	switch l {
	case Active:
		return "Active"
	case Standby:
		return "Standby"
	case Unknown:
		return "Unknown"
	default:
		return "Wait"
	}
}

// Event is a classified ICMP reply outcome (spec.md §3 "External events").
type Event int

const (
	IcmpSelf Event = iota
	IcmpPeer
	IcmpUnknown
)

// State is the debouncer's full state: the current label plus the three
// consecutive-event counters (spec.md §3 "Debounce counters").
type State struct {
	Label        Label
	SelfCount    int
	PeerCount    int
	UnknownCount int
}

// Initial returns the state a port starts in: Wait for active/standby,
// Unknown for active/active (spec.md §3 "Composite state").
func Initial(cableType muxconfig.CableType) State {
	if cableType == muxconfig.ActiveActive {
		return State{Label: Unknown}
	}
	return State{Label: Wait}
}

// Next applies one event to state and returns the resulting state. The
// returned state's Label differs from state.Label only when the
// debounce threshold for that transition has just been reached
// (spec.md §8 property 4).
func Next(state State, event Event, cfg muxconfig.MuxPortConfig) State {
	switch state.Label {
	case Wait:
		return nextFromWait(state, event, cfg)
	case Active:
		return nextFromActive(state, event, cfg)
	case Standby:
		return nextFromStandby(state, event, cfg)
	case Unknown:
		return nextFromUnknown(state, event, cfg)
	default:
		return state
	}
}

func nextFromWait(s State, event Event, cfg muxconfig.MuxPortConfig) State {
	switch event {
	case IcmpPeer:
		s.SelfCount, s.UnknownCount = 0, 0
		s.PeerCount++
		if s.PeerCount >= cfg.PositiveRetryCount {
			return State{Label: Standby}
		}
		return s
	case IcmpSelf:
		s.PeerCount, s.UnknownCount = 0, 0
		s.SelfCount++
		if s.SelfCount >= cfg.PositiveRetryCount {
			return State{Label: Active}
		}
		return s
	case IcmpUnknown:
		if cfg.CableType == muxconfig.ActiveActive {
			s.UnknownCount++
			if s.UnknownCount >= cfg.NegativeRetryCount {
				return State{Label: Unknown}
			}
			return s
		}
		// active/standby: unknown while waiting resets the whole debounce
		return State{Label: Wait}
	default:
		return s
	}
}

func nextFromActive(s State, event Event, cfg muxconfig.MuxPortConfig) State {
	switch event {
	case IcmpPeer:
		s.UnknownCount = 0
		s.PeerCount++
		if s.PeerCount >= cfg.PositiveRetryCount {
			return State{Label: Standby}
		}
		s.Label = Active
		return s
	case IcmpSelf:
		return State{Label: Active}
	case IcmpUnknown:
		s.PeerCount = 0
		s.UnknownCount++
		if s.UnknownCount >= cfg.NegativeRetryCount {
			return State{Label: Unknown}
		}
		s.Label = Active
		return s
	default:
		return s
	}
}

func nextFromStandby(s State, event Event, cfg muxconfig.MuxPortConfig) State {
	switch event {
	case IcmpPeer:
		return State{Label: Standby}
	case IcmpSelf:
		s.UnknownCount = 0
		s.SelfCount++
		if s.SelfCount >= cfg.PositiveRetryCount {
			return State{Label: Active}
		}
		s.Label = Standby
		return s
	case IcmpUnknown:
		s.SelfCount = 0
		s.UnknownCount++
		if s.UnknownCount >= cfg.NegativeRetryCount {
			return State{Label: Unknown}
		}
		s.Label = Standby
		return s
	default:
		return s
	}
}

func nextFromUnknown(s State, event Event, cfg muxconfig.MuxPortConfig) State {
	switch event {
	case IcmpPeer:
		s.SelfCount = 0
		s.PeerCount++
		if s.PeerCount >= cfg.PositiveRetryCount {
			return State{Label: Standby}
		}
		s.Label = Unknown
		return s
	case IcmpSelf:
		s.PeerCount = 0
		s.SelfCount++
		if s.SelfCount >= cfg.PositiveRetryCount {
			return State{Label: Active}
		}
		s.Label = Unknown
		return s
	default:
		return s
	}
}
