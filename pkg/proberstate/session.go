package proberstate

import "github.com/dualtor/muxmgrd/pkg/muxconfig"

// SelfLabel is the active/active self-session label (spec.md §3).
type SelfLabel int

const (
	SelfInit SelfLabel = iota
	SelfUp
	SelfDown
)

func (l SelfLabel) String() string {
	switch l {
	case SelfUp:
		return "SelfUp"
	case SelfDown:
		return "SelfDown"
	default:
		return "SelfInit"
	}
}

// PeerLabel is the active/active peer-session label (spec.md §3). Six
// labels are named in spec.md: Init/Up/Down track whether the peer has
// ever been heard from at all, while Wait/Active/Unknown track its
// steady-state forwarding intent once heard. See DESIGN.md "Open
// Question decisions" for how the two tracks are unified into one
// reducer.
type PeerLabel int

const (
	PeerInit PeerLabel = iota
	PeerUp
	PeerDown
	PeerWait
	PeerActive
	PeerUnknown
)

func (l PeerLabel) String() string {
	switch l {
	case PeerUp:
		return "PeerUp"
	case PeerDown:
		return "PeerDown"
	case PeerWait:
		return "PeerWait"
	case PeerActive:
		return "PeerActive"
	case PeerUnknown:
		return "PeerUnknown"
	default:
		return "PeerInit"
	}
}

// SessionEvent is the self-session event set (spec.md §3: IcmpSelf,
// IcmpUnknown). The peer-session reducer below reuses the IcmpPeerActive
// /IcmpPeerUnknown events defined in PeerEvent.
type SessionEvent int

const (
	SelfEventIcmpSelf SessionEvent = iota
	SelfEventIcmpUnknown
)

// SelfState tracks the self-session label plus its debounce counters
// (spec.md §4.3 "two parallel sub-machines: self ... peer").
type SelfState struct {
	Label        SelfLabel
	SelfCount    int
	UnknownCount int
}

// NextSelf applies one self-session event (original_source
// SelfInitState/SelfUpState/SelfDownState .cpp).
func NextSelf(s SelfState, event SessionEvent, cfg muxconfig.MuxPortConfig) SelfState {
	switch s.Label {
	case SelfInit:
		switch event {
		case SelfEventIcmpSelf:
			s.UnknownCount = 0
			s.SelfCount++
			if s.SelfCount >= cfg.PositiveRetryCount {
				return SelfState{Label: SelfUp}
			}
			return s
		case SelfEventIcmpUnknown:
			s.SelfCount = 0
			s.UnknownCount++
			if s.UnknownCount >= cfg.NegativeRetryCount {
				return SelfState{Label: SelfDown}
			}
			return s
		}
	case SelfUp:
		switch event {
		case SelfEventIcmpSelf:
			return SelfState{Label: SelfUp}
		case SelfEventIcmpUnknown:
			s.UnknownCount++
			if s.UnknownCount >= cfg.NegativeRetryCount {
				return SelfState{Label: SelfDown}
			}
			s.Label = SelfUp
			return s
		}
	case SelfDown:
		switch event {
		case SelfEventIcmpSelf:
			s.SelfCount++
			if s.SelfCount >= cfg.PositiveRetryCount {
				return SelfState{Label: SelfUp}
			}
			s.Label = SelfDown
			return s
		case SelfEventIcmpUnknown:
			return SelfState{Label: SelfDown}
		}
	}
	return s
}

// PeerEvent is the peer-session event set (spec.md §3).
type PeerEvent int

const (
	IcmpPeerActive PeerEvent = iota
	IcmpPeerUnknown
)

// PeerState tracks the peer-session label plus its debounce counters.
type PeerState struct {
	Label        PeerLabel
	ActiveCount  int
	UnknownCount int
}

// NextPeer applies one peer-session event. Grounded per-state on
// original_source's PeerInitState/PeerUpState/PeerUnknownState/
// PeerWaitState/PeerActiveState .cpp; PeerDown mirrors PeerUp
// symmetrically (no .cpp survived the distillation for PeerDownState,
// but PeerDownState.h declares the same two handlers, and every other
// "down"/"bad" counterpart in the source mirrors its "up"/"good" twin).
func NextPeer(s PeerState, event PeerEvent, cfg muxconfig.MuxPortConfig) PeerState {
	switch s.Label {
	case PeerInit:
		switch event {
		case IcmpPeerActive:
			s.UnknownCount = 0
			s.ActiveCount++
			if s.ActiveCount >= cfg.PositiveRetryCount {
				return PeerState{Label: PeerUp}
			}
			return s
		case IcmpPeerUnknown:
			s.ActiveCount = 0
			s.UnknownCount++
			if s.UnknownCount >= cfg.NegativeRetryCount {
				return PeerState{Label: PeerDown}
			}
			return s
		}
	case PeerUp:
		switch event {
		case IcmpPeerActive:
			return PeerState{Label: PeerUp}
		case IcmpPeerUnknown:
			s.UnknownCount++
			if s.UnknownCount >= cfg.NegativeRetryCount {
				return PeerState{Label: PeerDown}
			}
			s.Label = PeerUp
			return s
		}
	case PeerDown:
		switch event {
		case IcmpPeerActive:
			s.ActiveCount++
			if s.ActiveCount >= cfg.PositiveRetryCount {
				return PeerState{Label: PeerUp}
			}
			s.Label = PeerDown
			return s
		case IcmpPeerUnknown:
			return PeerState{Label: PeerDown}
		}
	case PeerWait:
		switch event {
		case IcmpPeerActive:
			s.UnknownCount = 0
			s.ActiveCount++
			if s.ActiveCount >= cfg.PositiveRetryCount {
				return PeerState{Label: PeerActive}
			}
			return s
		case IcmpPeerUnknown:
			s.ActiveCount = 0
			s.UnknownCount++
			if s.UnknownCount >= cfg.NegativeRetryCount {
				return PeerState{Label: PeerUnknown}
			}
			return s
		}
	case PeerActive:
		switch event {
		case IcmpPeerActive:
			return PeerState{Label: PeerActive}
		case IcmpPeerUnknown:
			s.UnknownCount++
			if s.UnknownCount >= cfg.NegativeRetryCount {
				return PeerState{Label: PeerUnknown}
			}
			s.Label = PeerActive
			return s
		}
	case PeerUnknown:
		switch event {
		case IcmpPeerActive:
			s.ActiveCount++
			if s.ActiveCount >= cfg.PositiveRetryCount {
				return PeerState{Label: PeerActive}
			}
			s.Label = PeerUnknown
			return s
		case IcmpPeerUnknown:
			return PeerState{Label: PeerUnknown}
		}
	}
	return s
}

// ResetToWait returns a fresh peer session in PeerWait with its
// counters cleared. No code in this repository calls it.
func ResetToWait() PeerState {
	return PeerState{Label: PeerWait}
}
