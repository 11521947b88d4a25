// Package driver defines the cable-driver collaborator consumed by the
// composite state machine (spec.md §6.2) and a fake test double.
package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/dualtor/muxmgrd/pkg/muxstate"
)

// NotificationKind distinguishes the three driver callback shapes of
// spec.md §6.2.
type NotificationKind int

const (
	MuxStateNotification NotificationKind = iota
	ProbeMuxStateNotification
	GetMuxStateNotification
)

// Notification is delivered to a port's composite via its strand. Label
// includes muxstate's {Active,Standby,Unknown,Error} plus Failure,
// which spec.md §6.2 lists as a distinct driver reply outside that set
// (see DESIGN.md "Open Question decisions" for how Failure is handled).
type Notification struct {
	Kind  NotificationKind
	Port  string
	Label Label
}

// Label extends muxstate.Label with the driver-only Failure reply
// (spec.md §6.2: "Callbacks ... with labels {Active, Standby, Unknown,
// Error, Failure}").
type Label int

const (
	LabelActive Label = iota
	LabelStandby
	LabelUnknown
	LabelError
	LabelFailure
)

func (l Label) String() string {
	switch l {
	case LabelActive:
		return "Active"
	case LabelStandby:
		return "Standby"
	case LabelUnknown:
		return "Unknown"
	case LabelError:
		return "Error"
	case LabelFailure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// AsMuxLabel maps a driver Label onto the MuxStateMachine's label set
// per the Open Question decision: Failure is treated as a MuxUnknown
// hint (spec.md §9).
func (l Label) AsMuxLabel() muxstate.Label {
	switch l {
	case LabelActive:
		return muxstate.Active
	case LabelStandby:
		return muxstate.Standby
	case LabelError:
		return muxstate.Error
	default: // LabelUnknown, LabelFailure
		return muxstate.Unknown
	}
}

// Client is the driver collaborator consumed by the core (spec.md
// §6.2). Implementations must be safe for concurrent use: the core
// calls into a single shared Client from many ports' strands.
type Client interface {
	SetMuxState(ctx context.Context, port string, target muxstate.Label) error
	ProbeMuxState(ctx context.Context, port string) error
}

// NotificationHandler receives driver-originated state notifications.
// It is invoked by a Client implementation and must itself post the
// notification onto the affected port's strand rather than acting
// directly (spec.md §5 "accessed only through messages posted to each
// port's strand").
type NotificationHandler func(Notification)

// ErrUnknownPort is returned by Fake when asked to act on a port it was
// never told about via Register.
var ErrUnknownPort = fmt.Errorf("driver: unknown port")

// Fake is an in-memory driver test double (spec.md §9 "friend-class
// test hooks" pattern generalized to the driver collaborator): tests
// register a port, then inject failures via FailNextSet/FailNextProbe.
type Fake struct {
	mu      sync.Mutex
	ports   map[string]muxstate.Label
	onEvent NotificationHandler

	nextSetErr   error
	nextProbeErr error
}

// NewFake constructs a Fake driver with no registered ports.
func NewFake(onEvent NotificationHandler) *Fake {
	return &Fake{ports: make(map[string]muxstate.Label), onEvent: onEvent}
}

// Register seeds the fake's notion of a port's current hardware state.
func (f *Fake) Register(port string, initial muxstate.Label) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ports[port] = initial
}

// FailNextSet/FailNextProbe arm a one-shot error returned by the next
// SetMuxState/ProbeMuxState call, modeling spec.md §4.8's transient RPC
// failure and timeout paths.
func (f *Fake) FailNextSet(err error)   { f.mu.Lock(); f.nextSetErr = err; f.mu.Unlock() }
func (f *Fake) FailNextProbe(err error) { f.mu.Lock(); f.nextProbeErr = err; f.mu.Unlock() }

// SetMuxState requests a toggle and, absent a scripted failure, replies
// synchronously with onMuxStateNotification carrying the new label.
func (f *Fake) SetMuxState(ctx context.Context, port string, target muxstate.Label) error {
	f.mu.Lock()
	err := f.nextSetErr
	f.nextSetErr = nil
	if _, ok := f.ports[port]; !ok {
		f.mu.Unlock()
		return ErrUnknownPort
	}
	if err == nil {
		f.ports[port] = target
	}
	handler := f.onEvent
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if handler != nil {
		handler(Notification{Kind: MuxStateNotification, Port: port, Label: fromMuxLabel(target)})
	}
	return nil
}

// ProbeMuxState asks for the current hardware state and replies
// synchronously with onProbeMuxStateNotification.
func (f *Fake) ProbeMuxState(ctx context.Context, port string) error {
	f.mu.Lock()
	err := f.nextProbeErr
	f.nextProbeErr = nil
	label, ok := f.ports[port]
	handler := f.onEvent
	f.mu.Unlock()
	if !ok {
		return ErrUnknownPort
	}
	if err != nil {
		return err
	}
	if handler != nil {
		handler(Notification{Kind: ProbeMuxStateNotification, Port: port, Label: fromMuxLabel(label)})
	}
	return nil
}

func fromMuxLabel(l muxstate.Label) Label {
	switch l {
	case muxstate.Active:
		return LabelActive
	case muxstate.Standby:
		return LabelStandby
	case muxstate.Error:
		return LabelError
	default:
		return LabelUnknown
	}
}
