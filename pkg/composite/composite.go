// Package composite implements the CompositeStateMachine of spec.md
// §3/§4.4-§4.7: the (prober, mux, link) reducer that turns the three
// child-machine labels into external side effects (toggle MUX, suspend
// probes, publish health).
//
// Original source: link_manager/LinkManagerStateMachineActiveStandby.h
// declares this as a class with per-3-tuple transition-function methods
// and a set of boost::function test-hook members; no .cpp survived the
// distillation, so the transition rules below are grounded directly on
// spec.md §4.4's enumerated rules 1-12 and the SwitchCause enum /
// counter / backoff-factor field list that header declares.
package composite

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/dualtor/muxmgrd/pkg/linkstate"
	"github.com/dualtor/muxmgrd/pkg/muxconfig"
	"github.com/dualtor/muxmgrd/pkg/muxstate"
	"github.com/dualtor/muxmgrd/pkg/proberstate"
)

// Health is the published health label (spec.md §4.6).
type Health int

const (
	Uninitialized Health = iota
	Healthy
	Unhealthy
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "Healthy"
	case Unhealthy:
		return "Unhealthy"
	default:
		return "Uninitialized"
	}
}

// SwitchCause records why a MUX toggle was requested (spec.md §7,
// mirroring the original's SwitchCause enum).
type SwitchCause = muxconfig.SwitchCause

// SwitchActiveRequest is posted by the LinkProber when a peer heartbeat
// carries COMMAND(SWITCH_ACTIVE) (spec.md §4.2 TLV handling).
type SwitchActiveRequest struct{}

// MuxProbeRequest is posted by the LinkProber when a peer heartbeat
// carries COMMAND(MUX_PROBE).
type MuxProbeRequest struct{}

// Driver is the cable-driver collaborator consumed by the composite
// (spec.md §6.2). It is invoked only from the owning port's strand.
type Driver interface {
	SetMuxState(ctx context.Context, port string, target muxstate.Label) error
	ProbeMuxState(ctx context.Context, port string) error
}

// StateStore is the state-store adapter consumed by the composite
// (spec.md §6.3 outputs).
type StateStore interface {
	PublishMuxState(port string, label muxstate.Label)
	PublishHealth(port string, health Health)
	PublishSwitchingMetric(port string, starting bool, cause SwitchCause)
	PublishLinkProberMetric(port string, label proberstate.Label, sessionID string)
	PublishPckLossRatio(port string, unknown, total uint64)
}

// ProberHooks exposes the LinkProber operations the composite drives as
// plain function values rather than an interface, matching the
// friend-class test-hook pattern spec.md §9 asks to preserve: production
// wires these to the real LinkProber, tests wire fakes.
type ProberHooks struct {
	Initialize                     func()
	StartProbing                   func()
	UpdateEthernetFrame             func()
	ProbePeerTor                    func()
	SuspendTx                       func(d time.Duration)
	ResumeTx                        func()
	ShutdownTx                      func()
	RestartTx                       func()
	SendPeerSwitchCommand           func()
	SendPeerProbeCommand            func()
	DecreaseIntervalAfterSwitch     func(window time.Duration)
	RevertIntervalAfterSwitchComplete func()
	ResetIcmpPacketCounts           func()
}

// State is the composite's full state (spec.md §3 "Composite state",
// §4.4 "State representation").
type State struct {
	Prober proberstate.Label
	Mux    muxstate.Label
	Link   linkstate.Label

	Health Health

	WaitActiveUpCount     uint32
	ActiveUnknownUpCount  uint32
	StandbyUnknownUpCount uint32

	MuxUnknownBackoffFactor     uint32
	WaitStandbyUpBackoffFactor  uint32
	UnknownActiveUpBackoffFactor uint32

	PendingModeChange bool
	TargetMode        muxconfig.Mode

	ContinuousUnknownEvent bool

	SwitchCause SwitchCause

	// initMask tracks the 3-bit activation gate of spec.md §4.7: bit0
	// server IPv4, bit1 server MAC, bit2 ToR MAC.
	initMask uint8
}

const (
	initBitServerIPv4 = 1 << iota
	initBitServerMAC
	initBitTorMAC
	initMaskComplete = initBitServerIPv4 | initBitServerMAC | initBitTorMAC
)

// Activated reports whether all three activation signals have arrived.
func (s *State) Activated() bool {
	return s.initMask&initMaskComplete == initMaskComplete
}

// Initial returns the composite's power-on state (spec.md §3: "Initial
// state is (Wait or Unknown, Wait, Down) depending on cable type").
func Initial(cableType muxconfig.CableType) State {
	return State{
		Prober: proberstate.Initial(cableType).Label,
		Mux:    muxstate.Wait,
		Link:   linkstate.Down,
		Health: Uninitialized,
	}
}

// Machine is the active/standby composite state machine for one port.
// All exported methods must be invoked on the owning port's strand;
// the machine performs no internal locking (spec.md §4.1/§5).
type Machine struct {
	Port string
	Cfg  muxconfig.MuxPortConfig

	state State

	driver Driver
	store  StateStore
	hooks  ProberHooks
	clock  clockwork.Clock
	log    *logrus.Entry

	muxWaitTimer   clockwork.Timer
	muxProbeTimer  clockwork.Timer
	suspendTimer   clockwork.Timer

	retry *muxRetrySchedule
}

// New constructs a composite machine in its power-on state.
func New(port string, cfg muxconfig.MuxPortConfig, driver Driver, store StateStore, hooks ProberHooks, clock clockwork.Clock, log *logrus.Entry) *Machine {
	return &Machine{
		Port:  port,
		Cfg:   cfg,
		state: Initial(cfg.CableType),
		driver: driver,
		store:  store,
		hooks:  hooks,
		clock:  clock,
		log:    log.WithField("port", port),
		retry:  &muxRetrySchedule{backoff: newMuxRetryBackoff(cfg)},
	}
}

// State returns a copy of the machine's current composite state.
func (m *Machine) State() State { return m.state }

func (m *Machine) cancelMuxTimers() {
	if m.muxWaitTimer != nil {
		m.muxWaitTimer.Stop()
		m.muxWaitTimer = nil
	}
	if m.muxProbeTimer != nil {
		m.muxProbeTimer.Stop()
		m.muxProbeTimer = nil
	}
}

func (m *Machine) cancelSuspendTimer() {
	if m.suspendTimer != nil {
		m.suspendTimer.Stop()
		m.suspendTimer = nil
	}
}

func (m *Machine) armMuxWaitTimer(factor uint32) {
	if m.muxWaitTimer != nil {
		m.muxWaitTimer.Stop()
	}
	d := m.Cfg.MuxWaitTimeout * time.Duration(factor)
	m.muxWaitTimer = m.clock.AfterFunc(d, func() { m.HandleMuxWaitTimeout() })
}

func (m *Machine) armMuxProbeTimer(d time.Duration) {
	if m.muxProbeTimer != nil {
		m.muxProbeTimer.Stop()
	}
	m.muxProbeTimer = m.clock.AfterFunc(d, func() { m.handleMuxProbeTimeout() })
}

// updateHealth recomputes and, on change, publishes the health label:
// Healthy iff link is Up and mux matches the prober-implied side (a
// prober label that implies no side leaves the port Unhealthy). The
// default-route state is not part of this computation.
func (m *Machine) updateHealth() {
	implied := impliedMux(m.state.Prober)
	healthy := m.state.Link == linkstate.Up && implied != muxstate.Wait && m.state.Mux == implied
	next := Unhealthy
	if healthy {
		next = Healthy
	}
	if next != m.state.Health {
		m.state.Health = next
		m.store.PublishHealth(m.Port, next)
	}
}

// impliedMux returns the MUX label the prober dimension implies the
// port should hold (Active prober implies Active mux, Standby implies
// Standby, every other label implies no side and yields Wait), used for
// health computation and for forcing a toggle out of MuxUnknown/MuxError,
// where callers map Wait to Standby (spec.md §4.4 rule 7).
func impliedMux(p proberstate.Label) muxstate.Label {
	if p == proberstate.Active {
		return muxstate.Active
	}
	if p == proberstate.Standby {
		return muxstate.Standby
	}
	return muxstate.Wait
}

// switchMuxState is the action contract of spec.md §4.4: record cause,
// drive the MUX child to Wait, call the driver, arm the mux-wait timer,
// publish the SwitchingStart metric.
func (m *Machine) switchMuxState(cause SwitchCause, target muxstate.Label, force bool) {
	if m.state.Mux == muxstate.Wait && !force {
		// spec.md §8 property 2: a toggle is never re-emitted while Wait;
		// record the target and let Wait's exit path act on it.
		m.state.TargetMode = targetModeFor(target)
		m.state.PendingModeChange = true
		return
	}
	m.state.SwitchCause = cause
	m.state.Mux = muxstate.Wait
	m.store.PublishSwitchingMetric(m.Port, true, cause)
	m.armMuxWaitTimer(1)
	if err := m.driver.SetMuxState(context.Background(), m.Port, target); err != nil {
		m.log.WithError(err).Warn("driver set-mux-state request failed, relying on mux-wait timeout to retry")
	}
}

func targetModeFor(l muxstate.Label) muxconfig.Mode {
	if l == muxstate.Active {
		return muxconfig.ModeActive
	}
	return muxconfig.ModeStandby
}

// enterMuxWaitState is the second action contract of spec.md §4.4.
func (m *Machine) enterMuxWaitState() {
	m.state.Mux = muxstate.Wait
	m.armMuxWaitTimer(1)
}

// activate records the arrival of one of the three init-gating signals
// (spec.md §4.7) and, once all three are present, initializes and
// starts the LinkProber.
func (m *Machine) activate(bit uint8) {
	already := m.state.Activated()
	m.state.initMask |= bit
	if !already && m.state.Activated() {
		m.hooks.Initialize()
		m.hooks.StartProbing()
	}
}

// HandleServerIpv4Notification records arrival of the server IPv4 init signal.
func (m *Machine) HandleServerIpv4Notification() { m.activate(initBitServerIPv4) }

// HandleServerMacNotification records arrival of the server MAC init signal.
func (m *Machine) HandleServerMacNotification() { m.activate(initBitServerMAC) }

// HandleTorMacNotification records arrival of the ToR MAC init signal.
func (m *Machine) HandleTorMacNotification() { m.activate(initBitTorMAC) }
