package composite

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/dualtor/muxmgrd/pkg/muxconfig"
	"github.com/dualtor/muxmgrd/pkg/muxstate"
	"github.com/dualtor/muxmgrd/pkg/proberstate"
)

// ActiveActiveState is the active/active composite's 5-tuple (spec.md
// §3: "In active/active the composite also carries (peerProber,
// peerMux)"), plus the bookkeeping needed for §4.5's independent
// self/peer reconciliation.
type ActiveActiveState struct {
	Self     proberstate.SelfLabel
	SelfMux  muxstate.Label

	Peer    proberstate.PeerLabel
	PeerMux muxstate.Label

	Health Health

	UnknownRetries uint32
	BackoffFactor  uint32

	initMask uint8
}

func (s *ActiveActiveState) Activated() bool {
	return s.initMask&initMaskComplete == initMaskComplete
}

// InitialActiveActive returns the active/active composite's power-on
// state (spec.md §3, §8 "from (SelfInit, Wait, Up)").
func InitialActiveActive() ActiveActiveState {
	return ActiveActiveState{
		Self:    proberstate.SelfInit,
		SelfMux: muxstate.Wait,
		Peer:    proberstate.PeerInit,
		PeerMux: muxstate.Wait,
	}
}

// ActiveActiveMachine is the per-port composite for cable type
// ActiveActive (spec.md §4.5).
type ActiveActiveMachine struct {
	Port string
	Cfg  muxconfig.MuxPortConfig

	state ActiveActiveState

	driver Driver
	store  StateStore
	hooks  ProberHooks
	clock  clockwork.Clock
	log    *logrus.Entry

	selfMuxWaitTimer clockwork.Timer
	peerMuxWaitTimer clockwork.Timer
	probeTimer       clockwork.Timer
}

// NewActiveActive constructs an active/active composite machine.
func NewActiveActive(port string, cfg muxconfig.MuxPortConfig, driver Driver, store StateStore, hooks ProberHooks, clock clockwork.Clock, log *logrus.Entry) *ActiveActiveMachine {
	return &ActiveActiveMachine{
		Port:   port,
		Cfg:    cfg,
		state:  InitialActiveActive(),
		driver: driver,
		store:  store,
		hooks:  hooks,
		clock:  clock,
		log:    log.WithField("port", port),
	}
}

// State returns a copy of the current composite state.
func (m *ActiveActiveMachine) State() ActiveActiveState { return m.state }

func (m *ActiveActiveMachine) activate(bit uint8) {
	already := m.state.Activated()
	m.state.initMask |= bit
	if !already && m.state.Activated() {
		m.hooks.Initialize()
		m.hooks.StartProbing()
	}
}

func (m *ActiveActiveMachine) HandleServerIpv4Notification() { m.activate(initBitServerIPv4) }
func (m *ActiveActiveMachine) HandleServerMacNotification()  { m.activate(initBitServerMAC) }
func (m *ActiveActiveMachine) HandleTorMacNotification()     { m.activate(initBitTorMAC) }

// HandleSelfLabel applies a new self-session label (spec.md §4.5:
// "SelfUp ⇒ request(mux=Active) ... once mux==Active, steady. SelfDown
// ⇒ request(mux=Standby); also shuts down TX probes if default-route is
// NA").
func (m *ActiveActiveMachine) HandleSelfLabel(label proberstate.SelfLabel) {
	if label == m.state.Self {
		return
	}
	m.state.Self = label
	if !m.state.Activated() {
		return
	}
	switch label {
	case proberstate.SelfUp:
		if m.state.SelfMux != muxstate.Active {
			m.switchSelfMux(muxstate.Active)
		}
	case proberstate.SelfDown:
		if m.state.SelfMux != muxstate.Standby {
			m.switchSelfMux(muxstate.Standby)
		}
		if m.Cfg.EnableDefaultRouteFeature {
			m.hooks.ShutdownTx()
		}
	}
}

// HandlePeerLabel applies a new peer-session label, driving peerMux
// symmetrically (spec.md §4.5: "Peer session drives peerMux
// symmetrically using IcmpPeerActive/IcmpPeerUnknown").
func (m *ActiveActiveMachine) HandlePeerLabel(label proberstate.PeerLabel) {
	if label == m.state.Peer {
		return
	}
	m.state.Peer = label
	if !m.state.Activated() {
		return
	}
	switch label {
	case proberstate.PeerUp, proberstate.PeerActive:
		if m.state.PeerMux != muxstate.Active {
			m.switchPeerMux(muxstate.Active)
		}
	case proberstate.PeerDown, proberstate.PeerUnknown:
		if m.state.PeerMux != muxstate.Standby {
			m.switchPeerMux(muxstate.Standby)
		}
	case proberstate.PeerWait:
		m.armPeerMuxWaitTimer()
	}
}

func (m *ActiveActiveMachine) switchSelfMux(target muxstate.Label) {
	if m.state.SelfMux == muxstate.Wait {
		return
	}
	m.state.SelfMux = muxstate.Wait
	m.armSelfMuxWaitTimer()
	if err := m.driver.SetMuxState(context.Background(), m.Port, target); err != nil {
		m.log.WithError(err).Warn("driver set-mux-state request failed")
	}
}

func (m *ActiveActiveMachine) switchPeerMux(target muxstate.Label) {
	m.state.PeerMux = target
}

func (m *ActiveActiveMachine) armSelfMuxWaitTimer() {
	if m.selfMuxWaitTimer != nil {
		m.selfMuxWaitTimer.Stop()
	}
	m.selfMuxWaitTimer = m.clock.AfterFunc(m.Cfg.MuxWaitTimeout, func() { m.handleSelfMuxWaitTimeout() })
}

func (m *ActiveActiveMachine) armPeerMuxWaitTimer() {
	if m.peerMuxWaitTimer != nil {
		m.peerMuxWaitTimer.Stop()
	}
	m.peerMuxWaitTimer = m.clock.AfterFunc(m.Cfg.MuxWaitTimeout, func() { m.handlePeerMuxWaitTimeout() })
}

// handleSelfMuxWaitTimeout marks self mux Unknown, probes the driver and
// counts the timeout in BackoffFactor. While BackoffFactor is within
// MuxUnknownMaxRetries it arms one further delayed probe on geometric
// backoff; past that it forces a toggle to match the self session
// (Active on SelfUp, otherwise Standby). The peer labels are not
// consulted (spec.md §4.5).
func (m *ActiveActiveMachine) handleSelfMuxWaitTimeout() {
	m.selfMuxWaitTimer = nil
	m.state.SelfMux = muxstate.Unknown
	m.probeMux()
	m.state.BackoffFactor++
	if m.state.BackoffFactor <= uint32(m.Cfg.MuxUnknownMaxRetries) {
		m.armProbeRetryTimer()
		return
	}
	target := muxstate.Standby
	if m.state.Self == proberstate.SelfUp {
		target = muxstate.Active
	}
	m.state.BackoffFactor = 1
	m.switchSelfMux(target)
}

func (m *ActiveActiveMachine) handlePeerMuxWaitTimeout() {
	m.peerMuxWaitTimer = nil
	m.probeMux()
}

func (m *ActiveActiveMachine) armProbeRetryTimer() {
	if m.probeTimer != nil {
		m.probeTimer.Stop()
	}
	d := m.Cfg.ProbeInterval
	for i := uint32(1); i < m.state.BackoffFactor && d < m.Cfg.MuxUnknownBackoffCap; i++ {
		d *= 2
	}
	if d > m.Cfg.MuxUnknownBackoffCap {
		d = m.Cfg.MuxUnknownBackoffCap
	}
	m.probeTimer = m.clock.AfterFunc(d, func() { m.probeMux() })
}

func (m *ActiveActiveMachine) probeMux() {
	if err := m.driver.ProbeMuxState(context.Background(), m.Port); err != nil {
		m.log.WithError(err).Debug("driver probe-mux-state request failed")
	}
}

// HandleAdminForwardingSyncTick issues one driver probe per call when
// EnableSwitchoverMeasurement is set; the machine arms no timer that
// calls it. The contradiction check happens in HandleMuxLabel once the
// driver's reply label arrives.
func (m *ActiveActiveMachine) HandleAdminForwardingSyncTick() {
	if !m.Cfg.EnableSwitchoverMeasurement {
		return
	}
	m.probeMux()
}

// HandleMuxLabel reconciles a driver/DB notification against the
// self-implied forwarding side; a contradiction requests a toggle.
func (m *ActiveActiveMachine) HandleMuxLabel(label muxstate.Label) {
	wasWait := m.state.SelfMux == muxstate.Wait
	m.state.SelfMux = label
	if wasWait && label != muxstate.Wait && m.selfMuxWaitTimer != nil {
		m.selfMuxWaitTimer.Stop()
		m.selfMuxWaitTimer = nil
		m.state.BackoffFactor = 1
	}
	implied := muxstate.Standby
	if m.state.Self == proberstate.SelfUp {
		implied = muxstate.Active
	}
	if label != muxstate.Wait && label != implied {
		m.switchSelfMux(implied)
	}
	m.updateHealth()
}

func (m *ActiveActiveMachine) updateHealth() {
	implied := muxstate.Standby
	if m.state.Self == proberstate.SelfUp {
		implied = muxstate.Active
	}
	healthy := m.state.SelfMux == implied
	next := Unhealthy
	if healthy {
		next = Healthy
	}
	if next != m.state.Health {
		m.state.Health = next
		m.store.PublishHealth(m.Port, next)
	}
}
