package composite

import (
	"github.com/dualtor/muxmgrd/pkg/muxconfig"
	"github.com/dualtor/muxmgrd/pkg/muxstate"
)

// DefaultRoute mirrors spec.md §3's default-route label.
type DefaultRoute int

const (
	DefaultRouteOK DefaultRoute = iota
	DefaultRouteNA
)

// HandleMuxWaitTimeout fires when the driver fails to answer a toggle
// request within MuxWaitTimeout (spec.md §4.8). It is treated like a
// MuxUnknown notification so the shared backoff/probe/force-toggle path
// in handleMuxUnknown applies uniformly.
func (m *Machine) HandleMuxWaitTimeout() {
	m.muxWaitTimer = nil
	m.state.Mux = muxstate.Unknown
	m.handleMuxUnknown()
}

func (m *Machine) handleMuxProbeTimeout() {
	m.muxProbeTimer = nil
	m.probeMux()
}

// HandleSuspendTimerExpiry resumes TX after a blackhole-suspicion
// suspend window and re-enters a MUX probe (spec.md §4.4 rule 3: "on
// suspend-expiry enter (Unknown, Wait, Up) which forces a MUX probe").
func (m *Machine) HandleSuspendTimerExpiry() {
	m.suspendTimer = nil
	m.hooks.ResumeTx()
	m.enterMuxWaitState()
	m.probeMux()
}

// HandleSwitchActiveRequest handles a peer-originated
// COMMAND(SWITCH_ACTIVE) heartbeat (spec.md §4.4 rule 11).
func (m *Machine) HandleSwitchActiveRequest() {
	m.switchMuxState(muxconfig.CauseTlvSwitchActiveCommand, muxstate.Standby, false)
}

// HandleMuxProbeRequest handles a peer-originated COMMAND(MUX_PROBE)
// heartbeat (spec.md §4.4 rule 11).
func (m *Machine) HandleMuxProbeRequest() {
	m.probeMux()
}

// HandleDefaultRouteStateNotification implements spec.md §4.4 rule 12.
func (m *Machine) HandleDefaultRouteStateNotification(route DefaultRoute) {
	if !m.Cfg.EnableDefaultRouteFeature {
		return
	}
	if route == DefaultRouteNA {
		m.hooks.ShutdownTx()
		if m.state.Mux == muxstate.Active {
			m.switchMuxState(muxconfig.CauseDefaultRouteNA, muxstate.Standby, false)
		}
		return
	}
	m.hooks.RestartTx()
}

// HandleMuxConfigNotification applies a configuration-requested mode
// change (spec.md §4.4 rule 5/S4 scenario). A change requested while
// mux==Wait is deferred until Wait exits (the "pending-mode-change flag"
// of spec.md §4.4).
func (m *Machine) HandleMuxConfigNotification(mode muxconfig.Mode) {
	m.state.TargetMode = mode
	if m.state.Mux == muxstate.Wait {
		m.state.PendingModeChange = true
		return
	}
	m.applyPendingMode()
}

func (m *Machine) applyPendingMode() {
	switch m.state.TargetMode {
	case muxconfig.ModeActive:
		if m.state.Mux != muxstate.Active {
			m.switchMuxState(muxconfig.CauseConfigMuxMode, muxstate.Active, false)
		}
	case muxconfig.ModeStandby:
		if m.state.Mux != muxstate.Standby {
			m.hooks.SendPeerSwitchCommand()
			m.switchMuxState(muxconfig.CauseConfigMuxMode, muxstate.Standby, false)
		}
	case muxconfig.ModeDetach:
		m.hooks.ShutdownTx()
	case muxconfig.ModeManual, muxconfig.ModeAuto:
		// no forced target; let the prober/driver reconcile normally
		m.reconcile()
	}
}
