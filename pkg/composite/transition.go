package composite

import (
	"context"

	"github.com/dualtor/muxmgrd/pkg/linkstate"
	"github.com/dualtor/muxmgrd/pkg/muxconfig"
	"github.com/dualtor/muxmgrd/pkg/muxstate"
	"github.com/dualtor/muxmgrd/pkg/proberstate"
)

// HandleProberLabel applies a new LinkProberStateMachine label and
// re-evaluates the transition table (spec.md §4.4).
func (m *Machine) HandleProberLabel(label proberstate.Label) {
	if label == m.state.Prober {
		return
	}
	if m.state.Prober == proberstate.Unknown {
		m.cancelSuspendTimer()
	}
	m.state.Prober = label
	m.reconcile()
}

// HandleMuxLabel applies a new MuxStateMachine label.
func (m *Machine) HandleMuxLabel(label muxstate.Label) {
	wasWait := m.state.Mux == muxstate.Wait
	changed := label != m.state.Mux
	m.state.Mux = label
	if wasWait && label != muxstate.Wait {
		m.cancelMuxTimers()
		m.store.PublishSwitchingMetric(m.Port, false, m.state.SwitchCause)
		if m.state.PendingModeChange {
			m.state.PendingModeChange = false
			m.applyPendingMode()
			return
		}
	}
	if changed {
		m.resetBackoff(label)
	}
	m.reconcile()
}

// HandleLinkLabel applies a new LinkStateMachine label.
func (m *Machine) HandleLinkLabel(label linkstate.Label) {
	if label == m.state.Link {
		return
	}
	m.state.Link = label
	m.reconcile()
}

// resetBackoff clears the retry schedule once the MUX child lands on a
// non-degraded label; it deliberately does NOT reset while cycling
// between Unknown/Error and the transient Wait the retry handshake
// passes through, or a single slow driver reply would collapse the
// backoff and re-trigger a forced toggle every retry.
func (m *Machine) resetBackoff(label muxstate.Label) {
	if label == muxstate.Active || label == muxstate.Standby {
		m.retry.reset()
		m.state.MuxUnknownBackoffFactor = 0
	}
}

// reconcile re-derives the required action for the current 3-tuple and
// applies it (spec.md §4.4 rules 1-12).
func (m *Machine) reconcile() {
	if !m.state.Activated() {
		m.updateHealth()
		return
	}

	switch {
	case m.state.Mux == muxstate.Error:
		m.handleMuxError()
		return
	case m.state.Mux == muxstate.Unknown:
		m.handleMuxUnknown()
		return
	case m.state.Mux == muxstate.Wait:
		// In flight; nothing further to drive until it exits.
		m.updateHealth()
		return
	}

	if m.state.Link == linkstate.Down {
		m.handleLinkDown()
		m.updateHealth()
		return
	}

	switch {
	case m.state.Prober == proberstate.Active && m.state.Mux == muxstate.Active:
		// rule 1: steady state
		m.state.WaitActiveUpCount = 0
		m.state.ActiveUnknownUpCount = 0

	case m.state.Prober == proberstate.Standby && m.state.Mux == muxstate.Active:
		// rule 2: probe to confirm, do not toggle yet
		m.probeMux()

	case m.state.Prober == proberstate.Unknown && m.state.Mux == muxstate.Active:
		// rule 3: possible blackhole, suspend TX and wait for re-probe
		m.state.ActiveUnknownUpCount++
		if m.suspendTimer == nil {
			m.hooks.SuspendTx(m.Cfg.SuspendTimeout)
			m.suspendTimer = m.clock.AfterFunc(m.Cfg.SuspendTimeout, func() { m.HandleSuspendTimerExpiry() })
		}

	case m.state.Prober == proberstate.Unknown && m.state.Mux == muxstate.Standby:
		// rule 4: correct but degraded; periodically confirm
		m.state.StandbyUnknownUpCount++
		m.probeMux()

	case m.state.Prober == proberstate.Active && m.state.Mux == muxstate.Standby:
		// rule 5: asymmetric, request toggle
		m.switchMuxState(muxconfig.CauseMatchingHardwareState, muxstate.Active, false)

	case m.state.Prober == proberstate.Standby && m.state.Mux == muxstate.Standby:
		// rule 6: steady state
	case m.state.Prober == proberstate.Wait:
		// prober hasn't converged yet; no action until it does
	}

	m.updateHealth()
}

func (m *Machine) probeMux() {
	if err := m.driver.ProbeMuxState(context.Background(), m.Port); err != nil {
		m.log.WithError(err).Debug("driver probe-mux-state request failed")
	}
}

func (m *Machine) handleLinkDown() {
	// rule 10
	if m.state.Mux == muxstate.Active {
		m.switchMuxState(muxconfig.CauseLinkDown, muxstate.Standby, false)
	}
}

// handleMuxUnknown is rule 7: probe, and force a toggle to the
// prober-implied side once the retry threshold is exceeded.
func (m *Machine) handleMuxUnknown() {
	m.probeMux()
	next := m.retry.next()
	m.state.MuxUnknownBackoffFactor = m.retry.retries
	if !m.retry.exhausted(uint32(m.Cfg.MuxUnknownMaxRetries)) {
		m.armMuxProbeTimer(next)
		m.updateHealth()
		return
	}
	target := impliedMux(m.state.Prober)
	if target == muxstate.Wait {
		target = muxstate.Standby
	}
	// Reset before forcing: a forced toggle starts a fresh retry budget so
	// a driver that keeps replying Unknown after the toggle doesn't force
	// another toggle on the very next notification (spec.md §8 S6: "no
	// tight loop").
	m.retry.reset()
	m.state.MuxUnknownBackoffFactor = 0
	m.switchMuxState(muxconfig.CauseHardwareStateUnknown, target, true)
	m.updateHealth()
}

// handleMuxError is rule 8: probe repeatedly with geometric backoff.
func (m *Machine) handleMuxError() {
	m.probeMux()
	d := m.retry.next()
	m.state.MuxUnknownBackoffFactor = m.retry.retries
	m.armMuxProbeTimer(d)
	m.updateHealth()
}
