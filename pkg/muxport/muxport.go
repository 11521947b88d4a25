// Package muxport implements the MuxPort façade of spec.md §2 item 7:
// binds one port's child state machines, its composite state machine,
// and its LinkProber to the driver client and state-store adapter,
// serialized through the port's own strand.
//
// Grounded on the teacher's pkg/server/types.go "façade struct wiring
// sub-managers together" shape; no MuxPort.h/.cpp survived the
// distillation of original_source (only MuxPortTest.h/.cpp), so the
// wiring below follows spec.md §2 item 7 and §4.7 directly, and
// LinkManagerStateMachineBase.h's handleStateChange(label) signature
// for how a debounced child label reaches the composite.
package muxport

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/dualtor/muxmgrd/pkg/composite"
	"github.com/dualtor/muxmgrd/pkg/driver"
	"github.com/dualtor/muxmgrd/pkg/linkprober"
	"github.com/dualtor/muxmgrd/pkg/linkstate"
	"github.com/dualtor/muxmgrd/pkg/linkwatch"
	"github.com/dualtor/muxmgrd/pkg/muxconfig"
	"github.com/dualtor/muxmgrd/pkg/muxstate"
	"github.com/dualtor/muxmgrd/pkg/proberstate"
	"github.com/dualtor/muxmgrd/pkg/reactor"
	"github.com/dualtor/muxmgrd/pkg/statestore"
	"github.com/dualtor/muxmgrd/pkg/strand"
	"github.com/dualtor/muxmgrd/pkg/wire"
)

// stdMachine and aaMachine are the subset of composite.Machine /
// composite.ActiveActiveMachine that wiring needs directly; kept as
// interfaces only so tests can substitute nothing real here beyond
// what composite already provides (both concrete types already satisfy
// every method used below).
type stdMachine interface {
	HandleServerIpv4Notification()
	HandleServerMacNotification()
	HandleTorMacNotification()
	HandleProberLabel(proberstate.Label)
	HandleMuxLabel(muxstate.Label)
	HandleLinkLabel(linkstate.Label)
	HandleSwitchActiveRequest()
	HandleMuxProbeRequest()
	HandleDefaultRouteStateNotification(composite.DefaultRoute)
	HandleMuxConfigNotification(muxconfig.Mode)
	HandleSuspendTimerExpiry()
}

type aaMachine interface {
	HandleServerIpv4Notification()
	HandleServerMacNotification()
	HandleTorMacNotification()
	HandleSelfLabel(proberstate.SelfLabel)
	HandlePeerLabel(proberstate.PeerLabel)
	HandleMuxLabel(muxstate.Label)
	HandleAdminForwardingSyncTick()
}

// MuxPort binds one port's components together. Every method that
// touches state machine state runs on mp.strand; Start/Close are the
// only methods safe to call from any goroutine.
type MuxPort struct {
	Port string
	Cfg  muxconfig.MuxPortConfig

	strand *strand.Strand
	store  *statestore.Store
	driver driver.Client
	prober *linkprober.Prober
	host   *linkwatch.Watcher
	log    *logrus.Entry

	std stdMachine
	aa  aaMachine

	proberState   proberstate.State
	proberSession string
	selfState     proberstate.SelfState
	peerState     proberstate.PeerState
	muxState      muxstate.State
	linkState     linkstate.State

	lastRecord statestore.PortRecord
}

// Deps bundles the shared collaborators every MuxPort is built from.
type Deps struct {
	Store      *statestore.Store
	Driver     driver.Client
	Reactor    *reactor.Reactor
	NewSocket  linkprober.SocketFactory
	Subscriber linkwatch.Subscriber // nil uses linkwatch.DefaultSubscriber
	Clock      clockwork.Clock
	Log        *logrus.Entry
	GUID       [8]byte
}

// New constructs a MuxPort in its power-on state (spec.md §4.7: not yet
// activated until server IPv4, server MAC, and ToR MAC are all known).
// The ToR MAC is read from cfg directly, since it is a static config
// value in this design rather than a runtime notification; server IPv4
// and server MAC arrive later through deps.Store's Subscribe fan-out.
func New(cfg muxconfig.MuxPortConfig, deps Deps) *MuxPort {
	log := deps.Log.WithField("port", cfg.PortName)
	mp := &MuxPort{
		Port:        cfg.PortName,
		Cfg:         cfg,
		strand:      strand.New(deps.Reactor),
		store:       deps.Store,
		driver:      deps.Driver,
		log:         log,
		proberState: proberstate.Initial(cfg.CableType),
		selfState:   proberstate.SelfState{Label: proberstate.SelfInit},
		peerState:   proberstate.PeerState{Label: proberstate.PeerInit},
		linkState:   linkstate.Initial(),
	}

	hooks := composite.ProberHooks{
		// a fresh session ID marks every (re-)initialize of the raw
		// socket as its own link-prober session for the audit log
		// (spec.md §6.3 PublishLinkProberMetric).
		Initialize:                        func() { mp.proberSession = uuid.NewString(); mp.prober.Initialize() },
		StartProbing:                      func() { mp.prober.StartProbing() },
		UpdateEthernetFrame:                func() { mp.prober.UpdateEthernetFrame() },
		ProbePeerTor:                       func() { mp.prober.ProbePeerTor() },
		SuspendTx:                          func(d time.Duration) { mp.prober.SuspendTx(d) },
		ResumeTx:                           func() { mp.prober.ResumeTx() },
		ShutdownTx:                         func() { mp.prober.ShutdownTx() },
		RestartTx:                          func() { mp.prober.RestartTx() },
		SendPeerSwitchCommand:              func() { mp.prober.SendPeerSwitchCommand() },
		SendPeerProbeCommand:               func() { mp.prober.SendPeerProbeCommand() },
		DecreaseIntervalAfterSwitch:        func(d time.Duration) { mp.prober.DecreaseIntervalAfterSwitch(d) },
		RevertIntervalAfterSwitchComplete: func() { mp.prober.RevertIntervalAfterSwitchComplete() },
		ResetIcmpPacketCounts:              func() { mp.prober.ResetIcmpPacketCounts() },
	}

	if cfg.CableType == muxconfig.ActiveActive {
		mp.aa = composite.NewActiveActive(cfg.PortName, cfg, deps.Driver, deps.Store, hooks, deps.Clock, deps.Log)
	} else {
		mp.std = composite.New(cfg.PortName, cfg, deps.Driver, deps.Store, hooks, deps.Clock, deps.Log)
	}

	callbacks := mp.proberCallbacks()
	mp.prober = linkprober.New(cfg.PortName, cfg, deps.GUID, wire.SoftwareCookie, mp.frameParams(),
		deps.NewSocket, mp.strand.Post, callbacks, deps.Clock, log)

	sub := deps.Subscriber
	host := cfg.PortName
	mp.host = linkwatch.New(host, sub, mp.strand.Post, mp.handleHostLinkEvent, log)

	if len(cfg.TorMAC) != 0 {
		mp.strand.Post(mp.torMacKnown)
	}

	deps.Store.Subscribe(mp.onStoreUpdate)
	return mp
}

// Start begins host-link monitoring. The LinkProber itself starts only
// once all three activation signals have arrived (spec.md §4.7), via
// the composite's hooks.Initialize/StartProbing.
func (mp *MuxPort) Start(ctx context.Context) error {
	return mp.host.Start(ctx)
}

// Close tears down the port's background goroutines.
func (mp *MuxPort) Close() error {
	mp.host.Stop()
	return mp.prober.Close()
}

func (mp *MuxPort) torMacKnown() {
	if mp.std != nil {
		mp.std.HandleTorMacNotification()
	}
	if mp.aa != nil {
		mp.aa.HandleTorMacNotification()
	}
}

func (mp *MuxPort) frameParams() wire.FrameParams {
	src := mp.Cfg.ServerMAC
	if mp.Cfg.UseTorMACAsSrc {
		src = mp.Cfg.TorMAC
	}
	return wire.FrameParams{
		SrcMAC:     src,
		DstMAC:     mp.Cfg.ServerMAC,
		SrcIP:      mp.Cfg.LoopbackIPv4,
		DstIP:      mp.Cfg.ServerIPv4,
		Identifier: mp.Cfg.ServerID,
	}
}

// proberCallbacks wires LinkProber classification into the per-port
// child reducers and from there into the composite, matching cable
// type (spec.md §4.2/§4.3: active/standby uses the 3-way Self/Peer/
// Unknown classification, active/active uses independent self/peer
// sightings).
func (mp *MuxPort) proberCallbacks() linkprober.Callbacks {
	if mp.Cfg.CableType == muxconfig.ActiveActive {
		return linkprober.Callbacks{
			ReportSelfSeen:    func() { mp.applySelfEvent(proberstate.SelfEventIcmpSelf) },
			ReportSelfUnknown: func() { mp.applySelfEvent(proberstate.SelfEventIcmpUnknown) },
			ReportPeerSeen:    func() { mp.applyPeerEvent(proberstate.IcmpPeerActive) },
			ReportPeerUnknown: func() { mp.applyPeerEvent(proberstate.IcmpPeerUnknown) },
			ReportPacketCounts: func(unknown, total uint64) {
				mp.store.PublishPckLossRatio(mp.Port, unknown, total)
			},
		}
	}
	return linkprober.Callbacks{
		ReportSelf:                func() { mp.applyProberEvent(proberstate.IcmpSelf) },
		ReportPeer:                func() { mp.applyProberEvent(proberstate.IcmpPeer) },
		ReportUnknown:             func() { mp.applyProberEvent(proberstate.IcmpUnknown) },
		ReportSwitchActiveRequest: func() { mp.std.HandleSwitchActiveRequest() },
		ReportMuxProbeRequest:     func() { mp.std.HandleMuxProbeRequest() },
		ReportPacketCounts: func(unknown, total uint64) {
			mp.store.PublishPckLossRatio(mp.Port, unknown, total)
		},
	}
}

func (mp *MuxPort) applyProberEvent(event proberstate.Event) {
	mp.proberState = proberstate.Next(mp.proberState, event, mp.Cfg)
	mp.std.HandleProberLabel(mp.proberState.Label)
	mp.store.PublishLinkProberMetric(mp.Port, mp.proberState.Label, mp.proberSession)
}

func (mp *MuxPort) applySelfEvent(event proberstate.SessionEvent) {
	mp.selfState = proberstate.NextSelf(mp.selfState, event, mp.Cfg)
	mp.aa.HandleSelfLabel(mp.selfState.Label)
}

func (mp *MuxPort) applyPeerEvent(event proberstate.PeerEvent) {
	mp.peerState = proberstate.NextPeer(mp.peerState, event, mp.Cfg)
	mp.aa.HandlePeerLabel(mp.peerState.Label)
}

// handleHostLinkEvent debounces a raw netlink notification (spec.md
// §4.3's LinkStateMachine) and forwards the resulting label to the
// composite, mirroring original_source's handleStateChange(label) call
// shape directly rather than routing through the state-store (the
// store's setLinkState input is for externally-supplied link state,
// not this daemon's own netlink-derived reading).
func (mp *MuxPort) handleHostLinkEvent(event linkstate.Event) {
	mp.linkState = linkstate.Next(mp.linkState, event, mp.Cfg)
	if mp.std != nil {
		mp.std.HandleLinkLabel(mp.linkState.Label)
	}
	mp.store.SetLinkState(mp.Port, mp.linkState.Label)
}

// HandleDriverNotification reacts to a driver-originated mux-state
// reply (spec.md §6.2). The daemon's routing layer is expected to
// demultiplex driver.Notification by Port and post this onto the right
// MuxPort's strand (a driver.Client is shared across every port).
func (mp *MuxPort) HandleDriverNotification(n driver.Notification) {
	mp.strand.Post(func() { mp.handleDriverNotification(n) })
}

func (mp *MuxPort) handleDriverNotification(n driver.Notification) {
	mp.muxState = muxstate.Next(mp.muxState, muxEventFor(n.Label), mp.Cfg)
	if mp.std != nil {
		mp.std.HandleMuxLabel(mp.muxState.Label)
	}
	if mp.aa != nil {
		mp.aa.HandleMuxLabel(mp.muxState.Label)
	}
	mp.store.PublishMuxState(mp.Port, mp.muxState.Label)

	// spec.md §9 Open Question decision: a driver Failure reply is
	// treated as an Unknown hint that additionally always forces a
	// fresh probe, rather than waiting for the next scheduled one.
	if n.Label == driver.LabelFailure {
		if err := mp.driver.ProbeMuxState(context.Background(), mp.Port); err != nil {
			mp.log.WithError(err).Debug("driver probe-mux-state request failed after Failure reply")
		}
	}
}

func muxEventFor(l driver.Label) muxstate.Event {
	switch l {
	case driver.LabelActive:
		return muxstate.MuxActive
	case driver.LabelStandby:
		return muxstate.MuxStandby
	case driver.LabelError:
		return muxstate.MuxError
	default: // LabelUnknown, LabelFailure
		return muxstate.MuxUnknown
	}
}

// onStoreUpdate reacts to externally-supplied port-record changes
// (spec.md §2 item 7: "receives config/link/address/default-route/peer
// updates"). Only the fields this implementation has a composite
// action for are diffed; PeerLinkState/PeerMuxState/SoCIPv4 remain
// informational-only in this slice (surfaced read-only through
// pkg/statusui) since spec.md's composite transition table names no
// action keyed directly off them beyond what the prober/driver paths
// above already cover.
func (mp *MuxPort) onStoreUpdate(port string, record statestore.PortRecord) {
	if port != mp.Port {
		return
	}
	mp.strand.Post(func() { mp.applyStoreUpdate(record) })
}

func (mp *MuxPort) applyStoreUpdate(record statestore.PortRecord) {
	prev := mp.lastRecord
	mp.lastRecord = record

	if !prev.ServerIPv4.Equal(record.ServerIPv4) {
		firstArrival := len(prev.ServerIPv4) == 0 && len(record.ServerIPv4) != 0
		mp.Cfg.ServerIPv4 = record.ServerIPv4
		mp.refreshFrameParams()
		if firstArrival {
			mp.activateServerIpv4()
		}
	}
	if !bytes.Equal(prev.ServerMAC, record.ServerMAC) {
		firstArrival := len(prev.ServerMAC) == 0 && len(record.ServerMAC) != 0
		mp.Cfg.ServerMAC = record.ServerMAC
		mp.refreshFrameParams()
		if firstArrival {
			mp.activateServerMac()
		}
	}
	if prev.MuxMode != record.MuxMode && mp.std != nil {
		mp.std.HandleMuxConfigNotification(record.MuxMode)
	}
	if prev.DefaultRoute != record.DefaultRoute && mp.std != nil {
		mp.std.HandleDefaultRouteStateNotification(record.DefaultRoute)
	}
}

func (mp *MuxPort) activateServerIpv4() {
	if mp.std != nil {
		mp.std.HandleServerIpv4Notification()
	}
	if mp.aa != nil {
		mp.aa.HandleServerIpv4Notification()
	}
}

func (mp *MuxPort) activateServerMac() {
	if mp.std != nil {
		mp.std.HandleServerMacNotification()
	}
	if mp.aa != nil {
		mp.aa.HandleServerMacNotification()
	}
}

func (mp *MuxPort) refreshFrameParams() {
	mp.prober.SetPendingFrameParams(mp.frameParams())
	mp.prober.UpdateEthernetFrame()
}
