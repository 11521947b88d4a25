// Package linkprober implements the LinkProber of spec.md §4.2: a raw
// ICMP heartbeat sender/receiver, classifying replies into Self/Peer/
// Unknown and relaying peer TLV commands, driven entirely from its
// owning port's strand.
package linkprober

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/dualtor/muxmgrd/pkg/muxconfig"
	"github.com/dualtor/muxmgrd/pkg/wire"
)

// Callbacks reports classified events back to the composite state
// machine (via the proberstate/composite glue the owning pkg/muxport
// wires up). Kept as plain function values for the same reason
// composite.ProberHooks is: spec.md §9's friend-class test-hook
// pattern, generalized to this collaborator.
type Callbacks struct {
	// active/standby classification (spec.md §4.2 "Classification").
	ReportSelf    func()
	ReportPeer    func()
	ReportUnknown func()

	// active/active: self and peer are independent sightings per interval.
	ReportSelfSeen    func()
	ReportSelfUnknown func()
	ReportPeerSeen    func()
	ReportPeerUnknown func()

	ReportSwitchActiveRequest func()
	ReportMuxProbeRequest     func()

	ReportPacketCounts func(unknown, total uint64)
}

// Prober is the per-port LinkProber. All exported methods must be
// invoked from the owning port's strand except the internal receive
// goroutine, which hands frames back to the strand via post before
// touching any state (spec.md §5 "shared resources ... only the port
// strand touches them").
type Prober struct {
	Port string
	Cfg  muxconfig.MuxPortConfig

	guid    [8]byte
	cookie  uint32
	params  wire.FrameParams
	pending *wire.FrameParams

	builder   *wire.Builder
	newSocket SocketFactory
	sock      Socket
	post      func(func())
	callbacks Callbacks
	clock     clockwork.Clock
	log       *logrus.Entry

	intervalTimer   clockwork.Timer
	switchoverTimer clockwork.Timer
	currentInterval time.Duration

	txSuspended bool
	txShutdown  bool

	sawSelf, sawPeer bool
	payloadSeq       uint64
	totalPackets     uint64
	unknownPackets   uint64

	stopCh chan struct{}
}

// New constructs a Prober in its power-on (uninitialized) state. guid
// is the process-wide instance GUID generated once at daemon startup
// (spec.md §4.2, §9 "Global mutables") and handed to every port.
func New(port string, cfg muxconfig.MuxPortConfig, guid [8]byte, cookie uint32, params wire.FrameParams, newSocket SocketFactory, post func(func()), callbacks Callbacks, clock clockwork.Clock, log *logrus.Entry) *Prober {
	return &Prober{
		Port:            port,
		Cfg:             cfg,
		guid:            guid,
		cookie:          cookie,
		params:          params,
		builder:         wire.NewBuilder(params),
		newSocket:       newSocket,
		post:            post,
		callbacks:       callbacks,
		clock:           clock,
		log:             log.WithField("port", port),
		currentInterval: cfg.ProbeInterval,
	}
}

// Initialize opens the raw socket and installs the BPF filter (spec.md
// §4.2 "initialize"). Failures are logged rather than returned: this is
// wired as a composite.ProberHooks function value, which carries no
// error channel, so operators see setup failures through the structured
// log rather than a transition.
func (p *Prober) Initialize() {
	sock, err := p.newSocket()
	if err != nil {
		p.log.WithError(err).Error("linkprober: open raw socket failed")
		return
	}
	prog, err := BuildFilter(p.params.SrcIP, p.params.DstIP, p.params.Identifier)
	if err != nil {
		p.log.WithError(err).Error("linkprober: build bpf filter failed")
		sock.Close()
		return
	}
	if err := sock.SetFilter(prog); err != nil {
		p.log.WithError(err).Error("linkprober: install bpf filter failed")
		sock.Close()
		return
	}
	p.sock = sock
}

// StartProbing arms the interval timer and starts the receive loop
// (spec.md §4.2 "startProbing").
func (p *Prober) StartProbing() {
	if p.sock == nil {
		p.log.Warn("linkprober: startProbing called before a successful initialize")
		return
	}
	p.stopCh = make(chan struct{})
	go p.receiveLoop(p.sock, p.stopCh)
	p.armIntervalTimer()
}

// Close stops the receive loop and releases the raw socket. Not part
// of the spec.md §4.2 operations table; used at daemon shutdown.
func (p *Prober) Close() error {
	p.cancelIntervalTimer()
	if p.switchoverTimer != nil {
		p.switchoverTimer.Stop()
		p.switchoverTimer = nil
	}
	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
	if p.sock != nil {
		err := p.sock.Close()
		p.sock = nil
		return err
	}
	return nil
}

// SuspendTx implements spec.md §4.2 "suspendTxProbes": transmission is
// paused; the composite owns the suspend-duration timer and calls
// ResumeTx on expiry, so d is accepted only to satisfy the hook
// signature shared with composite.ProberHooks.
func (p *Prober) SuspendTx(d time.Duration) {
	p.txSuspended = true
}

// ResumeTx implements spec.md §4.2 "resumeTxProbes".
func (p *Prober) ResumeTx() {
	p.txSuspended = false
}

// ShutdownTx implements spec.md §4.2 "shutdownTxProbes".
func (p *Prober) ShutdownTx() {
	p.txShutdown = true
	p.cancelIntervalTimer()
}

// RestartTx implements spec.md §4.2 "restartTxProbes".
func (p *Prober) RestartTx() {
	p.txShutdown = false
	if p.sock != nil {
		p.armIntervalTimer()
	}
}

// SetPendingFrameParams records a MAC/IP change to apply on the next
// UpdateEthernetFrame call (spec.md §4.2: recomputing static headers is
// its own strand-posted operation, distinct from the notification that
// triggers it).
func (p *Prober) SetPendingFrameParams(params wire.FrameParams) {
	p.pending = &params
}

// UpdateEthernetFrame implements spec.md §4.2 "updateEthernetFrame".
func (p *Prober) UpdateEthernetFrame() {
	if p.pending == nil {
		return
	}
	p.params = *p.pending
	p.builder.UpdateParams(p.params)
	p.pending = nil
}

// ProbePeerTor implements spec.md §4.2 "probePeerTor": one extra
// heartbeat sent out-of-cadence, without disturbing the interval timer.
func (p *Prober) ProbePeerTor() {
	p.sendHeartbeat()
}

// SendPeerSwitchCommand implements spec.md §4.2 "sendPeerSwitchCommand".
func (p *Prober) SendPeerSwitchCommand() {
	p.sendCommandBurst(wire.CommandSwitchActive)
}

// SendPeerProbeCommand implements spec.md §4.2 "sendPeerProbeCommand".
func (p *Prober) SendPeerProbeCommand() {
	p.sendCommandBurst(wire.CommandMuxProbe)
}

func (p *Prober) sendCommandBurst(cmd wire.Command) {
	tail := wire.AppendCommand(nil, cmd)
	tail = wire.AppendSentinel(tail)
	p.builder.SetTail(tail)
	for i := 0; i < p.Cfg.PeerSwitchHeartbeats; i++ {
		p.sendHeartbeat()
	}
	p.builder.DefaultTail()
}

// DecreaseIntervalAfterSwitch implements spec.md §4.2
// "decreaseProbeIntervalAfterSwitch".
func (p *Prober) DecreaseIntervalAfterSwitch(window time.Duration) {
	p.currentInterval = p.Cfg.DecreasedProbeInterval
	p.armIntervalTimer()
	if p.switchoverTimer != nil {
		p.switchoverTimer.Stop()
	}
	p.switchoverTimer = p.clock.AfterFunc(window, p.RevertIntervalAfterSwitchComplete)
}

// RevertIntervalAfterSwitchComplete implements spec.md §4.2
// "revertProbeIntervalAfterSwitchComplete".
func (p *Prober) RevertIntervalAfterSwitchComplete() {
	p.currentInterval = p.Cfg.ProbeInterval
	if p.switchoverTimer != nil {
		p.switchoverTimer.Stop()
		p.switchoverTimer = nil
	}
	if p.sock != nil {
		p.armIntervalTimer()
	}
}

// ResetIcmpPacketCounts implements spec.md §4.2 "resetIcmpPacketCounts".
func (p *Prober) ResetIcmpPacketCounts() {
	p.totalPackets, p.unknownPackets = 0, 0
	if p.callbacks.ReportPacketCounts != nil {
		p.callbacks.ReportPacketCounts(0, 0)
	}
}

func (p *Prober) armIntervalTimer() {
	if p.intervalTimer != nil {
		p.intervalTimer.Stop()
	}
	p.intervalTimer = p.clock.AfterFunc(p.currentInterval, p.onIntervalTick)
}

func (p *Prober) cancelIntervalTimer() {
	if p.intervalTimer != nil {
		p.intervalTimer.Stop()
		p.intervalTimer = nil
	}
}

// onIntervalTick evaluates the interval that just ended, classifying it
// as Self/Peer/Unknown (or the self/peer pair in active/active), sends
// the next heartbeat unless TX is suspended or shut down, and re-arms
// itself (spec.md §4.2 "intervalTimer").
func (p *Prober) onIntervalTick() {
	p.intervalTimer = nil
	p.evaluateInterval()
	if !p.txShutdown && !p.txSuspended && p.sock != nil {
		p.sendHeartbeat()
	}
	p.armIntervalTimer()
}

func (p *Prober) evaluateInterval() {
	p.totalPackets++
	if p.Cfg.CableType == muxconfig.ActiveActive {
		if p.sawSelf {
			call(p.callbacks.ReportSelfSeen)
		} else {
			call(p.callbacks.ReportSelfUnknown)
		}
		if p.sawPeer {
			call(p.callbacks.ReportPeerSeen)
		} else {
			call(p.callbacks.ReportPeerUnknown)
		}
		if !p.sawSelf && !p.sawPeer {
			p.unknownPackets++
		}
	} else {
		switch {
		case p.sawSelf:
			call(p.callbacks.ReportSelf)
		case p.sawPeer:
			call(p.callbacks.ReportPeer)
		default:
			p.unknownPackets++
			call(p.callbacks.ReportUnknown)
		}
	}
	if p.callbacks.ReportPacketCounts != nil {
		p.callbacks.ReportPacketCounts(p.unknownPackets, p.totalPackets)
	}
	p.sawSelf, p.sawPeer = false, false
}

func (p *Prober) sendHeartbeat() {
	p.payloadSeq++
	frame, err := p.builder.Build(p.guid, p.payloadSeq, p.cookie)
	if err != nil {
		p.log.WithError(err).Warn("linkprober: build heartbeat frame failed")
		return
	}
	if err := p.sock.Send(frame); err != nil {
		// spec.md §4.8: log, keep state; recovery on next interval.
		p.log.WithError(err).Debug("linkprober: raw socket send failed")
	}
}

// receiveLoop owns the raw socket read side; it never touches Prober
// state directly, only hands decoded frames back to the strand via
// post (spec.md §5 "only the port strand touches them").
func (p *Prober) receiveLoop(sock Socket, stop <-chan struct{}) {
	buf := make([]byte, wire.MaxBufferSize)
	for {
		select {
		case <-stop:
			return
		default:
		}
		_ = sock.SetReadDeadline(time.Now().Add(p.Cfg.ProbeInterval))
		n, err := sock.Recv(buf)
		select {
		case <-stop:
			return
		default:
		}
		if err != nil {
			continue // spec.md §4.8: log, keep state; recovery on next interval
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		p.post(func() { p.handleFrame(frame) })
	}
}

// handleFrame classifies one received frame as Self/Peer and relays any
// peer TLV command (spec.md §4.2 "Classification", "TLV handling").
// Parse/cookie mismatches are dropped silently: spec.md §7's ParseError
// policy ("skip the offending packet; counters unaffected") applies.
func (p *Prober) handleFrame(raw []byte) {
	parsed, err := wire.Parse(raw)
	if err != nil {
		return
	}
	if parsed.Payload.Cookie != p.cookie {
		return
	}
	if parsed.Payload.GUID == p.guid {
		p.sawSelf = true
	} else {
		p.sawPeer = true
	}

	tlvs, err := wire.All(parsed.TLVTail)
	if err != nil {
		return
	}
	for _, t := range tlvs {
		if t.Type != wire.TlvCommand || len(t.Value) != 1 {
			continue
		}
		switch wire.Command(t.Value[0]) {
		case wire.CommandSwitchActive:
			call(p.callbacks.ReportSwitchActiveRequest)
		case wire.CommandMuxProbe:
			call(p.callbacks.ReportMuxProbeRequest)
		}
	}
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}
