package muxport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dualtor/muxmgrd/pkg/composite"
	"github.com/dualtor/muxmgrd/pkg/driver"
	"github.com/dualtor/muxmgrd/pkg/linkprober"
	"github.com/dualtor/muxmgrd/pkg/linkstate"
	"github.com/dualtor/muxmgrd/pkg/muxconfig"
	"github.com/dualtor/muxmgrd/pkg/muxstate"
	"github.com/dualtor/muxmgrd/pkg/proberstate"
	"github.com/dualtor/muxmgrd/pkg/reactor"
	"github.com/dualtor/muxmgrd/pkg/statestore"
)

func testCfg(cableType muxconfig.CableType) muxconfig.MuxPortConfig {
	cfg := muxconfig.Default()
	cfg.PortName = "Ethernet0"
	cfg.CableType = cableType
	cfg.PositiveRetryCount = 2
	cfg.NegativeRetryCount = 2
	cfg.MuxStateRetryCount = 1
	cfg.LinkStateRetryCount = 1
	cfg.TorMAC = net.HardwareAddr{0, 1, 2, 3, 4, 5}
	cfg.ServerMAC = net.HardwareAddr{1, 1, 2, 3, 4, 5}
	cfg.ServerIPv4 = net.IPv4(10, 0, 0, 1)
	cfg.LoopbackIPv4 = net.IPv4(10, 0, 0, 254)
	return cfg
}

type testHarness struct {
	mp     *MuxPort
	store  *statestore.Store
	driver *driver.Fake
	clock  clockwork.FakeClock
}

func newHarness(t *testing.T, cableType muxconfig.CableType) *testHarness {
	t.Helper()
	cfg := testCfg(cableType)

	r := reactor.New(2)
	t.Cleanup(r.Stop)

	store := statestore.New(nil)
	clock := clockwork.NewFakeClock()

	h := &testHarness{store: store, clock: clock}
	fake := driver.NewFake(func(n driver.Notification) { h.mp.HandleDriverNotification(n) })
	fake.Register(cfg.PortName, muxstate.Standby)
	h.driver = fake

	deps := Deps{
		Store:     store,
		Driver:    fake,
		Reactor:   r,
		NewSocket: func() (linkprober.Socket, error) { return linkprober.NewFakeSocket(), nil },
		Clock:     clock,
		Log:       logrus.NewEntry(logrus.New()),
		GUID:      [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
	}
	h.mp = New(cfg, deps)
	t.Cleanup(func() { h.mp.prober.Close() })
	return h
}

func (h *testHarness) activate() {
	h.mp.torMacKnown()
	h.mp.activateServerIpv4()
	h.mp.activateServerMac()
}

func TestActivationStartsLinkProberOnlyOnceAllThreeSignalsArrive(t *testing.T) {
	h := newHarness(t, muxconfig.ActiveStandby)

	fs := h.mp.prober // sanity: prober exists before activation
	require.NotNil(t, fs)

	h.mp.torMacKnown()
	h.mp.activateServerIpv4()
	assert.False(t, h.mp.std.(*composite.Machine).State().Activated())

	h.mp.activateServerMac()
	assert.True(t, h.mp.std.(*composite.Machine).State().Activated())
}

// seedMuxOutOfWait simulates the driver's initial probe reply that, in
// production, moves the MUX child out of its power-on Wait label before
// any prober/store-driven toggle can take effect (switchMuxState/
// switchSelfMux both treat Mux==Wait as "a toggle is already in
// flight" and decline to start a second one).
func (h *testHarness) seedMuxOutOfWait(label driver.Label) {
	h.mp.handleDriverNotification(driver.Notification{Port: h.mp.Port, Label: label})
}

func TestIcmpSelfEventsToggleMuxToActive(t *testing.T) {
	h := newHarness(t, muxconfig.ActiveStandby)
	h.activate()
	h.seedMuxOutOfWait(driver.LabelStandby)
	h.mp.handleHostLinkEvent(linkstate.LinkUp)

	h.mp.applyProberEvent(proberstate.IcmpSelf)
	h.mp.applyProberEvent(proberstate.IcmpSelf)
	assert.Equal(t, proberstate.Active, h.mp.proberState.Label)

	require.Eventually(t, func() bool {
		return h.store.Get(h.mp.Port).MuxState == muxstate.Active
	}, time.Second, time.Millisecond)
}

func TestHostLinkDownOnActiveRequestsStandby(t *testing.T) {
	h := newHarness(t, muxconfig.ActiveStandby)
	h.activate()
	h.seedMuxOutOfWait(driver.LabelStandby)
	h.mp.handleHostLinkEvent(linkstate.LinkUp)

	h.mp.applyProberEvent(proberstate.IcmpSelf)
	h.mp.applyProberEvent(proberstate.IcmpSelf)
	require.Eventually(t, func() bool {
		return h.store.Get(h.mp.Port).MuxState == muxstate.Active
	}, time.Second, time.Millisecond)

	h.mp.handleHostLinkEvent(linkstate.LinkUp)
	assert.Equal(t, linkstate.Up, h.mp.linkState.Label)

	h.mp.handleHostLinkEvent(linkstate.LinkDown)
	assert.Equal(t, linkstate.Down, h.mp.linkState.Label)

	require.Eventually(t, func() bool {
		return h.store.Get(h.mp.Port).MuxState == muxstate.Standby
	}, time.Second, time.Millisecond)
}

func TestStoreUpdateAppliesMuxModeConfigChange(t *testing.T) {
	h := newHarness(t, muxconfig.ActiveStandby)
	h.activate()
	h.seedMuxOutOfWait(driver.LabelStandby)
	require.Eventually(t, func() bool {
		return h.store.Get(h.mp.Port).MuxState == muxstate.Standby
	}, time.Second, time.Millisecond)

	rec := h.store.Get(h.mp.Port)
	rec.MuxMode = muxconfig.ModeActive
	h.mp.applyStoreUpdate(rec)

	require.Eventually(t, func() bool {
		return h.store.Get(h.mp.Port).MuxState == muxstate.Active
	}, time.Second, time.Millisecond)
}

func TestDriverFailureReplyForcesImmediateProbe(t *testing.T) {
	h := newHarness(t, muxconfig.ActiveStandby)
	h.activate()

	probes := 0
	counting := countingDriver{Client: h.driver, onProbe: func() { probes++ }}
	h.mp.driver = counting

	h.mp.handleDriverNotification(driver.Notification{Port: h.mp.Port, Label: driver.LabelFailure})
	assert.Equal(t, 1, probes)
	assert.Equal(t, muxstate.Unknown, h.mp.muxState.Label)
}

type countingDriver struct {
	driver.Client
	onProbe func()
}

func (c countingDriver) ProbeMuxState(ctx context.Context, port string) error {
	c.onProbe()
	return c.Client.ProbeMuxState(ctx, port)
}

func TestActiveActivePeerEventsDriveIndependentPeerMux(t *testing.T) {
	h := newHarness(t, muxconfig.ActiveActive)
	h.activate()
	h.seedMuxOutOfWait(driver.LabelStandby)

	h.mp.applyPeerEvent(proberstate.IcmpPeerActive)
	h.mp.applyPeerEvent(proberstate.IcmpPeerActive)
	assert.Equal(t, proberstate.PeerUp, h.mp.peerState.Label)

	h.mp.applySelfEvent(proberstate.SelfEventIcmpSelf)
	h.mp.applySelfEvent(proberstate.SelfEventIcmpSelf)
	assert.Equal(t, proberstate.SelfUp, h.mp.selfState.Label)

	require.Eventually(t, func() bool {
		return h.store.Get(h.mp.Port).MuxState == muxstate.Active
	}, time.Second, time.Millisecond)
}
