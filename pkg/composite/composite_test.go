package composite

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dualtor/muxmgrd/pkg/linkstate"
	"github.com/dualtor/muxmgrd/pkg/muxconfig"
	"github.com/dualtor/muxmgrd/pkg/muxstate"
	"github.com/dualtor/muxmgrd/pkg/proberstate"
)

type fakeDriver struct {
	setCalls   []muxstate.Label
	probeCalls int
}

func (f *fakeDriver) SetMuxState(ctx context.Context, port string, target muxstate.Label) error {
	f.setCalls = append(f.setCalls, target)
	return nil
}

func (f *fakeDriver) ProbeMuxState(ctx context.Context, port string) error {
	f.probeCalls++
	return nil
}

type fakeStore struct {
	health       []Health
	switchStarts []muxconfig.SwitchCause
	switchEnds   int
}

func (f *fakeStore) PublishMuxState(port string, label muxstate.Label) {}
func (f *fakeStore) PublishHealth(port string, health Health)          { f.health = append(f.health, health) }
func (f *fakeStore) PublishSwitchingMetric(port string, starting bool, cause muxconfig.SwitchCause) {
	if starting {
		f.switchStarts = append(f.switchStarts, cause)
	} else {
		f.switchEnds++
	}
}
func (f *fakeStore) PublishLinkProberMetric(port string, label proberstate.Label, sessionID string) {}
func (f *fakeStore) PublishPckLossRatio(port string, unknown, total uint64)                         {}

type fakeHooks struct {
	suspended  []time.Duration
	resumed    int
	switchCmds int
}

func newFakeHooks() ProberHooks {
	h := &fakeHooks{}
	return ProberHooks{
		Initialize:                        func() {},
		StartProbing:                      func() {},
		UpdateEthernetFrame:                func() {},
		ProbePeerTor:                       func() {},
		SuspendTx:                          func(d time.Duration) { h.suspended = append(h.suspended, d) },
		ResumeTx:                           func() { h.resumed++ },
		ShutdownTx:                         func() {},
		RestartTx:                          func() {},
		SendPeerSwitchCommand:              func() { h.switchCmds++ },
		SendPeerProbeCommand:               func() {},
		DecreaseIntervalAfterSwitch:        func(time.Duration) {},
		RevertIntervalAfterSwitchComplete:  func() {},
		ResetIcmpPacketCounts:              func() {},
	}
}

func testMachine(t *testing.T) (*Machine, *fakeDriver, *fakeStore, clockwork.FakeClock) {
	t.Helper()
	cfg := muxconfig.Default()
	cfg.PositiveRetryCount, cfg.NegativeRetryCount = 2, 2
	cfg.MuxStateRetryCount, cfg.LinkStateRetryCount = 2, 2
	cfg.MuxWaitTimeout = time.Second
	cfg.SuspendTimeout = 5 * time.Second

	driver := &fakeDriver{}
	store := &fakeStore{}
	clock := clockwork.NewFakeClock()
	log := logrus.NewEntry(logrus.New())

	m := New("Ethernet0", cfg, driver, store, newFakeHooks(), clock, log)
	m.HandleServerIpv4Notification()
	m.HandleServerMacNotification()
	m.HandleTorMacNotification()
	require.True(t, m.state.Activated())
	return m, driver, store, clock
}

// S1: MUX Active steady.
func TestScenarioS1ActiveSteady(t *testing.T) {
	m, driver, store, _ := testMachine(t)

	m.HandleLinkLabel(linkstate.Up)
	m.HandleProberLabel(proberstate.Active)
	m.HandleMuxLabel(muxstate.Active)

	assert.Equal(t, proberstate.Active, m.state.Prober)
	assert.Equal(t, muxstate.Active, m.state.Mux)
	assert.Equal(t, linkstate.Up, m.state.Link)
	assert.Empty(t, driver.setCalls, "no toggle should be issued in steady Active")
	require.NotEmpty(t, store.health)
	assert.Equal(t, Healthy, store.health[len(store.health)-1])
}

// S2: peer overtakes — Unknown prober while mux stays Active suspends
// TX, then on suspend-expiry a probe is issued and MuxStandby lands the
// composite on (Unknown, Standby, Up) as Unhealthy.
func TestScenarioS2PeerOvertakes(t *testing.T) {
	m, driver, store, clock := testMachine(t)
	m.HandleLinkLabel(linkstate.Up)
	m.HandleProberLabel(proberstate.Active)
	m.HandleMuxLabel(muxstate.Active)

	m.HandleProberLabel(proberstate.Unknown)
	assert.Equal(t, muxstate.Active, m.state.Mux, "still Active until suspend timer fires")

	clock.Advance(m.Cfg.SuspendTimeout)
	assert.Equal(t, 1, driver.probeCalls, "suspend expiry must force exactly one probe")

	m.HandleMuxLabel(muxstate.Standby)
	assert.Equal(t, muxstate.Standby, m.state.Mux)
	assert.Equal(t, Unhealthy, store.health[len(store.health)-1])
}

// S3: active link down forces a toggle to Standby with cause LinkDown,
// then recovers to (Standby, Standby, Up) on LinkUp.
func TestScenarioS3ActiveLinkDown(t *testing.T) {
	m, driver, _, _ := testMachine(t)
	m.HandleLinkLabel(linkstate.Up)
	m.HandleProberLabel(proberstate.Active)
	m.HandleMuxLabel(muxstate.Active)

	m.HandleLinkLabel(linkstate.Down)
	require.Len(t, driver.setCalls, 1)
	assert.Equal(t, muxstate.Standby, driver.setCalls[0])
	assert.Equal(t, muxconfig.CauseLinkDown, m.state.SwitchCause)
	assert.Equal(t, muxstate.Wait, m.state.Mux)

	m.HandleMuxLabel(muxstate.Standby)
	m.HandleProberLabel(proberstate.Standby) // peer has taken over; our prober converges too
	m.HandleLinkLabel(linkstate.Up)
	assert.Equal(t, muxstate.Standby, m.state.Mux)
	assert.Equal(t, linkstate.Up, m.state.Link)
	assert.Len(t, driver.setCalls, 1, "no extra toggle once (Standby, Standby, Up) is steady")
}

// S5: a peer SWITCH_ACTIVE command requests a toggle to Standby.
func TestScenarioS5PeerRequestsSwitch(t *testing.T) {
	m, driver, _, _ := testMachine(t)
	m.HandleLinkLabel(linkstate.Up)
	m.HandleProberLabel(proberstate.Active)
	m.HandleMuxLabel(muxstate.Active)

	m.HandleSwitchActiveRequest()
	require.Len(t, driver.setCalls, 1)
	assert.Equal(t, muxstate.Standby, driver.setCalls[0])
	assert.Equal(t, muxconfig.CauseTlvSwitchActiveCommand, m.state.SwitchCause)
	assert.Equal(t, muxstate.Wait, m.state.Mux)
}

// S6: repeated driver MuxUnknown eventually forces a toggle with cause
// HarewareStateUnknown after the retry budget is exhausted, without a
// tight loop (bounded by MuxUnknownMaxRetries).
func TestScenarioS6DriverBadFirmware(t *testing.T) {
	m, driver, _, clock := testMachine(t)
	m.Cfg.MuxUnknownMaxRetries = 2
	m.HandleLinkLabel(linkstate.Up)
	m.HandleProberLabel(proberstate.Active)
	m.HandleMuxLabel(muxstate.Active)

	m.HandleMuxLabel(muxstate.Unknown)
	assert.Empty(t, driver.setCalls, "first Unknown must only probe, not toggle")

	// Keep re-entering Unknown (as if every probe reply still says Unknown)
	// until the retry budget is exceeded.
	for i := 0; i < 3; i++ {
		clock.Advance(m.Cfg.ProbeInterval * 10)
		m.HandleMuxLabel(muxstate.Unknown)
	}

	require.Len(t, driver.setCalls, 1, "exactly one forced toggle once retries are exhausted")
	assert.Equal(t, muxconfig.CauseHardwareStateUnknown, m.state.SwitchCause)
}

// Property: a toggle is never emitted while mux==Wait for the same
// port (spec.md §8 property 2).
func TestNoToggleWhileWait(t *testing.T) {
	m, driver, _, _ := testMachine(t)
	m.HandleLinkLabel(linkstate.Up)
	m.HandleProberLabel(proberstate.Active)
	m.HandleMuxLabel(muxstate.Standby) // rule 5 fires -> toggle + Wait
	require.Len(t, driver.setCalls, 1)
	require.Equal(t, muxstate.Wait, m.state.Mux)

	m.HandleLinkLabel(linkstate.Down) // would normally request Standby
	assert.Len(t, driver.setCalls, 1, "no second toggle is emitted while mux==Wait")
}

// Property: repeating the winning notification at steady state changes
// nothing (spec.md §8 property 5).
func TestIdempotentAtSteadyState(t *testing.T) {
	m, driver, store, _ := testMachine(t)
	m.HandleLinkLabel(linkstate.Up)
	m.HandleProberLabel(proberstate.Active)
	m.HandleMuxLabel(muxstate.Active)
	before := len(store.health)

	m.HandleLinkLabel(linkstate.Up)
	m.HandleProberLabel(proberstate.Active)
	m.HandleMuxLabel(muxstate.Active)

	assert.Empty(t, driver.setCalls)
	assert.Equal(t, before, len(store.health), "no further health publication once converged")
}

func TestActivationGatesToggles(t *testing.T) {
	cfg := muxconfig.Default()
	driver := &fakeDriver{}
	store := &fakeStore{}
	clock := clockwork.NewFakeClock()
	m := New("Ethernet4", cfg, driver, store, newFakeHooks(), clock, logrus.NewEntry(logrus.New()))

	m.HandleLinkLabel(linkstate.Down)
	m.HandleProberLabel(proberstate.Active)
	m.HandleMuxLabel(muxstate.Standby)
	assert.Empty(t, driver.setCalls, "no toggle is issued before the 3-bit init mask is complete")
}
