package proberstate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dualtor/muxmgrd/pkg/muxconfig"
)

func testConfig() muxconfig.MuxPortConfig {
	cfg := muxconfig.Default()
	cfg.PositiveRetryCount = 2
	cfg.NegativeRetryCount = 2
	return cfg
}

func TestWaitToActiveRequiresThreshold(t *testing.T) {
	cfg := testConfig()
	s := Initial(muxconfig.ActiveStandby)
	require := assert.New(t)
	require.Equal(Wait, s.Label)

	s = Next(s, IcmpSelf, cfg)
	require.Equal(Wait, s.Label, "one Self event must not flip the label below threshold P=2")

	s = Next(s, IcmpSelf, cfg)
	require.Equal(Active, s.Label)
}

func TestActiveToStandbyOnPeerThreshold(t *testing.T) {
	cfg := testConfig()
	s := State{Label: Active}

	s = Next(s, IcmpPeer, cfg)
	assert.Equal(t, Active, s.Label)
	s = Next(s, IcmpPeer, cfg)
	assert.Equal(t, Standby, s.Label)
}

func TestSelfResetsOpposingCountersInActive(t *testing.T) {
	cfg := testConfig()
	s := State{Label: Active, PeerCount: 1}
	s = Next(s, IcmpSelf, cfg)
	assert.Equal(t, 0, s.PeerCount, "a Self event while Active must reset the peer counter")
}

func TestWaitUnknownActiveStandbyResetsCounters(t *testing.T) {
	cfg := testConfig()
	s := State{Label: Wait, SelfCount: 1}
	s = Next(s, IcmpUnknown, cfg)
	assert.Equal(t, State{Label: Wait}, s, "active/standby Wait+Unknown resets all counters per spec.md §4.3")
}

func TestWaitUnknownActiveActiveDebouncesToUnknown(t *testing.T) {
	cfg := testConfig()
	cfg.CableType = muxconfig.ActiveActive
	s := State{Label: Wait}
	s = Next(s, IcmpUnknown, cfg)
	assert.Equal(t, Wait, s.Label)
	s = Next(s, IcmpUnknown, cfg)
	assert.Equal(t, Unknown, s.Label)
}

func TestIdempotentAtSteadyState(t *testing.T) {
	cfg := testConfig()
	s := State{Label: Standby}
	before := s
	s = Next(s, IcmpPeer, cfg)
	assert.Equal(t, before, s, "repeating the winning event at steady state changes nothing (spec.md §8 property 5)")
}

func TestSelfSessionDebounce(t *testing.T) {
	cfg := testConfig()
	s := SelfState{Label: SelfInit}
	s = NextSelf(s, SelfEventIcmpSelf, cfg)
	assert.Equal(t, SelfInit, s.Label)
	s = NextSelf(s, SelfEventIcmpSelf, cfg)
	assert.Equal(t, SelfUp, s.Label)

	s = NextSelf(s, SelfEventIcmpUnknown, cfg)
	assert.Equal(t, SelfUp, s.Label)
	s = NextSelf(s, SelfEventIcmpUnknown, cfg)
	assert.Equal(t, SelfDown, s.Label)
}

func TestPeerSessionDebounce(t *testing.T) {
	cfg := testConfig()
	s := PeerState{Label: PeerWait}
	s = NextPeer(s, IcmpPeerActive, cfg)
	assert.Equal(t, PeerWait, s.Label)
	s = NextPeer(s, IcmpPeerActive, cfg)
	assert.Equal(t, PeerActive, s.Label)

	s = NextPeer(s, IcmpPeerUnknown, cfg)
	assert.Equal(t, PeerActive, s.Label)
	s = NextPeer(s, IcmpPeerUnknown, cfg)
	assert.Equal(t, PeerUnknown, s.Label)
}
