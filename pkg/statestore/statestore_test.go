package statestore

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dualtor/muxmgrd/pkg/composite"
	"github.com/dualtor/muxmgrd/pkg/linkstate"
	"github.com/dualtor/muxmgrd/pkg/muxconfig"
	"github.com/dualtor/muxmgrd/pkg/proberstate"
)

func TestSetAndGetInputsAccumulate(t *testing.T) {
	s := New(nil)
	s.SetServerIpv4("Ethernet0", net.ParseIP("10.0.0.1"))
	s.SetServerMac("Ethernet0", net.HardwareAddr{0, 1, 2, 3, 4, 5})
	s.SetLinkState("Ethernet0", linkstate.Up)

	r := s.Get("Ethernet0")
	assert.Equal(t, net.ParseIP("10.0.0.1"), r.ServerIPv4)
	assert.NotNil(t, r.ServerMAC)
}

func TestPublishNotifiesSubscribers(t *testing.T) {
	s := New(nil)
	var seen []composite.Health
	s.Subscribe(func(port string, r PortRecord) { seen = append(seen, r.Health) })

	s.PublishHealth("Ethernet0", composite.Healthy)
	s.PublishHealth("Ethernet0", composite.Unhealthy)

	require.Len(t, seen, 2)
	assert.Equal(t, composite.Healthy, seen[0])
	assert.Equal(t, composite.Unhealthy, seen[1])
}

func TestResetPckLossCountClearsBothCounters(t *testing.T) {
	s := New(nil)
	s.PublishPckLossRatio("Ethernet0", 5, 10)
	s.ResetPckLossCount("Ethernet0")

	r := s.Get("Ethernet0")
	assert.Zero(t, r.UnknownPackets)
	assert.Zero(t, r.TotalPackets)
}

func TestAuditLogRecordsSwitchHistory(t *testing.T) {
	dir := t.TempDir()
	audit, err := OpenAuditLog(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	defer audit.Close()

	s := New(audit)
	s.PublishSwitchingMetric("Ethernet0", true, muxconfig.CauseLinkDown)
	s.PublishSwitchingMetric("Ethernet0", false, muxconfig.CauseLinkDown)

	history, err := s.audit.SwitchHistory("Ethernet0", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, string(muxconfig.CauseLinkDown), history[0].Cause)
}

func TestAuditLogSurvivesMissingDirectoryGracefully(t *testing.T) {
	_, err := OpenAuditLog(filepath.Join(t.TempDir(), "nested", "does-not-exist", "audit.db"))
	assert.Error(t, err, "sqlite cannot create a db file under a missing directory")
}

func TestStoreSatisfiesCompositeStateStore(t *testing.T) {
	var _ composite.StateStore = New(nil)
}

func TestPublishLinkProberMetricDoesNotMutateRecord(t *testing.T) {
	s := New(nil)
	before := s.Get("Ethernet0")
	s.PublishLinkProberMetric("Ethernet0", proberstate.Active, "session-1")
	after := s.Get("Ethernet0")
	assert.Equal(t, before, after, "link-prober metric is audit-only, not part of the live snapshot")
}

