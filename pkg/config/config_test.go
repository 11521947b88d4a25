package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dualtor/muxmgrd/pkg/muxconfig"
)

const sampleYAML = `
reactor_workers: 8
status_addr: 127.0.0.1
status_port: 9090
audit_db_path: /var/lib/muxmgrd/audit.db

ports:
  - name: Ethernet0
    server_id: 1
    server_ipv4: 10.0.0.1
    soc_ipv4: 10.0.0.2
    tor_mac: 00:11:22:33:44:55
    server_mac: 00:11:22:33:44:66
    probe_interval: 50ms
    mode: active
    cable_type: active-active
    positive_retry_count: 5
  - name: Ethernet4
    server_id: 2
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ports.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	return path
}

func TestLoadParsesDaemonGlobals(t *testing.T) {
	l, err := Load(writeSample(t))
	require.NoError(t, err)

	d := l.Current()
	assert.Equal(t, 8, d.ReactorWorkers)
	assert.Equal(t, "127.0.0.1", d.StatusAddr)
	assert.Equal(t, 9090, d.StatusPort)
	assert.Equal(t, "/var/lib/muxmgrd/audit.db", d.AuditDBPath)
	assert.Equal(t, "unix:///var/run/muxmgrd/driver.sock", d.DriverAddr)
	require.Len(t, d.Ports, 2)
}

func TestLoadOverridesDefaultsPerField(t *testing.T) {
	l, err := Load(writeSample(t))
	require.NoError(t, err)

	port := l.Current().Ports[0]
	assert.Equal(t, "Ethernet0", port.PortName)
	assert.Equal(t, uint16(1), port.ServerID)
	assert.Equal(t, "10.0.0.1", port.ServerIPv4.String())
	assert.Equal(t, "10.0.0.2", port.SoCIPv4.String())
	assert.Equal(t, 50*time.Millisecond, port.ProbeInterval)
	assert.Equal(t, muxconfig.ModeActive, port.Mode)
	assert.Equal(t, muxconfig.ActiveActive, port.CableType)
	assert.Equal(t, 5, port.PositiveRetryCount)

	// untouched fields keep the conventional default
	assert.Equal(t, 3, port.NegativeRetryCount)
	assert.Equal(t, 5*time.Second, port.SuspendTimeout)
}

func TestLoadAppliesFullDefaultsWhenFieldsOmitted(t *testing.T) {
	l, err := Load(writeSample(t))
	require.NoError(t, err)

	port := l.Current().Ports[1]
	assert.Equal(t, "Ethernet4", port.PortName)
	assert.Equal(t, muxconfig.ModeAuto, port.Mode)
	assert.Equal(t, muxconfig.ActiveStandby, port.CableType)
	assert.Equal(t, 100*time.Millisecond, port.ProbeInterval)
	assert.Nil(t, port.ServerIPv4)
}

func TestLoadRejectsInvalidMAC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ports:
  - name: Ethernet0
    tor_mac: not-a-mac
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ports:
  - name: Ethernet0
    mode: bogus
`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestOnChangeListenersReceiveReload(t *testing.T) {
	path := writeSample(t)
	l, err := Load(path)
	require.NoError(t, err)

	received := make(chan Daemon, 1)
	l.OnChange(func(d Daemon) { received <- d })
	l.Watch()

	require.NoError(t, os.WriteFile(path, []byte(`
reactor_workers: 16
ports:
  - name: Ethernet0
`), 0o644))

	select {
	case d := <-received:
		assert.Equal(t, 16, d.ReactorWorkers)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload notification")
	}
}
