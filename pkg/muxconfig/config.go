// Package muxconfig holds the immutable per-port parameters described in
// spec.md §3 and §6.4, plus the small enumerations shared by every child
// state machine (modes, cable types, switchover causes).
package muxconfig

import (
	"net"
	"time"
)

// CableType distinguishes dual-homed active/standby MUX cables from
// independent active/active attachments (spec.md §3).
type CableType int

const (
	ActiveStandby CableType = iota
	ActiveActive
)

func (c CableType) String() string {
	if c == ActiveActive {
		return "active-active"
	}
	return "active-standby"
}

// Mode is the configured forwarding intent for a port (spec.md §3,
// §6.4). Auto lets the composite state machine decide; the others pin
// the port to a side or detach it entirely.
type Mode int

const (
	ModeAuto Mode = iota
	ModeActive
	ModeManual
	ModeStandby
	ModeDetach
)

func (m Mode) String() string {
	switch m {
	case ModeActive:
		return "active"
	case ModeManual:
		return "manual"
	case ModeStandby:
		return "standby"
	case ModeDetach:
		return "detach"
	default:
		return "auto"
	}
}

// SwitchCause is published alongside SwitchingStart/SwitchingEnd metrics
// (spec.md §7) so operators can see why a toggle was requested.
type SwitchCause string

const (
	CausePeerHeartbeatMissing     SwitchCause = "PeerHeartbeatMissing"
	CausePeerLinkDown             SwitchCause = "PeerLinkDown"
	CauseTlvSwitchActiveCommand   SwitchCause = "TlvSwitchActiveCommand"
	CauseLinkDown                 SwitchCause = "LinkDown"
	CauseTransceiverDaemonTimeout SwitchCause = "TransceiverDaemonTimeout"
	CauseMatchingHardwareState    SwitchCause = "MatchingHardwareState"
	CauseConfigMuxMode            SwitchCause = "ConfigMuxMode"
	CauseHardwareStateUnknown     SwitchCause = "HarewareStateUnknown"
	CauseDefaultRouteNA           SwitchCause = "DefaultRouteNA"
)

// MuxPortConfig carries the immutable parameters of a single port
// (spec.md §3 "Port identity", §6.4 "Configuration"). Mode is the one
// field that legitimately changes at runtime (a configuration update
// event, spec.md §3's "Config mode" row); because every read and write
// happens from the port's own strand (spec.md §4.1), no extra locking
// is needed here.
type MuxPortConfig struct {
	PortName       string
	ServerID       uint16
	LoopbackIPv4   net.IP
	ServerIPv4     net.IP
	SoCIPv4        net.IP // active/active only
	TorMAC         net.HardwareAddr
	ServerMAC      net.HardwareAddr
	UseTorMACAsSrc bool

	ProbeInterval          time.Duration
	DecreasedProbeInterval time.Duration
	SuspendTimeout         time.Duration

	PositiveRetryCount int // P
	NegativeRetryCount int // N
	MuxStateRetryCount int // M
	LinkStateRetryCount int // L

	Mode       Mode
	CableType  CableType

	EnableDefaultRouteFeature   bool
	EnableSwitchoverMeasurement bool

	MuxWaitTimeout        time.Duration
	MuxUnknownBackoffCap  time.Duration
	MuxUnknownMaxRetries  int
	PeerSwitchHeartbeats  int // N heartbeats used to carry SWITCH_ACTIVE/MUX_PROBE commands
}

// Default returns a MuxPortConfig populated with the defaults
// sonic-linkmgrd ships (spec.md §6.4 names the options; the values below
// are the conventional linkmgrd defaults, kept as a single source of
// truth for tests and for pkg/config when a YAML file omits a field).
func Default() MuxPortConfig {
	return MuxPortConfig{
		ProbeInterval:               100 * time.Millisecond,
		DecreasedProbeInterval:      10 * time.Millisecond,
		SuspendTimeout:              5 * time.Second,
		PositiveRetryCount:          3,
		NegativeRetryCount:          3,
		MuxStateRetryCount:          3,
		LinkStateRetryCount:         3,
		Mode:                        ModeAuto,
		CableType:                   ActiveStandby,
		EnableDefaultRouteFeature:   false,
		EnableSwitchoverMeasurement: false,
		MuxWaitTimeout:              1 * time.Second,
		MuxUnknownBackoffCap:        30 * time.Second,
		MuxUnknownMaxRetries:        5,
		PeerSwitchHeartbeats:        3,
	}
}

// Activated reports whether the three initialization signals of
// spec.md §4.7 have all arrived.
func (c MuxPortConfig) Activated() bool {
	return len(c.ServerIPv4) != 0 && len(c.ServerMAC) != 0 && len(c.TorMAC) != 0
}
