// Package statusui exposes a small read-only HTTP+WebSocket diagnostics
// surface over a daemon's live per-port state: composite-state
// transitions, health, and the durable switchover timeline. It is the
// equivalent of the teacher's pkg/webui, repurposed from bonding-session
// traffic stats to port/composite-state stats, and is explicitly not a
// production RPC/transport surface.
package statusui

import (
	"net"
	"time"

	"github.com/dualtor/muxmgrd/pkg/composite"
)

// Config contains statusui server configuration.
type Config struct {
	// ListenAddr is the address to listen on.
	ListenAddr string

	// ListenPort is the port to listen on.
	ListenPort int
}

// DefaultConfig returns default statusui configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: "127.0.0.1",
		ListenPort: 8090,
	}
}

// APIResponse is a standard API envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// PortSnapshot is the JSON view of one port's current statestore record.
type PortSnapshot struct {
	Port          string `json:"port"`
	ServerIPv4    string `json:"server_ipv4,omitempty"`
	SoCIPv4       string `json:"soc_ipv4,omitempty"`
	ServerMAC     string `json:"server_mac,omitempty"`
	LinkState     string `json:"link_state"`
	PeerLinkState string `json:"peer_link_state"`
	PeerMuxState  string `json:"peer_mux_state"`
	MuxMode       string `json:"mux_mode"`
	DefaultRoute  string `json:"default_route"`
	MuxState      string `json:"mux_state"`
	Health        string `json:"health"`
	UnknownPkts   uint64 `json:"unknown_packets"`
	TotalPkts     uint64 `json:"total_packets"`
}

func defaultRouteString(r composite.DefaultRoute) string {
	if r == composite.DefaultRouteNA {
		return "NA"
	}
	return "OK"
}

func ipString(ip net.IP) string {
	if len(ip) == 0 {
		return ""
	}
	return ip.String()
}

func macString(mac net.HardwareAddr) string {
	if len(mac) == 0 {
		return ""
	}
	return mac.String()
}

// SwitchHistoryEntry is the JSON view of one durable switchover event.
type SwitchHistoryEntry struct {
	Starting bool      `json:"starting"`
	Cause    string    `json:"cause"`
	Recorded time.Time `json:"recorded"`
}

// WebSocketMessage is the envelope every message sent over /ws uses.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// EventType names the kind of a statusui.Event.
type EventType string

const EventPortUpdate EventType = "port_update"

// Event is a single state change pushed to connected WebSocket clients.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Port      string      `json:"port"`
	Data      interface{} `json:"data"`
}

