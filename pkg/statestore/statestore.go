// Package statestore implements the state-store adapter consumed and
// produced by the core (spec.md §6.3): an in-memory per-port pub/sub
// table plus a sqlite-backed switchover/health audit log.
//
// Grounded on the teacher's pkg/server/session_manager.go ("manager
// holds maps behind a single RWMutex, exposes Get/Set-shaped methods");
// generalized here from session bookkeeping to per-port forwarding
// state.
package statestore

import (
	"net"
	"sync"
	"time"

	"github.com/dualtor/muxmgrd/pkg/composite"
	"github.com/dualtor/muxmgrd/pkg/linkstate"
	"github.com/dualtor/muxmgrd/pkg/muxconfig"
	"github.com/dualtor/muxmgrd/pkg/muxstate"
	"github.com/dualtor/muxmgrd/pkg/proberstate"
)

// PortRecord is the full set of state the store tracks for one port
// (spec.md §6.3 inputs/outputs combined into one snapshot).
type PortRecord struct {
	ServerIPv4    net.IP
	SoCIPv4       net.IP
	ServerMAC     net.HardwareAddr
	LinkState     linkstate.Label
	PeerLinkState linkstate.Label
	PeerMuxState  muxstate.Label
	MuxMode       muxconfig.Mode
	DefaultRoute  composite.DefaultRoute

	MuxState muxstate.Label
	Health   composite.Health

	UnknownPackets uint64
	TotalPackets   uint64
}

// Subscriber is notified of published port updates. Implementations
// must not block; the store invokes them while holding no lock but on
// the calling goroutine, so slow subscribers should hand off internally
// (e.g. pkg/statusui does this via its websocket hub's own channel).
type Subscriber func(port string, record PortRecord)

// Store is the in-memory pub/sub adapter. One Store is shared by every
// port in the daemon; callers reach it only from their own port's
// strand (spec.md §5 "clients themselves must be thread-safe").
type Store struct {
	mu      sync.RWMutex
	records map[string]PortRecord
	subs    []Subscriber

	audit *AuditLog // optional; nil disables durable history
}

// New constructs an empty Store. audit may be nil.
func New(audit *AuditLog) *Store {
	return &Store{records: make(map[string]PortRecord), audit: audit}
}

// Subscribe registers a callback invoked after every publish.
func (s *Store) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
}

func (s *Store) mutate(port string, fn func(*PortRecord)) {
	s.mu.Lock()
	r := s.records[port]
	fn(&r)
	s.records[port] = r
	subs := append([]Subscriber(nil), s.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub(port, r)
	}
}

// Get returns the current record for a port.
func (s *Store) Get(port string) PortRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[port]
}

// --- Inputs (spec.md §6.3) ---

func (s *Store) SetServerIpv4(port string, addr net.IP) {
	s.mutate(port, func(r *PortRecord) { r.ServerIPv4 = addr })
}

func (s *Store) SetSoCIpv4(port string, addr net.IP) {
	s.mutate(port, func(r *PortRecord) { r.SoCIPv4 = addr })
}

func (s *Store) SetServerMac(port string, mac net.HardwareAddr) {
	s.mutate(port, func(r *PortRecord) { r.ServerMAC = mac })
}

func (s *Store) SetLinkState(port string, label linkstate.Label) {
	s.mutate(port, func(r *PortRecord) { r.LinkState = label })
}

func (s *Store) SetPeerLinkState(port string, label linkstate.Label) {
	s.mutate(port, func(r *PortRecord) { r.PeerLinkState = label })
}

func (s *Store) SetPeerMuxState(port string, label muxstate.Label) {
	s.mutate(port, func(r *PortRecord) { r.PeerMuxState = label })
}

func (s *Store) SetMuxMode(port string, mode muxconfig.Mode) {
	s.mutate(port, func(r *PortRecord) { r.MuxMode = mode })
}

func (s *Store) SetDefaultRoute(port string, route composite.DefaultRoute) {
	s.mutate(port, func(r *PortRecord) { r.DefaultRoute = route })
}

func (s *Store) ResetPckLossCount(port string) {
	s.mutate(port, func(r *PortRecord) { r.UnknownPackets, r.TotalPackets = 0, 0 })
}

// --- Outputs (spec.md §6.3), implementing composite.StateStore ---

func (s *Store) PublishMuxState(port string, label muxstate.Label) {
	s.mutate(port, func(r *PortRecord) { r.MuxState = label })
	if s.audit != nil {
		s.audit.RecordMuxState(port, label, time.Now())
	}
}

func (s *Store) PublishHealth(port string, health composite.Health) {
	s.mutate(port, func(r *PortRecord) { r.Health = health })
	if s.audit != nil {
		s.audit.RecordHealth(port, health, time.Now())
	}
}

func (s *Store) PublishSwitchingMetric(port string, starting bool, cause muxconfig.SwitchCause) {
	if s.audit != nil {
		s.audit.RecordSwitching(port, starting, cause, time.Now())
	}
}

func (s *Store) PublishLinkProberMetric(port string, label proberstate.Label, sessionID string) {
	if s.audit != nil {
		s.audit.RecordLinkProberMetric(port, label, sessionID, time.Now())
	}
}

func (s *Store) PublishPckLossRatio(port string, unknown, total uint64) {
	s.mutate(port, func(r *PortRecord) { r.UnknownPackets, r.TotalPackets = unknown, total })
}
