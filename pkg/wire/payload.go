// Package wire implements the probe packet wire format of spec.md §6.1:
// Ethernet(IPv4) / IPv4 / ICMP(Echo) / Payload, followed by a TLV tail.
package wire

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// MaxBufferSize is MUX_MAX_ICMP_BUFFER_SIZE from spec.md §6.1: the
// packet buffer cap that must accommodate Ethernet+IP+ICMP+Payload+TLVs.
const MaxBufferSize = 9100

// Cookie values distinguish software-originated probes from the
// hardware/transceiver-driven variant (spec.md §3 "Probe payload").
const (
	SoftwareCookie uint32 = 0x47656d69 // original linkmgrd literal, carried forward verbatim
	HardwareCookie uint32 = 0x4d555801 // distinct per spec.md; "MUX" + variant byte
)

// PayloadVersion is the current wire version (spec.md §6.1 "starts at 0").
const PayloadVersion uint32 = 0

// PayloadSize is the fixed, even-sized header: cookie(4) + version(4) +
// guid(8) + seq(8) = 24 bytes.
const PayloadSize = 4 + 4 + 8 + 8

// Payload is the fixed header carried by every heartbeat (spec.md §3,
// §6.1).
type Payload struct {
	Cookie  uint32
	Version uint32
	GUID    [8]byte
	Seq     uint64
}

// NewInstanceGUID generates the process-wide instance GUID once at
// daemon startup (spec.md §4.2 "generate GUID once process-wide", §9
// "Global mutables" — the GUID becomes a value passed in, not a
// singleton touched from everywhere).
func NewInstanceGUID() ([8]byte, error) {
	var g [8]byte
	if _, err := rand.Read(g[:]); err != nil {
		return g, fmt.Errorf("wire: generate instance guid: %w", err)
	}
	return g, nil
}

// Encode serializes the payload header into buf, which must be at least
// PayloadSize bytes. It returns the number of bytes written.
func (p Payload) Encode(buf []byte) int {
	binary.BigEndian.PutUint32(buf[0:4], p.Cookie)
	binary.BigEndian.PutUint32(buf[4:8], p.Version)
	copy(buf[8:16], p.GUID[:])
	binary.BigEndian.PutUint64(buf[16:24], p.Seq)
	return PayloadSize
}

// DecodePayload parses the fixed header from buf (spec.md §7 ParseError
// on length overrun).
func DecodePayload(buf []byte) (Payload, error) {
	if len(buf) < PayloadSize {
		return Payload{}, fmt.Errorf("wire: payload too short: %d bytes", len(buf))
	}
	var p Payload
	p.Cookie = binary.BigEndian.Uint32(buf[0:4])
	p.Version = binary.BigEndian.Uint32(buf[4:8])
	copy(p.GUID[:], buf[8:16])
	p.Seq = binary.BigEndian.Uint64(buf[16:24])
	return p, nil
}

// FirstICMPSequence is the sentinel starting value for the ICMP echo
// header's 16-bit sequence field (spec.md §4.2: "starts at 0xFFFF so the
// first wrap produces 0"). The payload's own 64-bit Seq is a separate,
// simply monotonic counter incremented per heartbeat starting at 0.
const FirstICMPSequence uint16 = 0xFFFF
