package wire

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// FrameParams carries the static header fields described in spec.md
// §4.2 "Wire details". They change only on MAC/IP reconfiguration
// (LinkProber.updateEthernetFrame).
type FrameParams struct {
	SrcMAC    net.HardwareAddr
	DstMAC    net.HardwareAddr
	SrcIP     net.IP
	DstIP     net.IP
	Identifier uint16 // ICMP identifier == serverId
}

// Builder assembles heartbeat frames: Ethernet/IPv4/ICMPv4/Payload/TLVs.
// It is not safe for concurrent use; one Builder belongs to one port's
// strand, matching spec.md §4.2's "send buffer" ownership.
type Builder struct {
	params   FrameParams
	ipID     uint16
	icmpSeq  uint16
	tail     []byte // current TLV tail, defaults to just SENTINEL
}

// NewBuilder creates a Builder with the SENTINEL-only TLV tail.
func NewBuilder(params FrameParams) *Builder {
	b := &Builder{params: params, icmpSeq: FirstICMPSequence}
	b.tail = AppendSentinel(nil)
	return b
}

// SetTail replaces the TLV tail (e.g. to insert a COMMAND TLV ahead of
// the terminating SENTINEL for sendPeerSwitchCommand/sendPeerProbeCommand).
func (b *Builder) SetTail(tail []byte) {
	b.tail = tail
}

// DefaultTail restores the plain SENTINEL-only tail.
func (b *Builder) DefaultTail() {
	b.tail = AppendSentinel(nil)
}

// UpdateParams reassigns the static header fields after a MAC/IP change
// (LinkProber.updateEthernetFrame, spec.md §4.2).
func (b *Builder) UpdateParams(params FrameParams) {
	b.params = params
}

// Build serializes one heartbeat: it advances the IP identification and
// ICMP sequence counters, encodes the fixed payload header with seq, and
// appends the current TLV tail. guid is the local instance GUID
// (spec.md §4.2).
func (b *Builder) Build(guid [8]byte, payloadSeq uint64, cookie uint32) ([]byte, error) {
	if len(b.params.SrcMAC) != 6 || len(b.params.DstMAC) != 6 {
		return nil, fmt.Errorf("wire: frame params missing MAC addresses")
	}
	if b.params.SrcIP == nil || b.params.DstIP == nil {
		return nil, fmt.Errorf("wire: frame params missing IP addresses")
	}

	var payloadBuf [PayloadSize]byte
	p := Payload{Cookie: cookie, Version: PayloadVersion, Seq: payloadSeq}
	copy(p.GUID[:], guid[:])
	p.Encode(payloadBuf[:])

	body := make([]byte, 0, PayloadSize+len(b.tail))
	body = append(body, payloadBuf[:]...)
	body = append(body, b.tail...)
	if len(body)%2 != 0 {
		body = append(body, 0) // spec.md §6.1: payload size must remain even
	}

	eth := &layers.Ethernet{
		SrcMAC:       b.params.SrcMAC,
		DstMAC:       b.params.DstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	b.ipID++
	ip := &layers.IPv4{
		Version:    4,
		IHL:        5,
		TOS:        0xB8, // DSCP CS6, spec.md §4.2
		TTL:        64,
		Id:         b.ipID,
		Protocol:   layers.IPProtocolICMPv4,
		SrcIP:      b.params.SrcIP,
		DstIP:      b.params.DstIP,
		FragOffset: 0,
	}
	b.icmpSeq++
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       b.params.Identifier,
		Seq:      b.icmpSeq,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, icmp, gopacket.Payload(body)); err != nil {
		return nil, fmt.Errorf("wire: serialize heartbeat: %w", err)
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	if len(out) > MaxBufferSize {
		return nil, fmt.Errorf("wire: frame %d bytes exceeds buffer cap %d", len(out), MaxBufferSize)
	}
	return out, nil
}

// CurrentICMPSequence returns the last ICMP sequence number written,
// primarily for tests validating the 0xFFFF wraparound.
func (b *Builder) CurrentICMPSequence() uint16 {
	return b.icmpSeq
}

// ParsedFrame is a decoded heartbeat reply, reduced to the fields the
// classifier and composite state machine need.
type ParsedFrame struct {
	SrcMAC  net.HardwareAddr
	SrcIP   net.IP
	ICMPID  uint16
	ICMPSeq uint16
	Payload Payload
	TLVTail []byte
}

// Parse decodes an Ethernet/IPv4/ICMPv4/Payload frame captured off the
// raw socket. Malformed TLV tails are reported through the TLVTail field
// being left for the caller to hand to wire.All / wire.NewIterator,
// which itself degrades per spec.md §7 ParseError semantics; a
// malformed fixed header is a hard ParseError here since there is no
// heartbeat to classify at all.
func Parse(raw []byte) (ParsedFrame, error) {
	pkt := gopacket.NewPacket(raw, layers.LayerTypeEthernet, gopacket.NoCopy)
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	icmpLayer := pkt.Layer(layers.LayerTypeICMPv4)
	if ethLayer == nil || ipLayer == nil || icmpLayer == nil {
		return ParsedFrame{}, fmt.Errorf("wire: frame missing eth/ipv4/icmpv4 layer")
	}
	eth := ethLayer.(*layers.Ethernet)
	ip := ipLayer.(*layers.IPv4)
	icmp := icmpLayer.(*layers.ICMPv4)

	appLayer := pkt.ApplicationLayer()
	if appLayer == nil || len(appLayer.Payload()) < PayloadSize {
		return ParsedFrame{}, fmt.Errorf("wire: frame payload shorter than header")
	}
	payloadBytes := appLayer.Payload()
	payload, err := DecodePayload(payloadBytes)
	if err != nil {
		return ParsedFrame{}, err
	}

	return ParsedFrame{
		SrcMAC:  eth.SrcMAC,
		SrcIP:   ip.SrcIP,
		ICMPID:  icmp.Id,
		ICMPSeq: icmp.Seq,
		Payload: payload,
		TLVTail: payloadBytes[PayloadSize:],
	}, nil
}
