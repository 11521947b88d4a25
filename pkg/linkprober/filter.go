package linkprober

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/net/bpf"
)

// Ethernet/IPv4/ICMPv4 byte offsets assumed by BuildFilter: no IPv4
// options (IHL=5, matching spec.md §4.2's fixed header) and no VLAN tag.
const (
	offEtherType = 12
	offIPProto   = 14 + 9
	offIPSrc     = 14 + 12
	offIPDst     = 14 + 16
	offICMPID    = 14 + 20 + 4
)

const icmpProtocol = 1

// BuildFilter assembles a classic-BPF program accepting only ICMP
// frames between localIP and remoteIP carrying the given ICMP
// identifier (spec.md §4.2 "A BPF filter accepts only ICMP to/from the
// port's IPs with the expected identifier and cookie"). Cookie
// validation happens in software after capture (two valid cookie
// values exist — software and hardware probes — and BPF comparisons
// are cheapest kept to a single constant per field).
func BuildFilter(localIP, remoteIP net.IP, identifier uint16) ([]bpf.RawInstruction, error) {
	local4 := localIP.To4()
	remote4 := remoteIP.To4()
	if local4 == nil || remote4 == nil {
		return nil, fmt.Errorf("linkprober: BuildFilter requires IPv4 addresses")
	}
	localU32 := binary.BigEndian.Uint32(local4)
	remoteU32 := binary.BigEndian.Uint32(remote4)

	const (
		idxEtherType = iota
		idxEtherTypeJump
		idxProto
		idxProtoJump
		idxSrc
		idxSrcJump
		idxDst
		idxDstJump
		idxID
		idxIDJump
		idxAccept
		idxReject
	)

	prog := []bpf.Instruction{
		bpf.LoadAbsolute{Off: offEtherType, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipFalse: idxReject - idxEtherTypeJump - 1},
		bpf.LoadAbsolute{Off: offIPProto, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: icmpProtocol, SkipFalse: idxReject - idxProtoJump - 1},
		bpf.LoadAbsolute{Off: offIPSrc, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: remoteU32, SkipFalse: idxReject - idxSrcJump - 1},
		bpf.LoadAbsolute{Off: offIPDst, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: localU32, SkipFalse: idxReject - idxDstJump - 1},
		bpf.LoadAbsolute{Off: offICMPID, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(identifier), SkipFalse: idxReject - idxIDJump - 1},
		bpf.RetConstant{Val: 0xFFFF},
		bpf.RetConstant{Val: 0},
	}

	raw, err := bpf.Assemble(prog)
	if err != nil {
		return nil, fmt.Errorf("linkprober: assemble bpf filter: %w", err)
	}
	return raw, nil
}
