package wire

import (
	"encoding/binary"
	"fmt"
)

// TlvType enumerates the TLV tail entries defined in spec.md §3/§6.1.
type TlvType uint8

const (
	TlvCommand  TlvType = 0x05
	TlvDummy    TlvType = 0xFE
	TlvSentinel TlvType = 0xFF
)

// Command is the one-byte COMMAND TLV payload (spec.md §3).
type Command uint8

const (
	CommandNone         Command = 0
	CommandSwitchActive Command = 1
	CommandMuxProbe     Command = 2
)

// tlvHeadSize is the 3-byte (type, length-BE) head; length excludes the
// head itself (spec.md §6.1).
const tlvHeadSize = 3

// Tlv is one decoded (type, length, value) entry.
type Tlv struct {
	Type  TlvType
	Value []byte
}

// AppendSentinel appends the zero-length SENTINEL TLV that terminates
// every TLV list.
func AppendSentinel(buf []byte) []byte {
	return append(buf, byte(TlvSentinel), 0, 0)
}

// AppendCommand appends a COMMAND TLV carrying cmd.
func AppendCommand(buf []byte, cmd Command) []byte {
	buf = append(buf, byte(TlvCommand))
	buf = appendLengthBE(buf, 1)
	return append(buf, byte(cmd))
}

// AppendDummy appends an n-byte DUMMY TLV used as test padding.
func AppendDummy(buf []byte, n int) []byte {
	buf = append(buf, byte(TlvDummy))
	buf = appendLengthBE(buf, uint16(n))
	for i := 0; i < n; i++ {
		buf = append(buf, 0)
	}
	return buf
}

func appendLengthBE(buf []byte, length uint16) []byte {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:2], length)
	return append(buf, l[:]...)
}

// Iterator walks a TLV tail by (type, length, value) until it hits
// SENTINEL or runs out of buffer (spec.md §4.2 "TLV handling"). Unknown
// types are skipped by their declared length, never interpreted.
type Iterator struct {
	buf []byte
	pos int
	err error
}

// NewIterator wraps buf for sequential TLV decoding.
func NewIterator(buf []byte) *Iterator {
	return &Iterator{buf: buf}
}

// Next returns the next TLV, or ok=false once SENTINEL or the buffer end
// is reached. A malformed entry (length overrun) sets Err and stops
// iteration without panicking (spec.md §7 ParseError: "skip the
// offending packet; counters unaffected").
func (it *Iterator) Next() (tlv Tlv, ok bool) {
	if it.err != nil {
		return Tlv{}, false
	}
	if it.pos+tlvHeadSize > len(it.buf) {
		return Tlv{}, false
	}
	t := TlvType(it.buf[it.pos])
	length := binary.BigEndian.Uint16(it.buf[it.pos+1 : it.pos+3])
	if t == TlvSentinel {
		it.pos += tlvHeadSize
		return Tlv{}, false
	}
	start := it.pos + tlvHeadSize
	end := start + int(length)
	if end > len(it.buf) {
		it.err = fmt.Errorf("wire: tlv type 0x%02x length %d overruns buffer", t, length)
		return Tlv{}, false
	}
	value := it.buf[start:end]
	it.pos = end
	return Tlv{Type: t, Value: value}, true
}

// Err returns any parse error encountered during iteration.
func (it *Iterator) Err() error {
	return it.err
}

// All drains the iterator into a slice, primarily for tests exercising
// spec.md §8 property 7 (TLV round-trip).
func All(buf []byte) ([]Tlv, error) {
	it := NewIterator(buf)
	var out []Tlv
	for {
		tlv, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, tlv)
	}
	return out, it.Err()
}
