//go:build linux

package linkprober

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// packetSocket is an AF_PACKET/SOCK_RAW socket bound to one interface,
// sending and receiving full Ethernet frames (spec.md §4.2 needs
// explicit control of the source MAC, which an IP-layer socket cannot
// give). Grounded on the platform-specific-file split the teacher uses
// throughout pkg/network (detector_linux.go next to detector.go).
type packetSocket struct {
	fd      int
	ifIndex int
}

// NewPacketSocket opens an AF_PACKET raw socket bound to ifName.
func NewPacketSocket(ifName string) (Socket, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, htons(unix.ETH_P_ALL))
	if err != nil {
		return nil, fmt.Errorf("linkprober: open AF_PACKET socket: %w", err)
	}
	iface, err := ifaceByName(ifName)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	addr := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("linkprober: bind AF_PACKET socket to %s: %w", ifName, err)
	}
	return &packetSocket{fd: fd, ifIndex: iface}, nil
}

func (s *packetSocket) SetFilter(prog []bpf.RawInstruction) error {
	raw := make([]unix.SockFilter, len(prog))
	for i, ins := range prog {
		raw[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	sockProg := unix.SockFprog{
		Len:    uint16(len(raw)),
		Filter: (*unix.SockFilter)(unsafe.Pointer(&raw[0])),
	}
	if err := unix.SetsockoptSockFprog(s.fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &sockProg); err != nil {
		return fmt.Errorf("linkprober: attach bpf filter: %w", err)
	}
	return nil
}

func (s *packetSocket) SetReadDeadline(t time.Time) error {
	var tv unix.Timeval
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	tv = unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(s.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

func (s *packetSocket) Send(frame []byte) error {
	addr := unix.SockaddrLinklayer{Ifindex: s.ifIndex}
	return unix.Sendto(s.fd, frame, 0, &addr)
}

func (s *packetSocket) Recv(buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(s.fd, buf, 0)
	return n, err
}

func (s *packetSocket) Close() error {
	return unix.Close(s.fd)
}

func htons(h uint16) uint16 {
	return (h << 8) | (h >> 8)
}

func ifaceByName(name string) (int, error) {
	iface, err := unix.NameToLinkIndex(name)
	if err != nil {
		return 0, fmt.Errorf("linkprober: resolve interface %s: %w", name, err)
	}
	return iface, nil
}
