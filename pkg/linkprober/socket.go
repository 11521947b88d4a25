package linkprober

import (
	"time"

	"golang.org/x/net/bpf"
)

// Socket is the raw-socket collaborator the Prober drives (spec.md
// §4.2 "open raw socket, install BPF, build send buffer"). The real
// implementation (socket_linux.go) is an AF_PACKET socket bound to the
// port's host interface; tests substitute FakeSocket.
type Socket interface {
	SetFilter(prog []bpf.RawInstruction) error
	SetReadDeadline(t time.Time) error
	Send(frame []byte) error
	Recv(buf []byte) (int, error)
	Close() error
}

// SocketFactory opens a Socket bound to one port's host interface.
type SocketFactory func() (Socket, error)
