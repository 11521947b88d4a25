package linkprober

import (
	"sync"
	"time"

	"golang.org/x/net/bpf"
)

// FakeSocket is an in-memory Socket test double: sent frames are
// recorded, and Deliver injects a frame as if it had been received.
type FakeSocket struct {
	mu     sync.Mutex
	Sent   [][]byte
	Filter []bpf.RawInstruction
	inbox  chan []byte
	closed bool
}

// NewFakeSocket constructs a FakeSocket with no queued inbound frames.
func NewFakeSocket() *FakeSocket {
	return &FakeSocket{inbox: make(chan []byte, 64)}
}

func (f *FakeSocket) SetFilter(prog []bpf.RawInstruction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Filter = prog
	return nil
}

func (f *FakeSocket) SetReadDeadline(t time.Time) error { return nil }

func (f *FakeSocket) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.Sent = append(f.Sent, cp)
	return nil
}

// Deliver queues a frame as if it had arrived off the wire.
func (f *FakeSocket) Deliver(frame []byte) {
	f.inbox <- frame
}

func (f *FakeSocket) Recv(buf []byte) (int, error) {
	frame, ok := <-f.inbox
	if !ok {
		return 0, errClosed
	}
	n := copy(buf, frame)
	return n, nil
}

func (f *FakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbox)
	}
	return nil
}

var errClosed = fakeSocketClosedError{}

type fakeSocketClosedError struct{}

func (fakeSocketClosedError) Error() string { return "linkprober: fake socket closed" }
