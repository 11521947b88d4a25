package linkwatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"

	"github.com/dualtor/muxmgrd/pkg/linkstate"
)

const fakeIfIndex = 7

func fakeLink(operState netlink.LinkOperState) *netlink.Dummy {
	return &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Index: fakeIfIndex, Name: "eth0", OperState: operState}}
}

// postQueue is a goroutine-safe stand-in for a strand's post closure:
// the run loop appends from its own goroutine while the test drains
// from the main one.
type postQueue struct {
	mu    sync.Mutex
	items []func()
}

func (q *postQueue) post(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
}

func (q *postQueue) waitLen(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		q.mu.Lock()
		l := len(q.items)
		q.mu.Unlock()
		if l >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d posted closures", n)
}

func (q *postQueue) drainOne(i int) {
	q.mu.Lock()
	fn := q.items[i]
	q.mu.Unlock()
	fn()
}

func (q *postQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// fakeSubscriber hands back a channel the test writes netlink updates
// to; the forwarding goroutine exits once the Watcher closes done,
// mirroring how DefaultSubscriber's real netlink socket is torn down.
func fakeSubscriber() (Subscriber, func() chan<- netlink.LinkUpdate) {
	var captured chan netlink.LinkUpdate
	sub := func(ch chan<- netlink.LinkUpdate, done <-chan struct{}, opts netlink.LinkSubscribeOptions) error {
		captured = make(chan netlink.LinkUpdate, 8)
		go func() {
			for {
				select {
				case u := <-captured:
					ch <- u
				case <-done:
					return
				}
			}
		}()
		return nil
	}
	return sub, func() chan<- netlink.LinkUpdate { return captured }
}

func TestWatcherRelaysUpAndDownEvents(t *testing.T) {
	sub, captured := fakeSubscriber()

	var q postQueue
	var mu sync.Mutex
	var events []linkstate.Event
	onEvent := func(e linkstate.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	w := New("eth0", sub, q.post, onEvent, logrus.NewEntry(logrus.New()))
	w.resolveIndex = func(name string) (int, error) { return fakeIfIndex, nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	captured() <- netlink.LinkUpdate{Link: fakeLink(netlink.OperUp)}
	q.waitLen(t, 1)
	q.drainOne(0)

	captured() <- netlink.LinkUpdate{Link: fakeLink(netlink.OperDown)}
	q.waitLen(t, 2)
	q.drainOne(1)

	mu.Lock()
	assert.Equal(t, []linkstate.Event{linkstate.LinkUp, linkstate.LinkDown}, events)
	mu.Unlock()

	w.Stop()
}

func TestWatcherIgnoresOtherInterfaces(t *testing.T) {
	sub, captured := fakeSubscriber()

	var q postQueue
	w := New("eth0", sub, q.post, func(linkstate.Event) {}, logrus.NewEntry(logrus.New()))
	w.resolveIndex = func(name string) (int, error) { return fakeIfIndex, nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	other := &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Index: fakeIfIndex + 1, OperState: netlink.OperUp}}
	captured() <- netlink.LinkUpdate{Link: other}

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, q.len())

	w.Stop()
}

func TestStartSurfacesResolveError(t *testing.T) {
	w := New("missing0", DefaultSubscriber, func(func()) {}, func(linkstate.Event) {}, logrus.NewEntry(logrus.New()))
	w.resolveIndex = func(name string) (int, error) { return 0, assert.AnError }

	err := w.Start(context.Background())
	require.Error(t, err)
}
