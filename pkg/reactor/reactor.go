// Package reactor implements the shared worker-pool that backs every
// port's strand. Ports never block on the reactor directly; they post
// closures through their own pkg/strand.Strand, which the reactor drains.
package reactor

import (
	"context"
	"sync"
)

// Reactor is a fixed-size pool of worker goroutines shared across all
// ports. Strands post work here; the reactor guarantees only that some
// worker eventually runs the closure, not which one or in what order
// relative to other strands' work. Ordering within a single strand is
// the strand's own responsibility.
type Reactor struct {
	work    chan func()
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	workers int
}

// New starts a Reactor with the given number of worker goroutines.
// workers <= 0 defaults to 1.
func New(workers int) *Reactor {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reactor{
		work:    make(chan func(), 1024),
		cancel:  cancel,
		workers: workers,
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.runWorker(ctx)
	}
	return r
}

func (r *Reactor) runWorker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case fn, ok := <-r.work:
			if !ok {
				return
			}
			fn()
		}
	}
}

// Post schedules fn to run on some worker goroutine. It never blocks the
// caller on fn's execution.
func (r *Reactor) Post(fn func()) {
	r.work <- fn
}

// Stop halts all workers and waits for in-flight closures to return.
// Queued-but-not-started work is dropped.
func (r *Reactor) Stop() {
	r.cancel()
	r.wg.Wait()
}
