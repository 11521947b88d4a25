// Package strand implements the per-port serialized executor described
// in spec.md §4.1: a single logical thread of control over one port's
// state, timers, and I/O completions, backed by a shared reactor pool.
//
// A Strand never runs two closures concurrently. Closures posted while
// one is running are queued and run in post order once the running
// closure returns, giving the deterministic "observed in post order"
// guarantee spec.md §5 requires.
package strand

import (
	"sync"

	"github.com/dualtor/muxmgrd/pkg/reactor"
)

// Strand serializes execution of closures belonging to one port onto
// the shared reactor, without ever holding more than one reactor
// goroutine for itself at a time.
type Strand struct {
	r *reactor.Reactor

	mu      sync.Mutex
	queue   []func()
	running bool
}

// New binds a new Strand to the given reactor.
func New(r *reactor.Reactor) *Strand {
	return &Strand{r: r}
}

// Post enqueues fn for serialized execution. If no closure for this
// strand is currently running, Post schedules draining on the reactor;
// otherwise fn simply joins the queue behind whatever is running.
func (s *Strand) Post(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	needsDrain := !s.running
	if needsDrain {
		s.running = true
	}
	s.mu.Unlock()

	if needsDrain {
		s.r.Post(s.drain)
	}
}

// drain runs queued closures one at a time until the queue is empty,
// then releases the running flag. Because Post always re-arms drain
// when transitioning running false->true, no posted closure is ever
// stranded in the queue.
func (s *Strand) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		fn()
	}
}
