package harvest

import (
	"sync"

	"github.com/mwirth/immoharvest/internal/domain"
)

// frontier is the per-source work queue. It tracks queued plus in-process
// units so workers can tell a momentarily empty queue (siblings may still
// discover children) from a truly exhausted source.
type frontier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []domain.WorkUnit
	pending int // units pushed but not yet Done
	closed  bool
}

func newFrontier() *frontier {
	f := &frontier{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Push enqueues a unit. Returns false once the frontier is closed.
func (f *frontier) Push(u domain.WorkUnit) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.queue = append(f.queue, u)
	f.pending++
	f.cond.Signal()
	return true
}

// Pop blocks until a unit is available. It returns false when the source
// is exhausted (no queued units and none in process) or the frontier was
// closed by cancellation or a fatal error.
func (f *frontier) Pop() (domain.WorkUnit, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if len(f.queue) > 0 {
			u := f.queue[0]
			f.queue = f.queue[1:]
			return u, true
		}
		if f.closed || f.pending == 0 {
			return domain.WorkUnit{}, false
		}
		f.cond.Wait()
	}
}

// Done marks one popped unit as finished. The unit's children must be
// pushed before Done is called, otherwise the frontier may observe an
// empty queue with zero pending units and wake everyone up early.
func (f *frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending--
	if f.pending == 0 {
		f.cond.Broadcast()
	}
}

// Close wakes all waiters and rejects further pushes. Used for
// cancellation and fatal errors.
func (f *frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.cond.Broadcast()
}
