package crawler

import (
	"sync"

	"github.com/webmirror/webmirror/internal/model"
)

// workQueue is the crawl frontier. Unlike a channel it grows without
// bound, which matters because producers are the workers themselves: a
// worker pushing the links of a large page must never block on queue
// capacity while other workers wait for it to finish, or the pool
// deadlocks.
//
// pending counts queued plus in-flight items. When it reaches zero no
// item can ever be pushed again (pushes only happen while processing an
// item), so pop can report completion.
type workQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []*model.Resource
	pending int
	aborted bool
}

func newWorkQueue() *workQueue {
	q := &workQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues one admitted resource.
func (q *workQueue) push(rec *model.Resource) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.aborted {
		return
	}
	q.items = append(q.items, rec)
	q.pending++
	q.cond.Signal()
}

// pop blocks until an item is available and returns it. A nil return
// means the crawl is complete (or aborted) and the worker should exit.
func (q *workQueue) pop() *model.Resource {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && q.pending > 0 && !q.aborted {
		q.cond.Wait()
	}
	if len(q.items) == 0 || q.aborted {
		return nil
	}

	rec := q.items[0]
	q.items = q.items[1:]
	return rec
}

// finish marks one popped item fully processed, including any pushes it
// performed. The worker calls it after process returns.
func (q *workQueue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending--
	if q.pending == 0 {
		q.cond.Broadcast()
	}
}

// abort wakes every blocked worker and makes all future pops return nil.
// Already-popped items finish normally.
func (q *workQueue) abort() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.aborted = true
	q.cond.Broadcast()
}
