// Package queue is the FIFO handoff between the reader and the router
// pool: a guarded deque paired with a condition variable ("signal" in
// spec.md's vocabulary). Producers append a batch then signal one
// waiter; shutdown broadcasts to wake every router blocked on an empty
// queue.
package queue

import (
	"sync"

	"github.com/nugget/satcore/internal/fleet"
	"github.com/nugget/satcore/internal/shutdown"
	"github.com/nugget/satcore/internal/wire"
)

// ReceivedEvent pairs a decoded event with the satellite handle that
// produced it.
type ReceivedEvent struct {
	Event  wire.Event
	Source *fleet.Handle
}

// Queue is the event queue: a FIFO of received events awaiting routing,
// guarded by its own mutex/condition-variable pair.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond
	data []ReceivedEvent
}

// New returns an empty event queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// PushBatch appends a batch of received events, in order, to the tail of
// the queue and wakes one waiting router. Events within the batch keep
// the relative order the reader observed them in, so the queue holds a
// satellite's events in send order. Delivery order is only guaranteed
// end-to-end with a single router: with several routers, two of them may
// drain consecutive events from one satellite and deliver them out of
// order.
func (q *Queue) PushBatch(events []ReceivedEvent) {
	if len(events) == 0 {
		return
	}
	q.mu.Lock()
	q.data = append(q.data, events...)
	q.mu.Unlock()
	q.cond.Signal()
}

// Drain blocks until the queue is non-empty or shutdown is signaled, then
// returns and clears the entire backlog in FIFO order. Returns nil if it
// woke because shutdown was signaled and the queue was empty.
func (q *Queue) Drain(sf *shutdown.Flag) []ReceivedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.data) == 0 && !sf.IsSet() {
		q.cond.Wait()
	}
	if len(q.data) == 0 {
		return nil
	}
	out := q.data
	q.data = nil
	return out
}

// BroadcastShutdown wakes every router blocked in Drain so each can
// observe the shutdown flag and exit.
func (q *Queue) BroadcastShutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cond.Broadcast()
}

// Len reports the current backlog size. Intended for observability only.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}
