package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"braces.dev/errtrace"

	"github.com/gogpu/gpuqueue/backend"
)

// ErrNoQueue is returned when the device has no queue of the requested kind.
var ErrNoQueue = errors.New("queue: device has no such queue")

// Queue tracks completion of the work submitted to one device queue and
// owns the queue's allocator pool.
//
// Queue is safe for concurrent use.
type Queue struct {
	kind backend.QueueKind
	hw   backend.Queue

	// fenceMu serializes Submit so tickets reach the device in order.
	fenceMu sync.Mutex
	next    Ticket

	// lastCompleted caches the device's completed value. Waiters whose
	// ticket it already covers return without touching the device.
	lastCompleted atomic.Uint64

	allocators *AllocatorPool
}

// New creates the tracker for the queue of the given kind.
func New(dev backend.Device, kind backend.QueueKind) (*Queue, error) {
	hw := dev.Queue(kind)
	if hw == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoQueue, kind)
	}
	base := MakeTicket(kind, 0)
	q := &Queue{
		kind:       kind,
		hw:         hw,
		next:       base + 1,
		allocators: NewAllocatorPool(dev, kind),
	}
	q.lastCompleted.Store(max(hw.Completed(), uint64(base)))
	return q, nil
}

// Kind returns the queue kind.
func (q *Queue) Kind() backend.QueueKind { return q.kind }

// Submit hands list to the device and returns the ticket the device signals
// once the list has executed. It does not wait for execution.
func (q *Queue) Submit(list backend.CommandList) (Ticket, error) {
	q.fenceMu.Lock()
	defer q.fenceMu.Unlock()

	t := q.next
	if err := q.hw.Submit([]backend.CommandList{list}, uint64(t)); err != nil {
		return 0, errtrace.Wrap(fmt.Errorf("queue: submit %s: %w", t, err))
	}
	q.next++
	return t, nil
}

// IsComplete reports whether the device has signaled t. It never blocks.
func (q *Queue) IsComplete(t Ticket) bool {
	if uint64(t) > q.lastCompleted.Load() {
		q.refresh()
	}
	return uint64(t) <= q.lastCompleted.Load()
}

// refresh pulls the device's completed value into the cache and returns it.
func (q *Queue) refresh() Ticket {
	v := q.hw.Completed()
	for {
		cur := q.lastCompleted.Load()
		if v <= cur {
			return Ticket(cur)
		}
		if q.lastCompleted.CompareAndSwap(cur, v) {
			return Ticket(v)
		}
	}
}

// WaitFor blocks until t is complete.
func (q *Queue) WaitFor(t Ticket) error {
	return q.WaitForContext(context.Background(), t)
}

// WaitForContext blocks until t is complete or ctx is done.
func (q *Queue) WaitForContext(ctx context.Context, t Ticket) error {
	if t.Queue() != q.kind {
		panic(fmt.Sprintf("queue: wait for %s on %s queue", t, q.kind))
	}
	if q.IsComplete(t) {
		return nil
	}
	// Waiters go to the device independently; no waiter holds a lock
	// another waiter needs.
	if err := q.hw.Wait(ctx, uint64(t)); err != nil {
		return errtrace.Wrap(err)
	}
	q.refresh()
	return nil
}

// IdleQueue waits until all work submitted so far has completed.
// Only used at shutdown and on reconfiguration; it drains the pipeline.
func (q *Queue) IdleQueue() error {
	q.fenceMu.Lock()
	t := q.next
	if err := q.hw.Signal(uint64(t)); err != nil {
		q.fenceMu.Unlock()
		return errtrace.Wrap(fmt.Errorf("queue: signal %s: %w", t, err))
	}
	q.next++
	q.fenceMu.Unlock()

	return q.WaitFor(t)
}

// LastCompleted returns the newest ticket known to be complete.
func (q *Queue) LastCompleted() Ticket {
	return Ticket(q.lastCompleted.Load())
}

// NextTicket returns the ticket the next Submit will return.
func (q *Queue) NextTicket() Ticket {
	q.fenceMu.Lock()
	defer q.fenceMu.Unlock()
	return q.next
}

// RequestAllocator returns an allocator whose previous work has completed.
func (q *Queue) RequestAllocator() (backend.CommandAllocator, error) {
	return q.allocators.RequestAllocator(q.refresh())
}

// DiscardAllocator retires a with the ticket of the batch it recorded.
func (q *Queue) DiscardAllocator(t Ticket, a backend.CommandAllocator) {
	q.allocators.DiscardAllocator(t, a)
}

// Allocators returns the queue's allocator pool.
func (q *Queue) Allocators() *AllocatorPool { return q.allocators }

// Shutdown destroys the allocator pool. The queue must be idle.
func (q *Queue) Shutdown() {
	q.allocators.Shutdown()
}
