package recycle

import "sync"

type pending[T any] struct {
	ticket uint64
	item   T
}

// DeletionQueue holds objects that are destroyed, not reused, once their
// ticket completes.
type DeletionQueue[T any] struct {
	mu    sync.Mutex
	items []pending[T]
}

// Push queues item for destruction after ticket.
func (q *DeletionQueue[T]) Push(ticket uint64, item T) {
	q.mu.Lock()
	q.items = append(q.items, pending[T]{ticket: ticket, item: item})
	q.mu.Unlock()
}

// Collect destroys queued objects from the front while their tickets are
// complete and returns how many it destroyed.
func (q *DeletionQueue[T]) Collect(isComplete func(uint64) bool, destroy func(T)) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for len(q.items) > 0 && isComplete(q.items[0].ticket) {
		destroy(q.items[0].item)
		q.items = q.items[1:]
		n++
	}
	return n
}

// Len returns the number of queued objects.
func (q *DeletionQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Flush destroys everything regardless of tickets. The device must be idle.
func (q *DeletionQueue[T]) Flush(destroy func(T)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.items {
		destroy(p.item)
	}
	q.items = nil
}
