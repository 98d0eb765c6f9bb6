// Package recycle implements ticket-gated object pools.
//
// A pooled object is addressed by a small integer [Handle] into the pool's
// owning table. It moves from available to in-use on [Pool.Request], from
// in-use to retired on [Pool.Retire], and from retired back to available only
// once the ticket it was retired with is observed complete. Tickets retired
// into one pool must complete in retirement order, so only the front of the
// retired FIFO is ever inspected.
package recycle

import (
	"fmt"
	"sync"
)

// Handle indexes an object in a Pool's owning table.
type Handle uint32

type state uint8

const (
	stateAvailable state = iota
	stateInUse
	stateRetired
)

type retired struct {
	ticket uint64
	h      Handle
}

// Stats is a snapshot of a pool.
type Stats struct {
	Created   int
	InUse     int
	Retired   int
	Available int
}

// Pool recycles objects of type T. It is safe for concurrent use.
type Pool[T any] struct {
	create func() (T, error)
	reuse  func(T) error

	mu        sync.Mutex
	items     []T
	states    []state
	retired   []retired
	available []Handle
}

// New creates a pool. create makes a new object when nothing is available;
// reuse, if non-nil, prepares a recycled object before it is handed out.
func New[T any](create func() (T, error), reuse func(T) error) *Pool[T] {
	return &Pool[T]{create: create, reuse: reuse}
}

// Request returns the oldest reclaimable object or a new one.
// isComplete reports whether a retirement ticket has completed.
func (p *Pool[T]) Request(isComplete func(ticket uint64) bool) (Handle, T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.retired) > 0 && isComplete(p.retired[0].ticket) {
		r := p.retired[0]
		p.retired = p.retired[1:]
		p.states[r.h] = stateAvailable
		p.available = append(p.available, r.h)
	}

	if len(p.available) > 0 {
		h := p.available[0]
		p.available = p.available[1:]
		item := p.items[h]
		if p.reuse != nil {
			if err := p.reuse(item); err != nil {
				p.available = append(p.available, h)
				var zero T
				return 0, zero, err
			}
		}
		p.states[h] = stateInUse
		return h, item, nil
	}

	item, err := p.create()
	if err != nil {
		var zero T
		return 0, zero, err
	}
	h := Handle(len(p.items))
	p.items = append(p.items, item)
	p.states = append(p.states, stateInUse)
	return h, item, nil
}

// Retire hands h back to the pool. It becomes available again once ticket
// completes. Retiring a handle that is not in use panics.
func (p *Pool[T]) Retire(ticket uint64, h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(h) >= len(p.states) || p.states[h] != stateInUse {
		panic(fmt.Sprintf("recycle: retire of handle %d that is not in use", h))
	}
	p.states[h] = stateRetired
	p.retired = append(p.retired, retired{ticket: ticket, h: h})
}

// Get returns the object for h.
func (p *Pool[T]) Get(h Handle) T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.items[h]
}

// Len returns how many objects the pool has created.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Stats returns a snapshot of the pool.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{
		Created:   len(p.items),
		Retired:   len(p.retired),
		Available: len(p.available),
	}
	s.InUse = s.Created - s.Retired - s.Available
	return s
}

// Destroy calls destroy for every object regardless of its state and
// empties the pool. The device must be idle.
func (p *Pool[T]) Destroy(destroy func(T)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, item := range p.items {
		destroy(item)
	}
	p.items = nil
	p.states = nil
	p.retired = nil
	p.available = nil
}
