package queue

import (
	"fmt"
	"sync"

	"braces.dev/errtrace"

	"github.com/gogpu/gpuqueue/backend"
	"github.com/gogpu/gpuqueue/internal/logging"
	"github.com/gogpu/gpuqueue/internal/recycle"
)

// AllocatorPool recycles the command allocators of one queue kind.
//
// Allocators are reused oldest-retired first. An allocator retired with
// ticket T is only reset and handed out again once a caller reports T as
// completed.
type AllocatorPool struct {
	kind backend.QueueKind
	pool *recycle.Pool[backend.CommandAllocator]

	// handles maps checked-out allocators back to their pool slot.
	mu      sync.Mutex
	handles map[backend.CommandAllocator]recycle.Handle
}

// NewAllocatorPool creates an empty pool that creates allocators on dev.
func NewAllocatorPool(dev backend.Device, kind backend.QueueKind) *AllocatorPool {
	p := &AllocatorPool{
		kind:    kind,
		handles: make(map[backend.CommandAllocator]recycle.Handle),
	}
	p.pool = recycle.New(
		func() (backend.CommandAllocator, error) {
			a, err := dev.CreateCommandAllocator(kind)
			if err != nil {
				return nil, errtrace.Wrap(fmt.Errorf("queue: create %s allocator: %w", kind, err))
			}
			logging.Logger().Debug("queue: new command allocator", "queue", kind.String())
			return a, nil
		},
		func(a backend.CommandAllocator) error {
			if err := a.Reset(); err != nil {
				return errtrace.Wrap(fmt.Errorf("queue: reset %s allocator: %w", kind, err))
			}
			return nil
		},
	)
	return p
}

// RequestAllocator returns a reset allocator. Allocators retired with a
// ticket <= completed are reclaimed first; otherwise a new one is created.
func (p *AllocatorPool) RequestAllocator(completed Ticket) (backend.CommandAllocator, error) {
	h, a, err := p.pool.Request(func(t uint64) bool { return Ticket(t) <= completed })
	if err != nil {
		return nil, err
	}
	p.setHandle(a, h)
	return a, nil
}

// DiscardAllocator retires a to the pool, reusable once t completes.
// It never blocks.
func (p *AllocatorPool) DiscardAllocator(t Ticket, a backend.CommandAllocator) {
	p.pool.Retire(uint64(t), p.takeHandle(a))
}

// Size returns how many allocators the pool has created.
func (p *AllocatorPool) Size() int {
	return p.pool.Len()
}

// Stats returns a snapshot of the pool.
func (p *AllocatorPool) Stats() recycle.Stats {
	return p.pool.Stats()
}

// Shutdown destroys every allocator. The queue must be idle.
func (p *AllocatorPool) Shutdown() {
	p.pool.Destroy(func(a backend.CommandAllocator) { a.Destroy() })
	p.mu.Lock()
	clear(p.handles)
	p.mu.Unlock()
}

func (p *AllocatorPool) setHandle(a backend.CommandAllocator, h recycle.Handle) {
	p.mu.Lock()
	p.handles[a] = h
	p.mu.Unlock()
}

func (p *AllocatorPool) takeHandle(a backend.CommandAllocator) recycle.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[a]
	if !ok {
		panic(fmt.Sprintf("queue: discard of %s allocator that was not requested", p.kind))
	}
	delete(p.handles, a)
	return h
}
