package descriptor

import (
	"fmt"

	"braces.dev/errtrace"

	"github.com/gogpu/gpuqueue/backend"
	"github.com/gogpu/gpuqueue/internal/logging"
	"github.com/gogpu/gpuqueue/internal/recycle"
	"github.com/gogpu/gpuqueue/queue"
)

// DefaultDescriptorsPerHeap is the capacity of pooled heaps.
const DefaultDescriptorsPerHeap = 1024

// Heap is a pooled shader-visible descriptor heap.
type Heap struct {
	backend.DescriptorHeap
	handle recycle.Handle
}

// HeapPool recycles shader-visible heaps of one kind. It is shared by every
// context and safe for concurrent use.
type HeapPool struct {
	kind     backend.HeapKind
	capacity uint32
	tracker  queue.Tracker
	pool     *recycle.Pool[*Heap]
}

// NewHeapPool creates a pool of heaps holding count descriptors each.
// A count of 0 selects DefaultDescriptorsPerHeap.
func NewHeapPool(dev backend.Device, kind backend.HeapKind, count uint32, tracker queue.Tracker) *HeapPool {
	if count == 0 {
		count = DefaultDescriptorsPerHeap
	}
	p := &HeapPool{kind: kind, capacity: count, tracker: tracker}
	p.pool = recycle.New(func() (*Heap, error) {
		h, err := dev.CreateDescriptorHeap(kind, count)
		if err != nil {
			return nil, errtrace.Wrap(fmt.Errorf("descriptor: create %s heap: %w", kind, err))
		}
		logging.Logger().Debug("descriptor: new heap", "kind", kind.String(), "count", count)
		return &Heap{DescriptorHeap: h}, nil
	}, nil)
	return p
}

// Kind returns the heap kind.
func (p *HeapPool) Kind() backend.HeapKind { return p.kind }

// Capacity returns the number of descriptors per heap.
func (p *HeapPool) Capacity() uint32 { return p.capacity }

// RequestHeap returns the oldest reclaimable heap or a new one.
func (p *HeapPool) RequestHeap() (*Heap, error) {
	h, heap, err := p.pool.Request(func(t uint64) bool {
		return p.tracker.IsComplete(queue.Ticket(t))
	})
	if err != nil {
		return nil, err
	}
	heap.handle = h
	return heap, nil
}

// DiscardHeaps retires heaps with ticket t.
func (p *HeapPool) DiscardHeaps(t queue.Ticket, heaps []*Heap) {
	for _, h := range heaps {
		p.pool.Retire(uint64(t), h.handle)
	}
}

// Stats returns a snapshot of the pool.
func (p *HeapPool) Stats() recycle.Stats { return p.pool.Stats() }

// Destroy destroys every heap. The device must be idle.
func (p *HeapPool) Destroy() {
	p.pool.Destroy(func(h *Heap) { h.Destroy() })
}
