// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package sim

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpuqueue/backend"
)

// CommandAllocator implements backend.CommandAllocator.
type CommandAllocator struct {
	id         int64
	queue      *Queue
	lastSubmit atomic.Uint64
	resets     atomic.Int64
}

// ID returns the creation index of the allocator, starting at 1.
func (a *CommandAllocator) ID() int64 { return a.id }

// Resets returns how many times the allocator was reset.
func (a *CommandAllocator) Resets() int64 { return a.resets.Load() }

// Reset implements backend.CommandAllocator. Resetting while the queue has
// not reached the allocator's last submission is recorded as a violation.
func (a *CommandAllocator) Reset() error {
	if last := a.lastSubmit.Load(); last > a.queue.Completed() {
		a.queue.dev.violate("allocator %d reset while fence %#x is pending on %s queue",
			a.id, last, a.queue.kind)
	}
	a.resets.Add(1)
	return nil
}

// Destroy implements backend.CommandAllocator.
func (a *CommandAllocator) Destroy() {}

// Buffer implements backend.Buffer with host memory.
type Buffer struct {
	dev       *Device
	label     string
	memory    backend.MemoryKind
	address   uint64
	data      []byte
	mu        sync.Mutex
	mapped    bool
	destroyed bool
}

// Size implements backend.Buffer.
func (b *Buffer) Size() uint64 { return uint64(len(b.data)) }

// Address implements backend.Buffer.
func (b *Buffer) Address() uint64 { return b.address }

// Label returns the debug label.
func (b *Buffer) Label() string { return b.label }

// Memory returns the heap the buffer was placed in.
func (b *Buffer) Memory() backend.MemoryKind { return b.memory }

// Map implements backend.Buffer.
func (b *Buffer) Map() ([]byte, error) {
	if b.memory == backend.MemoryDevice {
		return nil, backend.ErrNotMappable
	}
	b.mu.Lock()
	b.mapped = true
	b.mu.Unlock()
	return b.data, nil
}

// Unmap implements backend.Buffer.
func (b *Buffer) Unmap() {
	b.mu.Lock()
	b.mapped = false
	b.mu.Unlock()
}

// Mapped reports whether the buffer currently has a host view.
func (b *Buffer) Mapped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mapped
}

// Contents returns the simulated device memory regardless of the heap kind.
// Tests use it to inspect device-exclusive buffers.
func (b *Buffer) Contents() []byte { return b.data }

// Destroy implements backend.Buffer.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		b.dev.violate("buffer %q destroyed twice", b.label)
		return
	}
	b.destroyed = true
}

// Destroyed reports whether Destroy was called.
func (b *Buffer) Destroyed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

// descriptorIncrement matches the handle stride of a typical view heap.
const descriptorIncrement = 32

// DescriptorHeap implements backend.DescriptorHeap.
type DescriptorHeap struct {
	dev     *Device
	kind    backend.HeapKind
	start   backend.GPUDescriptorHandle
	lastUse atomic.Uint64
	queue   atomic.Pointer[Queue]

	mu     sync.Mutex
	slots  []backend.DescriptorHandle
	copies int
}

// Kind implements backend.DescriptorHeap.
func (h *DescriptorHeap) Kind() backend.HeapKind { return h.kind }

// Capacity implements backend.DescriptorHeap.
func (h *DescriptorHeap) Capacity() uint32 { return uint32(len(h.slots)) }

// GPUStart implements backend.DescriptorHeap.
func (h *DescriptorHeap) GPUStart() backend.GPUDescriptorHandle { return h.start }

// IncrementSize implements backend.DescriptorHeap.
func (h *DescriptorHeap) IncrementSize() uint32 { return descriptorIncrement }

// CopyDescriptors implements backend.DescriptorHeap. Writing into a heap
// that a pending batch still reads is recorded as a violation.
func (h *DescriptorHeap) CopyDescriptors(dst uint32, src []backend.DescriptorHandle) {
	if q := h.queue.Load(); q != nil && h.lastUse.Load() > q.Completed() {
		h.dev.violate("descriptor heap %#x written while fence %#x is pending", uint64(h.start), h.lastUse.Load())
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(dst)+len(src) > len(h.slots) {
		panic("sim: descriptor copy out of heap range")
	}
	copy(h.slots[dst:], src)
	h.copies++
}

// Copies returns how many CopyDescriptors calls the heap received.
func (h *DescriptorHeap) Copies() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.copies
}

// Slot returns the descriptor stored at index i.
func (h *DescriptorHeap) Slot(i uint32) backend.DescriptorHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.slots[i]
}

// Destroy implements backend.DescriptorHeap.
func (h *DescriptorHeap) Destroy() {}

// Pipeline implements backend.Pipeline.
type Pipeline struct {
	Desc backend.PipelineDesc
}

// Destroy implements backend.Pipeline.
func (p *Pipeline) Destroy() {}
