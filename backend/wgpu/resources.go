package wgpu

import (
	"encoding/binary"
	"sync"
	"unsafe"

	"braces.dev/errtrace"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuqueue/backend"
	"github.com/gogpu/gpuqueue/internal/logging"
)

// Buffer implements backend.Buffer.
type Buffer struct {
	dev     *Device
	raw     hal.Buffer
	size    uint64
	memory  backend.MemoryKind
	address uint64

	mu     sync.Mutex
	mapped []byte
}

// HAL returns the wrapped HAL buffer.
func (b *Buffer) HAL() hal.Buffer { return b.raw }

// Size implements backend.Buffer.
func (b *Buffer) Size() uint64 { return b.size }

// Address implements backend.Buffer. The HAL does not expose device
// addresses, so the value is a unique synthetic address.
func (b *Buffer) Address() uint64 { return b.address }

// Map implements backend.Buffer. The mapping stays valid until Unmap.
func (b *Buffer) Map() ([]byte, error) {
	if b.memory == backend.MemoryDevice {
		return nil, backend.ErrNotMappable
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mapped != nil || b.size == 0 {
		return b.mapped, nil
	}
	m, err := b.dev.hw.MapBuffer(b.raw, 0, b.size)
	if err != nil {
		return nil, errtrace.Wrap(translate(err))
	}
	b.mapped = unsafe.Slice((*byte)(m.Ptr), b.size)
	return b.mapped, nil
}

// Unmap implements backend.Buffer.
func (b *Buffer) Unmap() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mapped == nil {
		return
	}
	b.mapped = nil
	if err := b.dev.hw.UnmapBuffer(b.raw); err != nil {
		logging.Logger().Warn("wgpu: unmap buffer", "error", err)
	}
}

// Destroy implements backend.Buffer.
func (b *Buffer) Destroy() {
	b.Unmap()
	b.dev.hw.DestroyBuffer(b.raw)
}

// descriptorIncrement is the size of one descriptor in the heap's
// storage buffer: a little-endian 64-bit handle.
const descriptorIncrement = 8

// DescriptorHeap implements backend.DescriptorHeap as a storage buffer of
// descriptor handles that shaders index into. A host copy of the table is
// kept for inspection.
type DescriptorHeap struct {
	dev   *Device
	kind  backend.HeapKind
	raw   hal.Buffer
	start backend.GPUDescriptorHandle

	mu    sync.Mutex
	slots []backend.DescriptorHandle
}

// HAL returns the storage buffer backing the heap.
func (h *DescriptorHeap) HAL() hal.Buffer { return h.raw }

// Kind implements backend.DescriptorHeap.
func (h *DescriptorHeap) Kind() backend.HeapKind { return h.kind }

// Capacity implements backend.DescriptorHeap.
func (h *DescriptorHeap) Capacity() uint32 { return uint32(len(h.slots)) }

// GPUStart implements backend.DescriptorHeap.
func (h *DescriptorHeap) GPUStart() backend.GPUDescriptorHandle { return h.start }

// IncrementSize implements backend.DescriptorHeap.
func (h *DescriptorHeap) IncrementSize() uint32 { return descriptorIncrement }

func (h *DescriptorHeap) contains(g backend.GPUDescriptorHandle) bool {
	return g >= h.start && uint64(g-h.start) < uint64(len(h.slots))*descriptorIncrement
}

// CopyDescriptors implements backend.DescriptorHeap. The handles are
// written to the storage buffer through the queue right away; the pools
// never rewrite a heap the device may still read.
func (h *DescriptorHeap) CopyDescriptors(dst uint32, src []backend.DescriptorHandle) {
	if len(src) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(dst)+len(src) > len(h.slots) {
		panic("wgpu: descriptor copy out of heap range")
	}
	copy(h.slots[dst:], src)

	data := make([]byte, len(src)*descriptorIncrement)
	for i, d := range src {
		binary.LittleEndian.PutUint64(data[i*descriptorIncrement:], uint64(d))
	}
	h.dev.mu.Lock()
	err := h.dev.hq.WriteBuffer(h.raw, uint64(dst)*descriptorIncrement, data)
	h.dev.mu.Unlock()
	if err != nil {
		logging.Logger().Warn("wgpu: descriptor upload failed", "heap", h.kind.String(), "error", err)
	}
}

// Slot returns the descriptor stored at index i.
func (h *DescriptorHeap) Slot(i uint32) backend.DescriptorHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.slots[i]
}

// Destroy implements backend.DescriptorHeap.
func (h *DescriptorHeap) Destroy() {
	h.dev.hw.DestroyBuffer(h.raw)
}
