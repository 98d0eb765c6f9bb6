// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package backend

import (
	"context"
	"errors"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not registered.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrDeviceLost is returned when the device stops accepting work.
	// Every outstanding ticket is invalid after this error.
	ErrDeviceLost = errors.New("backend: device lost")

	// ErrOutOfMemory is returned when a buffer, heap or allocator cannot be created.
	ErrOutOfMemory = errors.New("backend: out of device memory")

	// ErrNotMappable is returned when mapping a buffer without host-visible memory.
	ErrNotMappable = errors.New("backend: buffer is not host visible")

	// ErrUnsupportedQueue is returned when the device has no queue of the requested kind.
	ErrUnsupportedQueue = errors.New("backend: unsupported queue kind")
)

// QueueKind identifies a device queue. The value is stored in the high
// bits of every completion ticket, so it must fit in 8 bits.
type QueueKind uint8

// Queue kinds.
const (
	// QueueGraphics accepts draw, dispatch and copy work.
	QueueGraphics QueueKind = iota
	// QueueCompute is the asynchronous compute queue.
	QueueCompute
	// QueueCopy accepts copy work only.
	QueueCopy

	// NumQueueKinds is the number of queue kinds.
	NumQueueKinds
)

// String returns the queue kind name.
func (k QueueKind) String() string {
	switch k {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	case QueueCopy:
		return "copy"
	default:
		return "unknown"
	}
}

// Info describes an opened device.
type Info struct {
	// Name is the backend name the device was opened through.
	Name string

	// Backend is the underlying graphics API, when there is one.
	Backend gputypes.Backend

	// Adapter describes the physical adapter.
	Adapter gpucontext.AdapterInfo
}

// Device is the abstraction the submission core is written against.
// Implementations must be safe for concurrent use; the core serializes
// access to individual allocators, lists, buffers and heaps itself.
type Device interface {
	// Info returns adapter metadata.
	Info() Info

	// Queue returns the queue of the given kind, or nil if the device
	// does not expose one.
	Queue(kind QueueKind) Queue

	// CreateCommandAllocator creates the backing memory for command lists
	// of the given queue kind.
	CreateCommandAllocator(kind QueueKind) (CommandAllocator, error)

	// CreateCommandList creates a command list in the recording state,
	// recording into alloc.
	CreateCommandList(kind QueueKind, alloc CommandAllocator) (CommandList, error)

	// CreateBuffer creates a linear device allocation.
	CreateBuffer(desc *BufferDesc) (Buffer, error)

	// CreateDescriptorHeap creates a shader-visible descriptor heap.
	CreateDescriptorHeap(kind HeapKind, count uint32) (DescriptorHeap, error)

	// CreatePipeline compiles a pipeline state object.
	CreatePipeline(desc *PipelineDesc) (Pipeline, error)

	// Destroy releases the device. All objects created from it must be
	// destroyed first.
	Destroy()
}

// Queue executes command lists in submission order and signals a
// monotonically increasing 64-bit fence value when work completes.
type Queue interface {
	// Kind returns the queue kind.
	Kind() QueueKind

	// Submit starts executing lists and signals value once they complete.
	// It does not block on device execution.
	Submit(lists []CommandList, value uint64) error

	// Signal signals value once all previously submitted work completes.
	Signal(value uint64) error

	// Completed returns the highest fence value the device has signaled.
	// Never blocks.
	Completed() uint64

	// Wait blocks until Completed() >= value or ctx is done. It is safe
	// for any number of concurrent callers.
	Wait(ctx context.Context, value uint64) error
}

// CommandAllocator owns the memory that recorded commands live in.
type CommandAllocator interface {
	// Reset reclaims the memory of every list recorded into the allocator.
	// The device must have finished executing those lists.
	Reset() error

	// Destroy releases the allocator.
	Destroy()
}

// MemoryKind selects the heap a buffer is placed in.
type MemoryKind uint8

// Memory kinds.
const (
	// MemoryDevice is device-local memory the host cannot see.
	MemoryDevice MemoryKind = iota
	// MemoryUpload is host-visible, write-combined memory.
	MemoryUpload
	// MemoryReadback is host-visible, cached memory the device writes.
	MemoryReadback
)

// String returns the memory kind name.
func (m MemoryKind) String() string {
	switch m {
	case MemoryDevice:
		return "device"
	case MemoryUpload:
		return "upload"
	case MemoryReadback:
		return "readback"
	default:
		return "unknown"
	}
}

// BufferDesc describes a buffer.
type BufferDesc struct {
	// Label is an optional debug name.
	Label string

	// Size in bytes.
	Size uint64

	// Memory selects the heap.
	Memory MemoryKind

	// UnorderedAccess allows shader writes.
	UnorderedAccess bool
}

// Buffer is a linear device allocation.
type Buffer interface {
	// Size returns the size in bytes.
	Size() uint64

	// Address returns the device virtual address of byte 0.
	Address() uint64

	// Map returns the host view of the whole buffer.
	// Returns ErrNotMappable for device memory.
	Map() ([]byte, error)

	// Unmap releases the host view.
	Unmap()

	// Destroy releases the buffer.
	Destroy()
}

// HeapKind selects the descriptor type a heap stores.
type HeapKind uint8

// Heap kinds.
const (
	// HeapView stores constant buffer, shader resource and unordered access views.
	HeapView HeapKind = iota
	// HeapSampler stores samplers.
	HeapSampler

	// NumHeapKinds is the number of heap kinds.
	NumHeapKinds
)

// String returns the heap kind name.
func (k HeapKind) String() string {
	switch k {
	case HeapView:
		return "view"
	case HeapSampler:
		return "sampler"
	default:
		return "unknown"
	}
}

// DescriptorHandle is a host-side descriptor produced by resource view creation.
type DescriptorHandle uint64

// GPUDescriptorHandle addresses a descriptor inside a shader-visible heap.
type GPUDescriptorHandle uint64

// DescriptorHeap is a shader-visible descriptor table.
type DescriptorHeap interface {
	// Kind returns the heap kind.
	Kind() HeapKind

	// Capacity returns the number of descriptors the heap holds.
	Capacity() uint32

	// GPUStart returns the handle of descriptor 0. Descriptor i lives at
	// GPUStart() + i*IncrementSize().
	GPUStart() GPUDescriptorHandle

	// IncrementSize returns the distance between consecutive descriptors.
	IncrementSize() uint32

	// CopyDescriptors writes src into the heap starting at index dst.
	CopyDescriptors(dst uint32, src []DescriptorHandle)

	// Destroy releases the heap.
	Destroy()
}

// PipelineKind selects the pipeline bind point.
type PipelineKind uint8

// Pipeline kinds.
const (
	PipelineGraphics PipelineKind = iota
	PipelineCompute
)

// PipelineDesc describes a pipeline state object.
type PipelineDesc struct {
	// Label is an optional debug name.
	Label string

	// Kind selects graphics or compute.
	Kind PipelineKind

	// Source is WGSL shader source.
	Source string

	// EntryPoint is the entry point for compute pipelines, or the vertex
	// entry point for graphics pipelines.
	EntryPoint string

	// FragmentEntryPoint is the fragment entry point for graphics pipelines.
	FragmentEntryPoint string
}

// Pipeline is an opaque, pre-validated pipeline state object.
type Pipeline interface {
	// Destroy releases the pipeline.
	Destroy()
}
