// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package backend

import (
	"strings"

	"github.com/gogpu/gputypes"
)

// ResourceState is a bit set of device access modes.
type ResourceState uint32

// Resource states.
const (
	StateCommon                  ResourceState = 0
	StateVertexAndConstantBuffer ResourceState = 1 << 0
	StateIndexBuffer             ResourceState = 1 << 1
	StateRenderTarget            ResourceState = 1 << 2
	StateUnorderedAccess         ResourceState = 1 << 3
	StateDepthWrite              ResourceState = 1 << 4
	StateDepthRead               ResourceState = 1 << 5
	StateNonPixelShaderResource  ResourceState = 1 << 6
	StatePixelShaderResource     ResourceState = 1 << 7
	StateIndirectArgument        ResourceState = 1 << 9
	StateCopyDest                ResourceState = 1 << 10
	StateCopySource              ResourceState = 1 << 11

	// StateGenericRead is the union of every read-only state. Upload heap
	// buffers live in it permanently.
	StateGenericRead = StateVertexAndConstantBuffer | StateIndexBuffer |
		StateNonPixelShaderResource | StatePixelShaderResource |
		StateIndirectArgument | StateCopySource

	// StateInvalid marks "no pending split transition".
	StateInvalid ResourceState = 0xffffffff
)

// ValidComputeStates are the only states a compute-queue list may use.
const ValidComputeStates = StateUnorderedAccess | StateNonPixelShaderResource |
	StateCopyDest | StateCopySource

var stateNames = []struct {
	s    ResourceState
	name string
}{
	{StateVertexAndConstantBuffer, "VertexAndConstantBuffer"},
	{StateIndexBuffer, "IndexBuffer"},
	{StateRenderTarget, "RenderTarget"},
	{StateUnorderedAccess, "UnorderedAccess"},
	{StateDepthWrite, "DepthWrite"},
	{StateDepthRead, "DepthRead"},
	{StateNonPixelShaderResource, "NonPixelShaderResource"},
	{StatePixelShaderResource, "PixelShaderResource"},
	{StateIndirectArgument, "IndirectArgument"},
	{StateCopyDest, "CopyDest"},
	{StateCopySource, "CopySource"},
}

// String returns the state flags joined by '|'.
func (s ResourceState) String() string {
	switch s {
	case StateCommon:
		return "Common"
	case StateInvalid:
		return "Invalid"
	case StateGenericRead:
		return "GenericRead"
	}
	var parts []string
	for _, n := range stateNames {
		if s&n.s != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "Unknown"
	}
	return strings.Join(parts, "|")
}

// BarrierType selects the barrier form.
type BarrierType uint8

// Barrier types.
const (
	// BarrierTransition changes the access state of a resource.
	BarrierTransition BarrierType = iota
	// BarrierUAV orders unordered-access writes against later accesses.
	BarrierUAV
)

// BarrierFlags split a transition in two halves.
type BarrierFlags uint8

// Barrier flags.
const (
	BarrierFlagNone BarrierFlags = iota
	BarrierFlagBeginOnly
	BarrierFlagEndOnly
)

// Barrier is one entry of a batched ResourceBarrier call.
type Barrier struct {
	Type   BarrierType
	Flags  BarrierFlags
	Buffer Buffer
	Before ResourceState
	After  ResourceState
}

// BindPoint selects the graphics or compute binding state of a list.
type BindPoint uint8

// Bind points.
const (
	BindGraphics BindPoint = iota
	BindCompute
)

// String returns the bind point name.
func (b BindPoint) String() string {
	if b == BindCompute {
		return "compute"
	}
	return "graphics"
}

// CommandList records device instructions. A list is owned by exactly one
// goroutine at a time and is not safe for concurrent use.
type CommandList interface {
	// Reset reopens a closed list for recording into alloc.
	Reset(alloc CommandAllocator) error

	// Close ends recording. Queue.Submit closes lists that are still open.
	Close() error

	// ResourceBarrier records a batch of barriers as one instruction.
	ResourceBarrier(barriers []Barrier)

	// SetPipeline binds a pipeline state object.
	SetPipeline(p Pipeline)

	// SetDescriptorHeaps binds shader-visible heaps, at most one per kind.
	SetDescriptorHeaps(heaps []DescriptorHeap)

	// SetBindingLayout binds a binding-table layout by its identifier.
	SetBindingLayout(bp BindPoint, layoutID uint64)

	// SetDescriptorTable points a table slot at a heap range.
	SetDescriptorTable(bp BindPoint, slot uint32, start GPUDescriptorHandle)

	// SetConstants writes inline 32-bit constants.
	SetConstants(bp BindPoint, slot uint32, offset uint32, values []uint32)

	// SetBufferView binds a buffer address to an inline descriptor slot.
	SetBufferView(bp BindPoint, slot uint32, address uint64)

	// SetVertexBuffer binds size bytes at address to a vertex input slot.
	SetVertexBuffer(slot uint32, address, size uint64, stride uint32)

	// SetIndexBuffer binds size bytes at address as the index buffer.
	SetIndexBuffer(address, size uint64, format gputypes.IndexFormat)

	// Draw records a non-indexed draw.
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)

	// DrawIndexed records an indexed draw.
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32)

	// Dispatch records a compute dispatch.
	Dispatch(x, y, z uint32)

	// CopyBufferRegion copies size bytes between buffers.
	CopyBufferRegion(dst Buffer, dstOffset uint64, src Buffer, srcOffset, size uint64)

	// Destroy releases the list.
	Destroy()
}
