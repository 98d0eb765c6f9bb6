// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpuqueue

import (
	"fmt"

	"braces.dev/errtrace"

	"github.com/gogpu/gpuqueue/arena"
	"github.com/gogpu/gpuqueue/backend"
	"github.com/gogpu/gpuqueue/descriptor"
	"github.com/gogpu/gpuqueue/pipeline"
	"github.com/gogpu/gpuqueue/queue"
)

// maxPendingBarriers is the capacity of a context's barrier buffer.
const maxPendingBarriers = 16

type contextState uint8

const (
	stateFree contextState = iota
	stateRecording
	stateFinishing
)

func (s contextState) String() string {
	switch s {
	case stateFree:
		return "free"
	case stateRecording:
		return "recording"
	case stateFinishing:
		return "finishing"
	default:
		return "unknown"
	}
}

// Context is a recording session. It is obtained from Device.Begin, used by
// one goroutine, and ended by exactly one call to Finish, after which it
// must not be touched.
type Context struct {
	dev   *Device
	kind  backend.QueueKind
	queue *queue.Queue
	label string
	state contextState

	alloc backend.CommandAllocator
	list  backend.CommandList

	upload  *arena.Allocator
	scratch *arena.Allocator

	views    *descriptor.StagingCache
	samplers *descriptor.StagingCache
	heaps    [backend.NumHeapKinds]backend.DescriptorHeap

	barriers    [maxPendingBarriers]backend.Barrier
	numBarriers int

	pipeline       pipeline.Handle
	graphicsLayout *descriptor.Layout
	computeLayout  *descriptor.Layout
}

func newContext(dev *Device, kind backend.QueueKind) *Context {
	return &Context{
		dev:      dev,
		kind:     kind,
		queue:    dev.queues.Queue(kind),
		upload:   arena.NewAllocator(dev.upload),
		scratch:  arena.NewAllocator(dev.scratch),
		views:    descriptor.NewStagingCache(dev.heaps[backend.HeapView]),
		samplers: descriptor.NewStagingCache(dev.heaps[backend.HeapSampler]),
	}
}

// initialize creates the command list of a new context.
func (c *Context) initialize() error {
	a, err := c.queue.RequestAllocator()
	if err != nil {
		return errtrace.Wrap(err)
	}
	l, err := c.dev.hw.CreateCommandList(c.kind, a)
	if err != nil {
		c.queue.DiscardAllocator(c.queue.LastCompleted(), a)
		return errtrace.Wrap(fmt.Errorf("gpuqueue: create %s command list: %w", c.kind, err))
	}
	c.alloc = a
	c.list = l
	return nil
}

// reset reopens the command list of a pooled context with a fresh allocator.
func (c *Context) reset() error {
	a, err := c.queue.RequestAllocator()
	if err != nil {
		return errtrace.Wrap(err)
	}
	if err := c.list.Reset(a); err != nil {
		c.queue.DiscardAllocator(c.queue.LastCompleted(), a)
		return errtrace.Wrap(fmt.Errorf("gpuqueue: reset %s command list: %w", c.kind, err))
	}
	c.alloc = a
	return nil
}

// clearState forgets every binding so the next session starts clean.
func (c *Context) clearState() {
	c.label = ""
	c.numBarriers = 0
	clear(c.barriers[:])
	c.pipeline = pipeline.Handle{}
	c.graphicsLayout = nil
	c.computeLayout = nil
	c.heaps = [backend.NumHeapKinds]backend.DescriptorHeap{}
}

func (c *Context) mustRecord(op string) {
	if c.state != stateRecording {
		panic(fmt.Sprintf("gpuqueue: %s on %s context", op, c.state))
	}
}

// Kind returns the queue the context submits to.
func (c *Context) Kind() backend.QueueKind { return c.kind }

// Label returns the label the context was begun with.
func (c *Context) Label() string { return c.label }

// CommandList returns the list being recorded. Recording into it directly
// bypasses barrier batching and descriptor staging.
func (c *Context) CommandList() backend.CommandList { return c.list }

// PendingBarriers returns the number of barriers waiting for a flush.
func (c *Context) PendingBarriers() int { return c.numBarriers }

func (c *Context) checkComputeStates(r *Resource, state ResourceState) {
	if c.kind != backend.QueueCompute {
		return
	}
	if r.usage&^backend.ValidComputeStates != 0 || state&^backend.ValidComputeStates != 0 {
		panic(fmt.Sprintf("gpuqueue: compute context cannot transition %s -> %s", r.usage, state))
	}
}

func (c *Context) pushBarrier(b backend.Barrier) {
	if c.numBarriers == maxPendingBarriers {
		if c.dev.opts.strictBarriers {
			panic(fmt.Sprintf("gpuqueue: more than %d pending barriers", maxPendingBarriers))
		}
		c.FlushResourceBarriers()
	}
	c.barriers[c.numBarriers] = b
	c.numBarriers++
}

func (c *Context) maybeFlush(flush bool) {
	if flush || (!c.dev.opts.strictBarriers && c.numBarriers == maxPendingBarriers) {
		c.FlushResourceBarriers()
	}
}

// TransitionResource queues a barrier moving r into state. A transition to
// the state r is already in emits nothing, except that staying in
// StateUnorderedAccess emits a UAV barrier. If a split barrier toward state
// was begun, only its end half is emitted. With flush the queue is emitted
// immediately.
func (c *Context) TransitionResource(r *Resource, state ResourceState, flush bool) {
	c.mustRecord("TransitionResource")
	c.checkComputeStates(r, state)

	old := r.usage
	switch {
	case old != state:
		b := backend.Barrier{
			Type:   backend.BarrierTransition,
			Buffer: r.buffer,
			Before: old,
			After:  state,
		}
		if state == r.transitioning {
			b.Flags = backend.BarrierFlagEndOnly
			r.transitioning = backend.StateInvalid
		}
		c.pushBarrier(b)
		r.usage = state
	case state == backend.StateUnorderedAccess:
		c.pushBarrier(backend.Barrier{Type: backend.BarrierUAV, Buffer: r.buffer})
	}
	c.maybeFlush(flush)
}

// BeginResourceTransition queues the begin half of a split barrier toward
// state. A later TransitionResource to the same state emits the end half.
// A split barrier already pending on r is completed first.
func (c *Context) BeginResourceTransition(r *Resource, state ResourceState, flush bool) {
	c.mustRecord("BeginResourceTransition")
	if r.transitioning != backend.StateInvalid {
		c.TransitionResource(r, r.transitioning, false)
	}
	c.checkComputeStates(r, state)

	if r.usage != state {
		c.pushBarrier(backend.Barrier{
			Type:   backend.BarrierTransition,
			Flags:  backend.BarrierFlagBeginOnly,
			Buffer: r.buffer,
			Before: r.usage,
			After:  state,
		})
		r.transitioning = state
	}
	c.maybeFlush(flush)
}

// InsertUAVBarrier orders earlier unordered-access writes to r before
// later accesses.
func (c *Context) InsertUAVBarrier(r *Resource, flush bool) {
	c.mustRecord("InsertUAVBarrier")
	c.pushBarrier(backend.Barrier{Type: backend.BarrierUAV, Buffer: r.buffer})
	c.maybeFlush(flush)
}

// FlushResourceBarriers records every queued barrier as one instruction.
func (c *Context) FlushResourceBarriers() {
	if c.numBarriers == 0 {
		return
	}
	c.list.ResourceBarrier(c.barriers[:c.numBarriers])
	clear(c.barriers[:c.numBarriers])
	c.numBarriers = 0
}

// ReserveUploadMemory returns size bytes of host-visible memory with the
// default alignment. The memory stays valid until Finish; the device may
// read it until the returned ticket completes.
func (c *Context) ReserveUploadMemory(size uint64) arena.DynAlloc {
	c.mustRecord("ReserveUploadMemory")
	return c.reserveUpload(size, arena.DefaultAlignment)
}

func (c *Context) reserveUpload(size, align uint64) arena.DynAlloc {
	a, err := c.upload.Allocate(size, align)
	if err != nil {
		panic(fmt.Sprintf("gpuqueue: reserve %d upload bytes: %v", size, errtrace.Wrap(err)))
	}
	return a
}

// ReserveScratchMemory returns size bytes of device-exclusive memory aligned
// to align, which must be a power of two. Zero selects the default.
func (c *Context) ReserveScratchMemory(size, align uint64) arena.DynAlloc {
	c.mustRecord("ReserveScratchMemory")
	a, err := c.scratch.Allocate(size, align)
	if err != nil {
		panic(fmt.Sprintf("gpuqueue: reserve %d scratch bytes: %v", size, errtrace.Wrap(err)))
	}
	return a
}

// WriteBuffer copies data into dst at offset through upload memory.
// dst is left in StateCopyDest.
func (c *Context) WriteBuffer(dst *Resource, offset uint64, data []byte) {
	c.mustRecord("WriteBuffer")
	if len(data) == 0 {
		return
	}
	src := c.ReserveUploadMemory(uint64(len(data)))
	copy(src.Data, data)
	c.TransitionResource(dst, backend.StateCopyDest, true)
	c.list.CopyBufferRegion(dst.buffer, offset, src.Buffer(), src.Offset, uint64(len(data)))
}

// CopyBufferRegion copies size bytes from src to dst. The caller is
// responsible for the copy states of both resources.
func (c *Context) CopyBufferRegion(dst *Resource, dstOffset uint64, src *Resource, srcOffset, size uint64) {
	c.mustRecord("CopyBufferRegion")
	c.FlushResourceBarriers()
	c.list.CopyBufferRegion(dst.buffer, dstOffset, src.buffer, srcOffset, size)
}

// SetPipeline binds p. Binding the current pipeline again records nothing.
func (c *Context) SetPipeline(p pipeline.Handle) {
	c.mustRecord("SetPipeline")
	if p.IsZero() {
		panic("gpuqueue: SetPipeline with zero handle")
	}
	if p == c.pipeline {
		return
	}
	switch {
	case c.kind == backend.QueueCopy:
		panic("gpuqueue: SetPipeline on copy context")
	case c.kind == backend.QueueCompute && p.Kind() != backend.PipelineCompute:
		panic(fmt.Sprintf("gpuqueue: graphics pipeline %q on compute context", p.Label()))
	}
	c.pipeline = p
	c.list.SetPipeline(p.Pipeline())
}

// SetGraphicsLayout binds the graphics binding layout and resets the
// staged graphics descriptors. A nil layout unbinds it.
func (c *Context) SetGraphicsLayout(l *descriptor.Layout) {
	c.mustRecord("SetGraphicsLayout")
	if c.kind != backend.QueueGraphics {
		panic(fmt.Sprintf("gpuqueue: graphics layout on %s context", c.kind))
	}
	if l == c.graphicsLayout {
		return
	}
	c.graphicsLayout = l
	c.list.SetBindingLayout(backend.BindGraphics, layoutID(l))
	c.views.ParseLayout(backend.BindGraphics, l)
	c.samplers.ParseLayout(backend.BindGraphics, l)
}

// SetComputeLayout binds the compute binding layout and resets the staged
// compute descriptors. A nil layout unbinds it.
func (c *Context) SetComputeLayout(l *descriptor.Layout) {
	c.mustRecord("SetComputeLayout")
	if c.kind == backend.QueueCopy {
		panic("gpuqueue: compute layout on copy context")
	}
	if l == c.computeLayout {
		return
	}
	c.computeLayout = l
	c.list.SetBindingLayout(backend.BindCompute, layoutID(l))
	c.views.ParseLayout(backend.BindCompute, l)
	c.samplers.ParseLayout(backend.BindCompute, l)
}

func layoutID(l *descriptor.Layout) uint64 {
	if l == nil {
		return 0
	}
	return l.ID()
}

// SetDynamicDescriptors stages view descriptors for a graphics table slot.
func (c *Context) SetDynamicDescriptors(slot, offset uint32, handles ...backend.DescriptorHandle) {
	c.mustRecord("SetDynamicDescriptors")
	c.views.StageHandles(backend.BindGraphics, slot, offset, handles...)
}

// SetDynamicSamplers stages samplers for a graphics table slot.
func (c *Context) SetDynamicSamplers(slot, offset uint32, handles ...backend.DescriptorHandle) {
	c.mustRecord("SetDynamicSamplers")
	c.samplers.StageHandles(backend.BindGraphics, slot, offset, handles...)
}

// SetComputeDynamicDescriptors stages view descriptors for a compute table slot.
func (c *Context) SetComputeDynamicDescriptors(slot, offset uint32, handles ...backend.DescriptorHandle) {
	c.mustRecord("SetComputeDynamicDescriptors")
	c.views.StageHandles(backend.BindCompute, slot, offset, handles...)
}

// SetComputeDynamicSamplers stages samplers for a compute table slot.
func (c *Context) SetComputeDynamicSamplers(slot, offset uint32, handles ...backend.DescriptorHandle) {
	c.mustRecord("SetComputeDynamicSamplers")
	c.samplers.StageHandles(backend.BindCompute, slot, offset, handles...)
}

func (c *Context) layout(bp backend.BindPoint) *descriptor.Layout {
	l := c.graphicsLayout
	if bp == backend.BindCompute {
		l = c.computeLayout
	}
	if l == nil {
		panic(fmt.Sprintf("gpuqueue: no %s layout bound", bp))
	}
	return l
}

func (c *Context) setConstants(bp backend.BindPoint, slot uint32, values []uint32) {
	p := c.layout(bp).Param(slot)
	if p.Kind != descriptor.ParamConstants || uint32(len(values)) > p.Count {
		panic(fmt.Sprintf("gpuqueue: %d constants for %s slot %d", len(values), bp, slot))
	}
	c.list.SetConstants(bp, slot, 0, values)
}

// SetConstants writes inline 32-bit constants into a graphics slot.
func (c *Context) SetConstants(slot uint32, values ...uint32) {
	c.mustRecord("SetConstants")
	c.setConstants(backend.BindGraphics, slot, values)
}

// SetComputeConstants writes inline 32-bit constants into a compute slot.
func (c *Context) SetComputeConstants(slot uint32, values ...uint32) {
	c.mustRecord("SetComputeConstants")
	c.setConstants(backend.BindCompute, slot, values)
}

func (c *Context) setBufferView(bp backend.BindPoint, slot uint32, address uint64) {
	if c.layout(bp).Param(slot).Kind != descriptor.ParamInline {
		panic(fmt.Sprintf("gpuqueue: %s slot %d is not an inline descriptor", bp, slot))
	}
	c.list.SetBufferView(bp, slot, address)
}

// SetBufferView binds a buffer address to an inline graphics slot.
func (c *Context) SetBufferView(slot uint32, address uint64) {
	c.mustRecord("SetBufferView")
	c.setBufferView(backend.BindGraphics, slot, address)
}

// SetComputeBufferView binds a buffer address to an inline compute slot.
func (c *Context) SetComputeBufferView(slot uint32, address uint64) {
	c.mustRecord("SetComputeBufferView")
	c.setBufferView(backend.BindCompute, slot, address)
}

// commit flushes pending barriers and copies stale descriptor tables of bp
// into the staging heaps.
func (c *Context) commit(bp backend.BindPoint) {
	c.FlushResourceBarriers()
	b := (*contextBinder)(c)
	if err := c.views.Commit(bp, b); err != nil {
		panic(fmt.Sprintf("gpuqueue: commit view descriptors: %v", err))
	}
	if err := c.samplers.Commit(bp, b); err != nil {
		panic(fmt.Sprintf("gpuqueue: commit samplers: %v", err))
	}
}

func (c *Context) mustGraphics(op string) {
	c.mustRecord(op)
	if c.kind != backend.QueueGraphics {
		panic(fmt.Sprintf("gpuqueue: %s on %s context", op, c.kind))
	}
}

// Draw draws vertexCount vertices starting at firstVertex.
func (c *Context) Draw(vertexCount, firstVertex uint32) {
	c.DrawInstanced(vertexCount, 1, firstVertex, 0)
}

// DrawIndexed draws indexCount indices starting at firstIndex.
func (c *Context) DrawIndexed(indexCount, firstIndex uint32, baseVertex int32) {
	c.DrawIndexedInstanced(indexCount, 1, firstIndex, baseVertex, 0)
}

// DrawInstanced draws instanceCount instances of vertexCount vertices.
func (c *Context) DrawInstanced(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	c.mustGraphics("DrawInstanced")
	c.commit(backend.BindGraphics)
	c.list.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
}

// DrawIndexedInstanced draws instanceCount instances of indexCount indices.
func (c *Context) DrawIndexedInstanced(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	c.mustGraphics("DrawIndexedInstanced")
	c.commit(backend.BindGraphics)
	c.list.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
}

// Dispatch launches an x*y*z grid of compute groups.
func (c *Context) Dispatch(x, y, z uint32) {
	c.mustRecord("Dispatch")
	if c.kind == backend.QueueCopy {
		panic("gpuqueue: Dispatch on copy context")
	}
	c.commit(backend.BindCompute)
	c.list.Dispatch(x, y, z)
}

// Finish submits the recorded work and returns its ticket. Everything the
// context borrowed is retired with the ticket and the context goes back to
// the pool. With wait, Finish also blocks until the ticket completes.
//
// A submission error means the device is lost; the context is not returned
// to the pool.
func (c *Context) Finish(wait bool) (queue.Ticket, error) {
	c.mustRecord("Finish")
	c.state = stateFinishing

	c.FlushResourceBarriers()
	t, err := c.queue.Submit(c.list)
	if err != nil {
		Logger().Error("gpuqueue: submit failed", "context", c.label, "queue", c.kind, "err", err)
		return 0, errtrace.Wrap(err)
	}

	c.queue.DiscardAllocator(t, c.alloc)
	c.alloc = nil
	c.upload.CleanupUsedPages(t)
	c.scratch.CleanupUsedPages(t)
	c.views.CleanupUsedHeaps(t)
	c.samplers.CleanupUsedHeaps(t)

	if wait {
		err = c.dev.WaitFor(t)
	}
	c.dev.contexts.freeContext(c)
	return t, errtrace.Wrap(err)
}

// contextBinder routes descriptor commits into the context's command list.
type contextBinder Context

// SetDescriptorHeap implements descriptor.Binder. The list is only told
// when the bound heap of a kind actually changes.
func (b *contextBinder) SetDescriptorHeap(kind backend.HeapKind, heap backend.DescriptorHeap) {
	if b.heaps[kind] == heap {
		return
	}
	b.heaps[kind] = heap
	bound := make([]backend.DescriptorHeap, 0, backend.NumHeapKinds)
	for _, h := range b.heaps {
		if h != nil {
			bound = append(bound, h)
		}
	}
	b.list.SetDescriptorHeaps(bound)
}

// SetDescriptorTable implements descriptor.Binder.
func (b *contextBinder) SetDescriptorTable(bp backend.BindPoint, slot uint32, start backend.GPUDescriptorHandle) {
	b.list.SetDescriptorTable(bp, slot, start)
}
