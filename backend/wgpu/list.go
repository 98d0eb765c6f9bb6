package wgpu

import (
	"errors"
	"fmt"

	"braces.dev/errtrace"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuqueue/backend"
)

var (
	errDrawUnsupported  = errors.New("wgpu: draws are not supported")
	errNoPipeline       = errors.New("wgpu: dispatch without a compute pipeline")
	errTableOutsideHeap = errors.New("wgpu: descriptor table outside the bound heaps")
)

// CommandAllocator implements backend.CommandAllocator with one HAL
// command encoder. An allocator carries a single encoded list between
// resets.
type CommandAllocator struct {
	dev     *Device
	kind    backend.QueueKind
	encoder hal.CommandEncoder
	encoded []hal.CommandBuffer
}

// Reset implements backend.CommandAllocator.
func (a *CommandAllocator) Reset() error {
	if len(a.encoded) > 0 {
		a.encoder.ResetAll(a.encoded)
		a.encoded = a.encoded[:0]
	}
	return nil
}

// Destroy implements backend.CommandAllocator.
func (a *CommandAllocator) Destroy() {
	a.encoder.Destroy()
	a.encoded = nil
}

type opKind uint8

const (
	opBarrier opKind = iota
	opCopy
	opDispatch
)

// op is a recorded command waiting to be encoded.
type op struct {
	kind     opKind
	barriers []hal.BufferBarrier
	src, dst hal.Buffer
	region   hal.BufferCopy
	pipeline *Pipeline
	groups   [3]uint32
}

// CommandList implements backend.CommandList. Commands are recorded into
// a slice and encoded into the allocator's HAL encoder by Close.
type CommandList struct {
	dev   *Device
	kind  backend.QueueKind
	alloc *CommandAllocator

	ops      []op
	err      error
	closed   bool
	encoded  hal.CommandBuffer
	pipeline *Pipeline
	heaps    []*DescriptorHeap
	layouts  [2]uint64
}

// Reset implements backend.CommandList.
func (l *CommandList) Reset(alloc backend.CommandAllocator) error {
	a, ok := alloc.(*CommandAllocator)
	if !ok {
		return errtrace.Wrap(fmt.Errorf("wgpu: foreign command allocator %T", alloc))
	}
	if a.kind != l.kind {
		return errtrace.Wrap(fmt.Errorf("wgpu: %s allocator used for %s list", a.kind, l.kind))
	}
	l.alloc = a
	l.ops = l.ops[:0]
	l.err = nil
	l.closed = false
	l.encoded = nil
	l.pipeline = nil
	l.heaps = l.heaps[:0]
	l.layouts = [2]uint64{}
	return nil
}

// fail records the first recording error. Close returns it.
func (l *CommandList) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

// Close implements backend.CommandList.
func (l *CommandList) Close() error {
	if l.closed {
		return errtrace.New("wgpu: command list closed twice")
	}
	l.closed = true
	if l.err != nil {
		return errtrace.Wrap(l.err)
	}
	cb, err := l.alloc.encode(l.kind.String(), l.ops)
	if err != nil {
		return err
	}
	l.encoded = cb
	return nil
}

// encode replays ops into the HAL encoder. Consecutive dispatches share
// one compute pass.
func (a *CommandAllocator) encode(label string, ops []op) (hal.CommandBuffer, error) {
	if len(a.encoded) > 0 {
		return nil, errtrace.New("wgpu: allocator already holds an encoded list")
	}
	if err := a.encoder.BeginEncoding(label); err != nil {
		return nil, errtrace.Wrap(fmt.Errorf("wgpu: begin encoding: %w", translate(err)))
	}

	var (
		pass  hal.ComputePassEncoder
		bound *Pipeline
	)
	endPass := func() {
		if pass != nil {
			pass.End()
			pass, bound = nil, nil
		}
	}
	for i := range ops {
		o := &ops[i]
		switch o.kind {
		case opBarrier:
			endPass()
			a.encoder.TransitionBuffers(o.barriers)
		case opCopy:
			endPass()
			a.encoder.CopyBufferToBuffer(o.src, o.dst, []hal.BufferCopy{o.region})
		case opDispatch:
			if pass == nil {
				pass = a.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: label})
			}
			if bound != o.pipeline {
				pass.SetPipeline(o.pipeline.raw)
				bound = o.pipeline
			}
			pass.Dispatch(o.groups[0], o.groups[1], o.groups[2])
		}
	}
	endPass()

	cb, err := a.encoder.EndEncoding()
	if err != nil {
		a.encoder.DiscardEncoding()
		return nil, errtrace.Wrap(fmt.Errorf("wgpu: end encoding: %w", translate(err)))
	}
	a.encoded = append(a.encoded, cb)
	return cb, nil
}

// ResourceBarrier implements backend.CommandList. Split transitions have
// no HAL counterpart: the begin half is dropped and the end half becomes
// a full transition.
func (l *CommandList) ResourceBarrier(barriers []backend.Barrier) {
	out := make([]hal.BufferBarrier, 0, len(barriers))
	for _, b := range barriers {
		buf, ok := b.Buffer.(*Buffer)
		if !ok {
			l.fail(fmt.Errorf("wgpu: barrier on foreign buffer %T", b.Buffer))
			return
		}
		if b.Flags == backend.BarrierFlagBeginOnly {
			continue
		}
		t := hal.BufferUsageTransition{
			OldUsage: usageForState(b.Before),
			NewUsage: usageForState(b.After),
		}
		if b.Type == backend.BarrierUAV {
			t.OldUsage, t.NewUsage = gputypes.BufferUsageStorage, gputypes.BufferUsageStorage
		}
		out = append(out, hal.BufferBarrier{Buffer: buf.raw, Usage: t})
	}
	if len(out) > 0 {
		l.ops = append(l.ops, op{kind: opBarrier, barriers: out})
	}
}

// usageForState maps resource states onto HAL buffer usages.
func usageForState(s backend.ResourceState) gputypes.BufferUsage {
	var u gputypes.BufferUsage
	if s&backend.StateVertexAndConstantBuffer != 0 {
		u |= gputypes.BufferUsageVertex | gputypes.BufferUsageUniform
	}
	if s&backend.StateIndexBuffer != 0 {
		u |= gputypes.BufferUsageIndex
	}
	if s&(backend.StateUnorderedAccess|backend.StateNonPixelShaderResource|backend.StatePixelShaderResource) != 0 {
		u |= gputypes.BufferUsageStorage
	}
	if s&backend.StateIndirectArgument != 0 {
		u |= gputypes.BufferUsageIndirect
	}
	if s&backend.StateCopyDest != 0 {
		u |= gputypes.BufferUsageCopyDst
	}
	if s&backend.StateCopySource != 0 {
		u |= gputypes.BufferUsageCopySrc
	}
	return u
}

// SetPipeline implements backend.CommandList.
func (l *CommandList) SetPipeline(p backend.Pipeline) {
	wp, ok := p.(*Pipeline)
	if !ok {
		l.fail(fmt.Errorf("wgpu: foreign pipeline %T", p))
		return
	}
	l.pipeline = wp
}

// SetDescriptorHeaps implements backend.CommandList.
func (l *CommandList) SetDescriptorHeaps(heaps []backend.DescriptorHeap) {
	l.heaps = l.heaps[:0]
	for _, h := range heaps {
		wh, ok := h.(*DescriptorHeap)
		if !ok {
			l.fail(fmt.Errorf("wgpu: foreign descriptor heap %T", h))
			return
		}
		l.heaps = append(l.heaps, wh)
	}
}

// SetBindingLayout implements backend.CommandList.
func (l *CommandList) SetBindingLayout(bp backend.BindPoint, layoutID uint64) {
	l.layouts[bp] = layoutID
}

// SetDescriptorTable implements backend.CommandList. The table must point
// into one of the bound heaps.
func (l *CommandList) SetDescriptorTable(_ backend.BindPoint, _ uint32, start backend.GPUDescriptorHandle) {
	for _, h := range l.heaps {
		if h.contains(start) {
			return
		}
	}
	l.fail(fmt.Errorf("%w: %#x", errTableOutsideHeap, uint64(start)))
}

// SetConstants implements backend.CommandList.
func (l *CommandList) SetConstants(backend.BindPoint, uint32, uint32, []uint32) {}

// SetBufferView implements backend.CommandList.
func (l *CommandList) SetBufferView(backend.BindPoint, uint32, uint64) {}

// SetVertexBuffer implements backend.CommandList. Vertex input only feeds
// draws, which Close rejects.
func (l *CommandList) SetVertexBuffer(uint32, uint64, uint64, uint32) {}

// SetIndexBuffer implements backend.CommandList.
func (l *CommandList) SetIndexBuffer(uint64, uint64, gputypes.IndexFormat) {}

// Draw implements backend.CommandList.
func (l *CommandList) Draw(_, _, _, _ uint32) {
	l.fail(errDrawUnsupported)
}

// DrawIndexed implements backend.CommandList.
func (l *CommandList) DrawIndexed(_, _, _ uint32, _ int32, _ uint32) {
	l.fail(errDrawUnsupported)
}

// Dispatch implements backend.CommandList.
func (l *CommandList) Dispatch(x, y, z uint32) {
	if l.pipeline == nil {
		l.fail(errNoPipeline)
		return
	}
	l.ops = append(l.ops, op{kind: opDispatch, pipeline: l.pipeline, groups: [3]uint32{x, y, z}})
}

// CopyBufferRegion implements backend.CommandList.
func (l *CommandList) CopyBufferRegion(dst backend.Buffer, dstOffset uint64, src backend.Buffer, srcOffset, size uint64) {
	d, ok1 := dst.(*Buffer)
	s, ok2 := src.(*Buffer)
	if !ok1 || !ok2 {
		l.fail(fmt.Errorf("wgpu: copy between foreign buffers %T and %T", dst, src))
		return
	}
	l.ops = append(l.ops, op{
		kind:   opCopy,
		src:    s.raw,
		dst:    d.raw,
		region: hal.BufferCopy{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size},
	})
}

// Destroy implements backend.CommandList. The encoded command buffer
// belongs to the allocator.
func (l *CommandList) Destroy() {
	l.ops = nil
	l.encoded = nil
}
