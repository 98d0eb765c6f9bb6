package sim

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuqueue/backend"
)

// Op identifies a recorded command.
type Op uint8

// Recorded operations.
const (
	OpBarrier Op = iota
	OpSetPipeline
	OpSetHeaps
	OpSetLayout
	OpSetTable
	OpSetConstants
	OpSetBufferView
	OpSetVertexBuffer
	OpSetIndexBuffer
	OpDraw
	OpDrawIndexed
	OpDispatch
	OpCopy
)

var opNames = [...]string{
	OpBarrier:         "barrier",
	OpSetPipeline:     "set-pipeline",
	OpSetHeaps:        "set-heaps",
	OpSetLayout:       "set-layout",
	OpSetTable:        "set-table",
	OpSetConstants:    "set-constants",
	OpSetBufferView:   "set-buffer-view",
	OpSetVertexBuffer: "set-vertex-buffer",
	OpSetIndexBuffer:  "set-index-buffer",
	OpDraw:            "draw",
	OpDrawIndexed:     "draw-indexed",
	OpDispatch:        "dispatch",
	OpCopy:            "copy",
}

// String returns the operation name.
func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", o)
}

// Command is one recorded instruction. Only the fields relevant to Op are set.
type Command struct {
	Op        Op
	BindPoint backend.BindPoint
	Slot      uint32
	Barriers  []backend.Barrier
	Pipeline  backend.Pipeline
	Layout    uint64
	Table     backend.GPUDescriptorHandle
	Constants []uint32
	Address   uint64

	// Size, Stride and Format describe vertex and index buffer views.
	Size   uint64
	Stride uint32
	Format gputypes.IndexFormat

	// Counts holds draw/dispatch arguments in call order.
	Counts [5]uint32

	copy *copyOp
}

type copyOp struct {
	dst, src          *Buffer
	dstOffset, offset uint64
	size              uint64
}

func (c Command) execute() {
	if c.copy == nil {
		return
	}
	cp := c.copy
	copy(cp.dst.data[cp.dstOffset:cp.dstOffset+cp.size], cp.src.data[cp.offset:cp.offset+cp.size])
}

// CommandList implements backend.CommandList by recording Commands that the
// queue replays at execution time.
type CommandList struct {
	dev    *Device
	kind   backend.QueueKind
	alloc  *CommandAllocator
	cmds   []Command
	heaps  []*DescriptorHeap
	closed bool
}

func (l *CommandList) record(c Command) {
	if l.closed {
		panic("sim: record into closed command list")
	}
	l.cmds = append(l.cmds, c)
}

// Reset implements backend.CommandList.
func (l *CommandList) Reset(alloc backend.CommandAllocator) error {
	a, ok := alloc.(*CommandAllocator)
	if !ok {
		return fmt.Errorf("sim: foreign command allocator %T", alloc)
	}
	if a.queue.kind != l.kind {
		return fmt.Errorf("sim: %s allocator used for %s list", a.queue.kind, l.kind)
	}
	l.alloc = a
	l.cmds = nil
	l.heaps = l.heaps[:0]
	l.closed = false
	return nil
}

// Close implements backend.CommandList.
func (l *CommandList) Close() error {
	if l.closed {
		return fmt.Errorf("sim: command list closed twice")
	}
	l.closed = true
	return nil
}

// Commands returns the commands recorded since the last Reset.
func (l *CommandList) Commands() []Command {
	return l.cmds
}

// markInFlight tags every object the list references with the fence value
// of the batch that carries it.
func (l *CommandList) markInFlight(q *Queue, value uint64) {
	if l.alloc != nil {
		l.alloc.lastSubmit.Store(value)
	}
	for _, h := range l.heaps {
		h.queue.Store(q)
		h.lastUse.Store(value)
	}
}

// ResourceBarrier implements backend.CommandList.
func (l *CommandList) ResourceBarrier(barriers []backend.Barrier) {
	if len(barriers) == 0 {
		return
	}
	for _, b := range barriers {
		if b.Type == backend.BarrierTransition && b.Before == b.After {
			l.dev.violate("transition barrier with identical states %s", b.Before)
		}
		if l.kind == backend.QueueCompute && b.Type == backend.BarrierTransition &&
			(b.Before|b.After)&^backend.ValidComputeStates != 0 {
			l.dev.violate("compute list transitions %s -> %s", b.Before, b.After)
		}
	}
	l.record(Command{Op: OpBarrier, Barriers: append([]backend.Barrier(nil), barriers...)})
}

// SetPipeline implements backend.CommandList.
func (l *CommandList) SetPipeline(p backend.Pipeline) {
	l.record(Command{Op: OpSetPipeline, Pipeline: p})
}

// SetDescriptorHeaps implements backend.CommandList.
func (l *CommandList) SetDescriptorHeaps(heaps []backend.DescriptorHeap) {
	for _, h := range heaps {
		if dh, ok := h.(*DescriptorHeap); ok {
			l.heaps = append(l.heaps, dh)
		}
	}
	l.record(Command{Op: OpSetHeaps})
}

// SetBindingLayout implements backend.CommandList.
func (l *CommandList) SetBindingLayout(bp backend.BindPoint, layoutID uint64) {
	l.record(Command{Op: OpSetLayout, BindPoint: bp, Layout: layoutID})
}

// SetDescriptorTable implements backend.CommandList.
func (l *CommandList) SetDescriptorTable(bp backend.BindPoint, slot uint32, start backend.GPUDescriptorHandle) {
	l.record(Command{Op: OpSetTable, BindPoint: bp, Slot: slot, Table: start})
}

// SetConstants implements backend.CommandList.
func (l *CommandList) SetConstants(bp backend.BindPoint, slot, offset uint32, values []uint32) {
	l.record(Command{
		Op:        OpSetConstants,
		BindPoint: bp,
		Slot:      slot,
		Counts:    [5]uint32{offset},
		Constants: append([]uint32(nil), values...),
	})
}

// SetBufferView implements backend.CommandList.
func (l *CommandList) SetBufferView(bp backend.BindPoint, slot uint32, address uint64) {
	l.record(Command{Op: OpSetBufferView, BindPoint: bp, Slot: slot, Address: address})
}

// SetVertexBuffer implements backend.CommandList.
func (l *CommandList) SetVertexBuffer(slot uint32, address, size uint64, stride uint32) {
	if l.kind != backend.QueueGraphics {
		l.dev.violate("vertex buffer bound on %s list", l.kind)
	}
	l.record(Command{Op: OpSetVertexBuffer, Slot: slot, Address: address, Size: size, Stride: stride})
}

// SetIndexBuffer implements backend.CommandList.
func (l *CommandList) SetIndexBuffer(address, size uint64, format gputypes.IndexFormat) {
	if l.kind != backend.QueueGraphics {
		l.dev.violate("index buffer bound on %s list", l.kind)
	}
	l.record(Command{Op: OpSetIndexBuffer, Address: address, Size: size, Format: format})
}

// Draw implements backend.CommandList.
func (l *CommandList) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if l.kind != backend.QueueGraphics {
		l.dev.violate("draw recorded on %s list", l.kind)
	}
	l.record(Command{Op: OpDraw, Counts: [5]uint32{vertexCount, instanceCount, firstVertex, firstInstance}})
}

// DrawIndexed implements backend.CommandList.
func (l *CommandList) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	if l.kind != backend.QueueGraphics {
		l.dev.violate("draw recorded on %s list", l.kind)
	}
	l.record(Command{
		Op:     OpDrawIndexed,
		Counts: [5]uint32{indexCount, instanceCount, firstIndex, uint32(baseVertex), firstInstance},
	})
}

// Dispatch implements backend.CommandList.
func (l *CommandList) Dispatch(x, y, z uint32) {
	if l.kind == backend.QueueCopy {
		l.dev.violate("dispatch recorded on copy list")
	}
	l.record(Command{Op: OpDispatch, Counts: [5]uint32{x, y, z}})
}

// CopyBufferRegion implements backend.CommandList.
func (l *CommandList) CopyBufferRegion(dst backend.Buffer, dstOffset uint64, src backend.Buffer, srcOffset, size uint64) {
	d, ok1 := dst.(*Buffer)
	s, ok2 := src.(*Buffer)
	if !ok1 || !ok2 {
		panic("sim: copy between foreign buffers")
	}
	if dstOffset+size > uint64(len(d.data)) || srcOffset+size > uint64(len(s.data)) {
		panic(fmt.Sprintf("sim: copy of %d bytes out of range", size))
	}
	l.record(Command{
		Op:      OpCopy,
		Address: d.address + dstOffset,
		copy:    &copyOp{dst: d, src: s, dstOffset: dstOffset, offset: srcOffset, size: size},
	})
}

// Destroy implements backend.CommandList.
func (l *CommandList) Destroy() {
	l.cmds = nil
	l.heaps = nil
	l.alloc = nil
}
