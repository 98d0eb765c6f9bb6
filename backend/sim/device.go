// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package sim

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuqueue/backend"
)

// Mode selects how queues complete work.
type Mode uint8

// Completion modes.
const (
	// ModeAuto executes each batch on a per-queue goroutine after Latency.
	ModeAuto Mode = iota
	// ModeManual leaves batches pending until Queue.Complete is called.
	ModeManual
)

// Fault selects the next device call that fails.
type Fault uint8

// Injectable faults.
const (
	FaultNone Fault = iota
	FaultSubmit
	FaultAllocator
	FaultBuffer
	FaultHeap
	FaultPipeline
)

// Config configures a simulated device.
type Config struct {
	// Mode selects automatic or manual completion.
	Mode Mode

	// Latency is how long an automatic queue takes per batch.
	Latency time.Duration

	// CompileDelay is how long CreatePipeline takes.
	CompileDelay time.Duration

	// NoCopyQueue hides the copy queue.
	NoCopyQueue bool

	// History keeps every executed command for Queue.History.
	History bool
}

func init() {
	backend.Register(backend.BackendSim, Open)
}

// Open opens a simulated device with automatic completion.
func Open() (backend.Device, error) {
	return New(Config{}), nil
}

// Device is an in-process device. It tracks which objects the simulated
// device timeline still references and records a violation whenever the
// host recycles one of them too early.
type Device struct {
	cfg    Config
	queues [backend.NumQueueKinds]*Queue

	nextAddress atomic.Uint64
	nextHeap    atomic.Uint64

	allocators atomic.Int64
	lists      atomic.Int64
	buffers    atomic.Int64
	heaps      atomic.Int64
	pipelines  atomic.Int64

	mu         sync.Mutex
	fault      Fault
	violations []string
	destroyed  bool
}

// New creates a simulated device.
func New(cfg Config) *Device {
	d := &Device{cfg: cfg}
	d.nextAddress.Store(1 << 32)
	for k := backend.QueueKind(0); k < backend.NumQueueKinds; k++ {
		if k == backend.QueueCopy && cfg.NoCopyQueue {
			continue
		}
		d.queues[k] = newQueue(d, k)
	}
	return d
}

// Info implements backend.Device.
func (d *Device) Info() backend.Info {
	return backend.Info{
		Name:    backend.BackendSim,
		Backend: gputypes.BackendEmpty,
		Adapter: gpucontext.AdapterInfo{Name: "Simulated Device", Type: gpucontext.AdapterTypeSoftware},
	}
}

// Queue implements backend.Device.
func (d *Device) Queue(kind backend.QueueKind) backend.Queue {
	if q := d.SimQueue(kind); q != nil {
		return q
	}
	return nil
}

// SimQueue returns the concrete queue of the given kind, or nil.
func (d *Device) SimQueue(kind backend.QueueKind) *Queue {
	if kind >= backend.NumQueueKinds {
		return nil
	}
	return d.queues[kind]
}

// InjectFault makes the next call of the given kind fail.
func (d *Device) InjectFault(f Fault) {
	d.mu.Lock()
	d.fault = f
	d.mu.Unlock()
}

// takeFault consumes an injected fault of kind f.
func (d *Device) takeFault(f Fault) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fault == f {
		d.fault = FaultNone
		return true
	}
	return false
}

// violate records a device-timeline violation.
func (d *Device) violate(format string, args ...any) {
	d.mu.Lock()
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
	d.mu.Unlock()
}

// Violations returns every recorded use-after-retire.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

// Counters reports how many objects of each kind were created.
type Counters struct {
	Allocators int64
	Lists      int64
	Buffers    int64
	Heaps      int64
	Pipelines  int64
}

// Counters returns creation counters.
func (d *Device) Counters() Counters {
	return Counters{
		Allocators: d.allocators.Load(),
		Lists:      d.lists.Load(),
		Buffers:    d.buffers.Load(),
		Heaps:      d.heaps.Load(),
		Pipelines:  d.pipelines.Load(),
	}
}

// CreateCommandAllocator implements backend.Device.
func (d *Device) CreateCommandAllocator(kind backend.QueueKind) (backend.CommandAllocator, error) {
	if d.takeFault(FaultAllocator) {
		return nil, fmt.Errorf("sim: create %s allocator: %w", kind, backend.ErrOutOfMemory)
	}
	q := d.SimQueue(kind)
	if q == nil {
		return nil, fmt.Errorf("sim: %w: %s", backend.ErrUnsupportedQueue, kind)
	}
	id := d.allocators.Add(1)
	return &CommandAllocator{id: id, queue: q}, nil
}

// CreateCommandList implements backend.Device.
func (d *Device) CreateCommandList(kind backend.QueueKind, alloc backend.CommandAllocator) (backend.CommandList, error) {
	if d.SimQueue(kind) == nil {
		return nil, fmt.Errorf("sim: %w: %s", backend.ErrUnsupportedQueue, kind)
	}
	d.lists.Add(1)
	l := &CommandList{dev: d, kind: kind}
	if err := l.Reset(alloc); err != nil {
		return nil, err
	}
	return l, nil
}

// CreateBuffer implements backend.Device.
func (d *Device) CreateBuffer(desc *backend.BufferDesc) (backend.Buffer, error) {
	if desc == nil || desc.Size == 0 {
		return nil, fmt.Errorf("sim: invalid buffer descriptor")
	}
	if d.takeFault(FaultBuffer) {
		return nil, fmt.Errorf("sim: create buffer %q: %w", desc.Label, backend.ErrOutOfMemory)
	}
	d.buffers.Add(1)
	// Buffers are placed at 64 KiB granularity like committed resources.
	span := (desc.Size + 0xffff) &^ 0xffff
	addr := d.nextAddress.Add(span) - span
	return &Buffer{
		dev:     d,
		label:   desc.Label,
		memory:  desc.Memory,
		address: addr,
		data:    make([]byte, desc.Size),
	}, nil
}

// CreateDescriptorHeap implements backend.Device.
func (d *Device) CreateDescriptorHeap(kind backend.HeapKind, count uint32) (backend.DescriptorHeap, error) {
	if count == 0 {
		return nil, fmt.Errorf("sim: descriptor heap with zero capacity")
	}
	if d.takeFault(FaultHeap) {
		return nil, fmt.Errorf("sim: create %s heap: %w", kind, backend.ErrOutOfMemory)
	}
	d.heaps.Add(1)
	id := d.nextHeap.Add(1)
	return &DescriptorHeap{
		dev:   d,
		kind:  kind,
		start: backend.GPUDescriptorHandle(id << 32),
		slots: make([]backend.DescriptorHandle, count),
	}, nil
}

// CreatePipeline implements backend.Device.
func (d *Device) CreatePipeline(desc *backend.PipelineDesc) (backend.Pipeline, error) {
	if desc == nil || desc.EntryPoint == "" {
		return nil, fmt.Errorf("sim: pipeline has no entry point")
	}
	if d.takeFault(FaultPipeline) {
		return nil, fmt.Errorf("sim: compile %q: injected failure", desc.Label)
	}
	if d.cfg.CompileDelay > 0 {
		time.Sleep(d.cfg.CompileDelay)
	}
	d.pipelines.Add(1)
	return &Pipeline{Desc: *desc}, nil
}

// Destroy stops the queue goroutines.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	d.mu.Unlock()

	for _, q := range d.queues {
		if q != nil {
			q.stop()
		}
	}
}
