package gpuqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"braces.dev/errtrace"

	"github.com/gogpu/gpuqueue/arena"
	"github.com/gogpu/gpuqueue/backend"
	"github.com/gogpu/gpuqueue/descriptor"
	"github.com/gogpu/gpuqueue/internal/recycle"
	"github.com/gogpu/gpuqueue/pipeline"
	"github.com/gogpu/gpuqueue/queue"
)

// Device owns every pool the submission core shares between contexts.
// All methods are safe for concurrent use.
type Device struct {
	hw   backend.Device
	opts options

	queues    *queue.Manager
	upload    *arena.PageManager
	scratch   *arena.PageManager
	heaps     [backend.NumHeapKinds]*descriptor.HeapPool
	contexts  *ContextManager
	pipelines *pipeline.Cache

	mu       sync.RWMutex
	closed   bool
	closeErr error
}

// New builds the submission core on top of hw. The caller keeps ownership
// of hw and must destroy it after Shutdown.
func New(hw backend.Device, opts ...Option) (*Device, error) {
	if hw == nil {
		return nil, ErrNilDevice
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	queues, err := queue.NewManager(hw, o.queues...)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	d := &Device{
		hw:        hw,
		opts:      o,
		queues:    queues,
		upload:    arena.NewPageManager(hw, arena.HostVisible, o.uploadPageSize, queues),
		scratch:   arena.NewPageManager(hw, arena.DeviceExclusive, o.scratchPageSize, queues),
		pipelines: pipeline.NewCache(hw),
	}
	for k := backend.HeapKind(0); k < backend.NumHeapKinds; k++ {
		d.heaps[k] = descriptor.NewHeapPool(hw, k, o.descriptorsPerHeap, queues)
	}
	d.contexts = newContextManager(d)

	info := hw.Info()
	Logger().Info("gpuqueue: device created",
		"backend", info.Name,
		"adapter", info.Adapter.Name,
		"queues", fmt.Sprint(queues.Kinds()),
		"uploadPage", o.uploadPageSize,
		"scratchPage", o.scratchPageSize)
	return d, nil
}

// Open opens a backend device by name and builds a Device on it. Shutdown
// also destroys the backend device.
func Open(name string, opts ...Option) (*Device, error) {
	hw, err := backend.Open(name)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	d, err := New(hw, opts...)
	if err != nil {
		hw.Destroy()
		return nil, errtrace.Wrap(err)
	}
	d.opts.ownsHW = true
	return d, nil
}

// Backend returns the backend device.
func (d *Device) Backend() backend.Device { return d.hw }

// Queues returns the completion trackers.
func (d *Device) Queues() *queue.Manager { return d.queues }

// Contexts returns the context pool.
func (d *Device) Contexts() *ContextManager { return d.contexts }

// Pipelines returns the pipeline cache.
func (d *Device) Pipelines() *pipeline.Cache { return d.pipelines }

// BeginKind returns a recording context for the queue of the given kind.
func (d *Device) BeginKind(kind backend.QueueKind, label string) (*Context, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}
	if !d.queues.Has(kind) {
		return nil, fmt.Errorf("%w: %s", queue.ErrNoQueue, kind)
	}
	c, err := d.contexts.AllocateContext(kind)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	c.label = label
	return c, nil
}

// Begin returns a graphics recording context.
func (d *Device) Begin(label string) (*Context, error) {
	return d.BeginKind(backend.QueueGraphics, label)
}

// BeginCompute returns a context that records compute work. With async the
// work goes to the compute queue; otherwise to the graphics queue.
func (d *Device) BeginCompute(label string, async bool) (*Context, error) {
	if async {
		return d.BeginKind(backend.QueueCompute, label)
	}
	return d.BeginKind(backend.QueueGraphics, label)
}

// BeginCopy returns a context for the copy queue.
func (d *Device) BeginCopy(label string) (*Context, error) {
	return d.BeginKind(backend.QueueCopy, label)
}

// CreateResource creates a buffer and wraps it in a Resource in state
// initial.
func (d *Device) CreateResource(desc *backend.BufferDesc, initial ResourceState) (*Resource, error) {
	buf, err := d.hw.CreateBuffer(desc)
	if err != nil {
		return nil, errtrace.Wrap(fmt.Errorf("gpuqueue: create buffer %q: %w", desc.Label, err))
	}
	return NewResource(buf, initial), nil
}

// IsComplete reports whether the device has finished the work of t.
func (d *Device) IsComplete(t queue.Ticket) bool { return d.queues.IsComplete(t) }

// WaitFor blocks until t is complete.
func (d *Device) WaitFor(t queue.Ticket) error {
	return errtrace.Wrap(d.queues.WaitFor(t))
}

// WaitForContext blocks until t is complete or ctx is done.
func (d *Device) WaitForContext(ctx context.Context, t queue.Ticket) error {
	return errtrace.Wrap(d.queues.WaitForContext(ctx, t))
}

// IdleGPU waits until every queue has drained.
func (d *Device) IdleGPU() error {
	return errtrace.Wrap(d.queues.IdleGPU())
}

// Shutdown drains the device and releases every pooled object. No context
// may be recording. Calling Shutdown again returns the first result.
func (d *Device) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return d.closeErr
	}
	d.closed = true

	err := d.queues.IdleGPU()
	if err != nil {
		Logger().Warn("gpuqueue: idle before shutdown failed", "err", err)
	}
	d.contexts.DestroyAllContexts()
	d.pipelines.Destroy()
	for _, h := range d.heaps {
		h.Destroy()
	}
	d.scratch.Destroy()
	d.upload.Destroy()
	d.queues.Shutdown()
	if d.opts.ownsHW {
		d.hw.Destroy()
	}

	d.closeErr = errtrace.Wrap(err)
	Logger().Info("gpuqueue: device shut down")
	return d.closeErr
}

// Stats is a snapshot of every pool.
type Stats struct {
	Allocators [backend.NumQueueKinds]recycle.Stats
	Completed  [backend.NumQueueKinds]queue.Ticket
	Upload     arena.Stats
	Scratch    arena.Stats
	Heaps      [backend.NumHeapKinds]recycle.Stats
	Contexts   ContextStats
	Pipelines  pipeline.Stats
}

// Stats returns a snapshot of every pool.
func (d *Device) Stats() Stats {
	s := Stats{
		Upload:    d.upload.Stats(),
		Scratch:   d.scratch.Stats(),
		Contexts:  d.contexts.Stats(),
		Pipelines: d.pipelines.Stats(),
	}
	for _, k := range d.queues.Kinds() {
		q := d.queues.Queue(k)
		s.Allocators[k] = q.Allocators().Stats()
		s.Completed[k] = q.LastCompleted()
	}
	for k, h := range d.heaps {
		s.Heaps[k] = h.Stats()
	}
	return s
}

// IsDeviceLost reports whether err means the device stopped accepting work.
func IsDeviceLost(err error) bool {
	return errors.Is(err, backend.ErrDeviceLost)
}
