// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package wgpu

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"braces.dev/errtrace"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuqueue/backend"
	"github.com/gogpu/gpuqueue/internal/logging"
)

func init() {
	backend.Register(backend.BackendWGPU, Open)
}

// Open opens the first usable adapter of the best HAL backend linked into
// the binary. Discrete and integrated GPUs are preferred over the rest.
func Open() (backend.Device, error) {
	hb, err := hal.SelectBestBackend()
	if err != nil {
		return nil, errtrace.Wrap(fmt.Errorf("wgpu: %w: %w", backend.ErrBackendNotAvailable, err))
	}
	instance, err := hb.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, errtrace.Wrap(fmt.Errorf("wgpu: create instance: %w", err))
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, errtrace.Wrap(fmt.Errorf("wgpu: %w: no adapters", backend.ErrBackendNotAvailable))
	}
	selected := &adapters[0]
	for i := range adapters {
		if t := adapters[i].Info.DeviceType; t == gputypes.DeviceTypeDiscreteGPU || t == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}

	open, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, errtrace.Wrap(fmt.Errorf("wgpu: open device: %w", translate(err)))
	}

	d := NewFromHAL(open.Device, open.Queue, selected.Info)
	d.release = func() {
		open.Device.Destroy()
		instance.Destroy()
	}
	logging.Logger().Info("wgpu: device opened",
		"adapter", selected.Info.Name,
		"backend", selected.Info.Backend.String())
	return d, nil
}

// Device implements backend.Device on a HAL device and its queue.
type Device struct {
	hw   hal.Device
	info backend.Info

	// mu guards the HAL queue and the submission logs of every Queue.
	mu        sync.Mutex
	hq        hal.Queue
	lastIndex uint64
	queues    [backend.NumQueueKinds]*Queue

	nextAddress atomic.Uint64
	nextHeap    atomic.Uint64

	release   func()
	destroyed atomic.Bool
}

// NewFromHAL wraps an already opened HAL device. The caller keeps
// ownership of hw: Destroy on the returned device does not destroy it.
func NewFromHAL(hw hal.Device, hq hal.Queue, adapter gputypes.AdapterInfo) *Device {
	d := &Device{
		hw: hw,
		hq: hq,
		info: backend.Info{
			Name:    backend.BackendWGPU,
			Backend: adapter.Backend,
			Adapter: gpucontext.AdapterInfo{Name: adapter.Name, Type: adapterType(adapter.DeviceType)},
		},
	}
	d.nextAddress.Store(1 << 32)
	for k := backend.QueueKind(0); k < backend.NumQueueKinds; k++ {
		d.queues[k] = &Queue{dev: d, kind: k}
	}
	return d
}

func adapterType(t gputypes.DeviceType) gpucontext.AdapterType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		return gpucontext.AdapterTypeSoftware
	default:
		return gpucontext.AdapterTypeUnknown
	}
}

// HAL returns the wrapped HAL device.
func (d *Device) HAL() hal.Device { return d.hw }

// Info implements backend.Device.
func (d *Device) Info() backend.Info { return d.info }

// Queue implements backend.Device. Every kind maps onto the single HAL queue.
func (d *Device) Queue(kind backend.QueueKind) backend.Queue {
	if kind >= backend.NumQueueKinds {
		return nil
	}
	return d.queues[kind]
}

// CreateCommandAllocator implements backend.Device.
func (d *Device) CreateCommandAllocator(kind backend.QueueKind) (backend.CommandAllocator, error) {
	enc, err := d.hw.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: kind.String()})
	if err != nil {
		return nil, errtrace.Wrap(fmt.Errorf("wgpu: create %s command encoder: %w", kind, translate(err)))
	}
	return &CommandAllocator{dev: d, kind: kind, encoder: enc}, nil
}

// CreateCommandList implements backend.Device.
func (d *Device) CreateCommandList(kind backend.QueueKind, alloc backend.CommandAllocator) (backend.CommandList, error) {
	l := &CommandList{dev: d, kind: kind}
	if err := l.Reset(alloc); err != nil {
		return nil, err
	}
	return l, nil
}

// CreateBuffer implements backend.Device.
func (d *Device) CreateBuffer(desc *backend.BufferDesc) (backend.Buffer, error) {
	raw, err := d.hw.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: bufferUsage(desc),
	})
	if err != nil {
		return nil, errtrace.Wrap(fmt.Errorf("wgpu: create buffer %q: %w", desc.Label, translate(err)))
	}
	addr := d.nextAddress.Add(alignAddress(desc.Size)) - alignAddress(desc.Size)
	return &Buffer{dev: d, raw: raw, size: desc.Size, memory: desc.Memory, address: addr}, nil
}

// bufferUsage picks the HAL usage flags for a memory kind. Host-visible
// buffers are limited to the map and copy usages the HAL allows together.
func bufferUsage(desc *backend.BufferDesc) gputypes.BufferUsage {
	switch desc.Memory {
	case backend.MemoryUpload:
		return gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc
	case backend.MemoryReadback:
		return gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	}
	u := gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst |
		gputypes.BufferUsageVertex | gputypes.BufferUsageIndex |
		gputypes.BufferUsageUniform | gputypes.BufferUsageIndirect
	if desc.UnorderedAccess {
		u |= gputypes.BufferUsageStorage
	}
	return u
}

// alignAddress rounds a buffer size up to the 64 KiB granularity used for
// synthetic device addresses, so no two buffers share an address.
func alignAddress(size uint64) uint64 {
	const granularity = 64 << 10
	if size == 0 {
		return granularity
	}
	return (size + granularity - 1) &^ (granularity - 1)
}

// CreateDescriptorHeap implements backend.Device.
func (d *Device) CreateDescriptorHeap(kind backend.HeapKind, count uint32) (backend.DescriptorHeap, error) {
	raw, err := d.hw.CreateBuffer(&hal.BufferDescriptor{
		Label: kind.String() + " descriptor heap",
		Size:  uint64(count) * descriptorIncrement,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, errtrace.Wrap(fmt.Errorf("wgpu: create %s heap: %w", kind, translate(err)))
	}
	id := d.nextHeap.Add(1)
	return &DescriptorHeap{
		dev:   d,
		kind:  kind,
		raw:   raw,
		start: backend.GPUDescriptorHandle(id << 32),
		slots: make([]backend.DescriptorHandle, count),
	}, nil
}

// CreatePipeline implements backend.Device.
func (d *Device) CreatePipeline(desc *backend.PipelineDesc) (backend.Pipeline, error) {
	return errtrace.Wrap2(createPipeline(d, desc))
}

// Destroy implements backend.Device. A device returned by Open also
// destroys its HAL device and instance.
func (d *Device) Destroy() {
	if d.destroyed.Swap(true) {
		return
	}
	if err := d.hw.WaitIdle(); err != nil {
		logging.Logger().Warn("wgpu: wait idle on destroy", "error", err)
	}
	if d.release != nil {
		d.release()
	}
}

// translate maps HAL device errors onto the backend sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, hal.ErrDeviceLost):
		return fmt.Errorf("%w: %w", backend.ErrDeviceLost, err)
	case errors.Is(err, hal.ErrDeviceOutOfMemory):
		return fmt.Errorf("%w: %w", backend.ErrOutOfMemory, err)
	case errors.Is(err, hal.ErrInvalidMapRange):
		return fmt.Errorf("%w: %w", backend.ErrNotMappable, err)
	}
	return err
}
