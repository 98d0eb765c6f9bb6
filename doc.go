// Package gpuqueue is the command-submission and transient-resource core of a
// real-time renderer.
//
// # Overview
//
// A [Device] wraps a [backend.Device] and owns every shared pool: one
// completion tracker and command-allocator pool per device queue, a
// device-exclusive and a host-visible page arena, a shader-visible
// descriptor heap pool per heap kind, the context pool and the pipeline
// cache. Producer goroutines record work through [Context] values:
//
//	dev, err := gpuqueue.New(hw)
//	if err != nil {
//		return err
//	}
//	defer dev.Shutdown()
//
//	ctx, err := dev.Begin("frame")
//	if err != nil {
//		return err
//	}
//	ctx.TransitionResource(target, backend.StateUnorderedAccess, false)
//	ctx.SetPipeline(p)
//	ctx.Dispatch(64, 1, 1)
//	ticket, err := ctx.Finish(false)
//
// # Tickets
//
// Finish submits the recorded work and returns a [queue.Ticket]. Everything
// the context borrowed (its command allocator, arena pages and descriptor
// heaps) is retired with that ticket and handed out again only after
// [Device.IsComplete] reports it complete. Readers of device results must
// wait for the ticket the same way, either by polling IsComplete or by
// blocking in [Device.WaitFor].
//
// # Concurrency
//
// Any number of goroutines may record at the same time, each in its own
// Context. A Context itself is not safe for concurrent use. All Device
// methods are.
//
// # Backends
//
// Devices come from the backend registry. Import backend/sim for the
// in-process simulator or backend/wgpu for a gogpu/wgpu HAL device.
package gpuqueue

// Version is the current version of the library.
const Version = "0.1.0"
