package gpuqueue

import (
	"github.com/gogpu/gpuqueue/arena"
	"github.com/gogpu/gpuqueue/backend"
	"github.com/gogpu/gpuqueue/descriptor"
)

// Option configures a Device during creation.
// Use functional options to customize pool sizes and policies.
//
// Example:
//
//	// Defaults: 2 MiB upload pages, 64 KiB scratch pages, 1024-entry heaps
//	dev, err := gpuqueue.New(hw)
//
//	// Smaller upload pages and hard barrier limits for debugging
//	dev, err := gpuqueue.New(hw,
//		gpuqueue.WithUploadPageSize(256<<10),
//		gpuqueue.WithStrictBarriers(),
//	)
type Option func(*options)

// options holds optional configuration for Device creation.
type options struct {
	uploadPageSize     uint64
	scratchPageSize    uint64
	descriptorsPerHeap uint32
	strictBarriers     bool
	queues             []backend.QueueKind

	// ownsHW is set by Open: Shutdown then destroys the backend device.
	ownsHW bool
}

// defaultOptions returns the default device options.
func defaultOptions() options {
	return options{
		uploadPageSize:     arena.DefaultHostPageSize,
		scratchPageSize:    arena.DefaultDevicePageSize,
		descriptorsPerHeap: descriptor.DefaultDescriptorsPerHeap,
	}
}

// WithUploadPageSize sets the size of host-visible upload pages.
// Requests larger than a page get a dedicated page of their own.
func WithUploadPageSize(size uint64) Option {
	return func(o *options) {
		if size > 0 {
			o.uploadPageSize = size
		}
	}
}

// WithScratchPageSize sets the size of device-exclusive scratch pages.
func WithScratchPageSize(size uint64) Option {
	return func(o *options) {
		if size > 0 {
			o.scratchPageSize = size
		}
	}
}

// WithDescriptorsPerHeap sets how many descriptors each shader-visible
// staging heap holds.
func WithDescriptorsPerHeap(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.descriptorsPerHeap = n
		}
	}
}

// WithStrictBarriers makes a context panic when a seventeenth barrier is
// queued without an intervening flush, instead of flushing automatically.
func WithStrictBarriers() Option {
	return func(o *options) {
		o.strictBarriers = true
	}
}

// WithQueues selects the device queues to track. The graphics queue is
// always required. By default every queue the device exposes is used.
func WithQueues(kinds ...backend.QueueKind) Option {
	return func(o *options) {
		o.queues = append([]backend.QueueKind(nil), kinds...)
	}
}
