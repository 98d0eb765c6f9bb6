package gpuqueue

import "github.com/gogpu/gpuqueue/backend"

// ResourceState is the access state of a resource as last recorded by a
// context.
type ResourceState = backend.ResourceState

// Resource is a device buffer plus the state bookkeeping contexts need to
// emit barriers.
//
// A Resource is used by one recording context at a time. The state it holds
// is the recording-order state, which may be ahead of what the device has
// executed.
type Resource struct {
	buffer backend.Buffer
	usage  ResourceState

	// transitioning is the target of a split barrier whose end half has not
	// been recorded yet, or StateInvalid.
	transitioning ResourceState
}

// NewResource wraps buf, which the device currently holds in state initial.
func NewResource(buf backend.Buffer, initial ResourceState) *Resource {
	if buf == nil {
		panic("gpuqueue: nil buffer")
	}
	return &Resource{
		buffer:        buf,
		usage:         initial,
		transitioning: backend.StateInvalid,
	}
}

// Buffer returns the underlying buffer.
func (r *Resource) Buffer() backend.Buffer { return r.buffer }

// State returns the state the last recorded barrier left the resource in.
func (r *Resource) State() ResourceState { return r.usage }

// Transitioning returns the target of a pending split barrier, or
// backend.StateInvalid.
func (r *Resource) Transitioning() ResourceState { return r.transitioning }

// Size returns the buffer size in bytes.
func (r *Resource) Size() uint64 { return r.buffer.Size() }

// Destroy releases the buffer. No submitted work may still reference it.
func (r *Resource) Destroy() {
	if r.buffer != nil {
		r.buffer.Destroy()
		r.buffer = nil
	}
}
