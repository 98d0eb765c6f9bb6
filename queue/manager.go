package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/gpuqueue/backend"
)

// Tracker reports whether a ticket is complete. *Manager and *Queue
// satisfy it.
type Tracker interface {
	IsComplete(t Ticket) bool
}

// Manager owns one Queue per device queue kind and routes tickets to the
// queue that issued them.
type Manager struct {
	queues [backend.NumQueueKinds]*Queue
}

// NewManager creates trackers for the given queue kinds. With no kinds it
// creates one for every queue the device exposes; the graphics queue is
// always required.
func NewManager(dev backend.Device, kinds ...backend.QueueKind) (*Manager, error) {
	if len(kinds) == 0 {
		for k := backend.QueueKind(0); k < backend.NumQueueKinds; k++ {
			if dev.Queue(k) != nil {
				kinds = append(kinds, k)
			}
		}
	}

	m := &Manager{}
	for _, k := range kinds {
		if k >= backend.NumQueueKinds {
			return nil, fmt.Errorf("%w: %d", ErrNoQueue, k)
		}
		if m.queues[k] != nil {
			continue
		}
		q, err := New(dev, k)
		if err != nil {
			return nil, err
		}
		m.queues[k] = q
	}
	if m.queues[backend.QueueGraphics] == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoQueue, backend.QueueGraphics)
	}
	return m, nil
}

// Queue returns the tracker for kind. Asking for a kind the manager was not
// created with panics.
func (m *Manager) Queue(kind backend.QueueKind) *Queue {
	if kind >= backend.NumQueueKinds || m.queues[kind] == nil {
		panic(fmt.Sprintf("queue: no %s queue", kind))
	}
	return m.queues[kind]
}

// Has reports whether the manager tracks a queue of the given kind.
func (m *Manager) Has(kind backend.QueueKind) bool {
	return kind < backend.NumQueueKinds && m.queues[kind] != nil
}

// Kinds returns the tracked queue kinds in ascending order.
func (m *Manager) Kinds() []backend.QueueKind {
	var kinds []backend.QueueKind
	for k, q := range m.queues {
		if q != nil {
			kinds = append(kinds, backend.QueueKind(k))
		}
	}
	return kinds
}

// IsComplete reports whether t is complete on the queue that issued it.
func (m *Manager) IsComplete(t Ticket) bool {
	return m.Queue(t.Queue()).IsComplete(t)
}

// WaitFor blocks until t is complete on the queue that issued it.
func (m *Manager) WaitFor(t Ticket) error {
	return m.Queue(t.Queue()).WaitFor(t)
}

// WaitForContext is WaitFor bounded by ctx.
func (m *Manager) WaitForContext(ctx context.Context, t Ticket) error {
	return m.Queue(t.Queue()).WaitForContext(ctx, t)
}

// IdleGPU idles every queue. Errors from all queues are joined.
func (m *Manager) IdleGPU() error {
	var errs []error
	for _, q := range m.queues {
		if q == nil {
			continue
		}
		if err := q.IdleQueue(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown destroys every queue's allocator pool. Call IdleGPU first.
func (m *Manager) Shutdown() {
	for _, q := range m.queues {
		if q != nil {
			q.Shutdown()
		}
	}
}
