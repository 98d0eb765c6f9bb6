package gpuqueue

import (
	"sync"

	"github.com/gogpu/gpuqueue/backend"
)

// ContextStats counts pooled contexts per queue kind.
type ContextStats struct {
	Created [backend.NumQueueKinds]int
	Free    [backend.NumQueueKinds]int
}

// ContextManager pools recording contexts per queue kind.
type ContextManager struct {
	dev *Device

	mu   sync.Mutex
	all  [backend.NumQueueKinds][]*Context
	free [backend.NumQueueKinds][]*Context
}

func newContextManager(dev *Device) *ContextManager {
	return &ContextManager{dev: dev}
}

// AllocateContext returns a context in the recording state, reusing the
// oldest free context of the kind when there is one.
func (m *ContextManager) AllocateContext(kind backend.QueueKind) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if free := m.free[kind]; len(free) > 0 {
		c := free[0]
		free[0] = nil
		m.free[kind] = free[1:]
		if err := c.reset(); err != nil {
			m.free[kind] = append(m.free[kind], c)
			return nil, err
		}
		c.state = stateRecording
		return c, nil
	}

	c := newContext(m.dev, kind)
	if err := c.initialize(); err != nil {
		return nil, err
	}
	m.all[kind] = append(m.all[kind], c)
	c.state = stateRecording
	Logger().Debug("gpuqueue: new context", "queue", kind, "total", len(m.all[kind]))
	return c, nil
}

// freeContext returns c to the pool once Finish has retired its resources.
func (m *ContextManager) freeContext(c *Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.clearState()
	c.state = stateFree
	m.free[c.kind] = append(m.free[c.kind], c)
}

// DestroyAllContexts releases every command list. The device must be idle
// and no context may be recording.
func (m *ContextManager) DestroyAllContexts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.all {
		for _, c := range m.all[k] {
			if c.list != nil {
				c.list.Destroy()
				c.list = nil
			}
			c.state = stateFree
		}
		m.all[k] = nil
		m.free[k] = nil
	}
}

// Stats returns created and free counts per queue kind.
func (m *ContextManager) Stats() ContextStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s ContextStats
	for k := range m.all {
		s.Created[k] = len(m.all[k])
		s.Free[k] = len(m.free[k])
	}
	return s
}
