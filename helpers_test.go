package gpuqueue

import (
	"testing"
	"time"

	"github.com/gogpu/gpuqueue/backend"
	"github.com/gogpu/gpuqueue/backend/sim"
)

// newManualDevice returns a device whose queues only complete work when the
// test says so.
func newManualDevice(t *testing.T, opts ...Option) (*Device, *sim.Device) {
	t.Helper()
	return newDevice(t, sim.Config{Mode: sim.ModeManual, History: true}, opts...)
}

// newAutoDevice returns a device that completes work on its own.
func newAutoDevice(t *testing.T, opts ...Option) (*Device, *sim.Device) {
	t.Helper()
	return newDevice(t, sim.Config{Mode: sim.ModeAuto, History: true}, opts...)
}

func newDevice(t *testing.T, cfg sim.Config, opts ...Option) (*Device, *sim.Device) {
	t.Helper()
	hw := sim.New(cfg)
	d, err := New(hw, opts...)
	if err != nil {
		hw.Destroy()
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		shutdown(t, d, hw)
		hw.Destroy()
		if v := hw.Violations(); len(v) > 0 {
			t.Errorf("device timeline violations: %v", v)
		}
	})
	return d, hw
}

// shutdown runs Device.Shutdown while pumping manual queues so its idle
// wait can return.
func shutdown(t *testing.T, d *Device, hw *sim.Device) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			completeAll(hw)
			time.Sleep(time.Millisecond)
		}
	}()
	err := d.Shutdown()
	close(done)
	if err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func completeAll(hw *sim.Device) {
	for k := backend.QueueKind(0); k < backend.NumQueueKinds; k++ {
		if q := hw.SimQueue(k); q != nil {
			q.CompleteAll()
		}
	}
}

func newBuffer(t *testing.T, d *Device, size uint64, initial ResourceState) *Resource {
	t.Helper()
	r, err := d.CreateResource(&backend.BufferDesc{
		Label:           t.Name(),
		Size:            size,
		Memory:          backend.MemoryDevice,
		UnorderedAccess: true,
	}, initial)
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	return r
}

func begin(t *testing.T, d *Device, kind backend.QueueKind) *Context {
	t.Helper()
	c, err := d.BeginKind(kind, t.Name())
	if err != nil {
		t.Fatalf("Begin(%s): %v", kind, err)
	}
	return c
}

func commands(c *Context) []sim.Command {
	return c.CommandList().(*sim.CommandList).Commands()
}

func countOps(cmds []sim.Command, op sim.Op) int {
	n := 0
	for _, c := range cmds {
		if c.Op == op {
			n++
		}
	}
	return n
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s did not panic", name)
		}
	}()
	fn()
}
