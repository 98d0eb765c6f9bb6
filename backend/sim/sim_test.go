package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gpuqueue/backend"
)

func newManual(t *testing.T) *Device {
	t.Helper()
	d := New(Config{Mode: ModeManual, History: true})
	t.Cleanup(d.Destroy)
	return d
}

func TestManualCompletion(t *testing.T) {
	d := newManual(t)
	q := d.SimQueue(backend.QueueGraphics)

	if err := q.Signal(1); err != nil {
		t.Fatalf("Signal(1): %v", err)
	}
	if err := q.Signal(2); err != nil {
		t.Fatalf("Signal(2): %v", err)
	}
	if got := q.Completed(); got != 0 {
		t.Fatalf("Completed() = %d before Complete, want 0", got)
	}
	if q.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", q.Pending())
	}

	q.Complete(1)
	if got := q.Completed(); got != 1 {
		t.Errorf("Completed() = %d after Complete(1), want 1", got)
	}
	q.CompleteAll()
	if got := q.Completed(); got != 2 {
		t.Errorf("Completed() = %d after CompleteAll, want 2", got)
	}
}

func TestSubmitRejectsNonIncreasingValue(t *testing.T) {
	d := newManual(t)
	q := d.SimQueue(backend.QueueGraphics)
	if err := q.Signal(5); err != nil {
		t.Fatal(err)
	}
	if err := q.Signal(5); err == nil {
		t.Error("Signal with repeated value succeeded")
	}
}

func TestWaitUnblocksOnCompletion(t *testing.T) {
	d := newManual(t)
	q := d.SimQueue(backend.QueueCompute)
	if err := q.Signal(3); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Wait(context.Background(), 3) }()

	select {
	case err := <-done:
		t.Fatalf("Wait returned early: %v", err)
	case <-time.After(10 * time.Millisecond):
	}

	q.CompleteAll()
	if err := <-done; err != nil {
		t.Errorf("Wait: %v", err)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	d := newManual(t)
	q := d.SimQueue(backend.QueueGraphics)
	if err := q.Signal(1); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := q.Wait(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait error = %v, want DeadlineExceeded", err)
	}
}

func TestAutoMode(t *testing.T) {
	d := New(Config{Latency: time.Millisecond})
	defer d.Destroy()

	q := d.Queue(backend.QueueGraphics)
	for v := uint64(1); v <= 4; v++ {
		if err := q.Signal(v); err != nil {
			t.Fatal(err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Wait(ctx, 4); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := q.Completed(); got != 4 {
		t.Errorf("Completed() = %d, want 4", got)
	}
}

func TestCopyExecutesAtCompletion(t *testing.T) {
	d := newManual(t)

	src, err := d.CreateBuffer(&backend.BufferDesc{Label: "src", Size: 16, Memory: backend.MemoryUpload})
	if err != nil {
		t.Fatal(err)
	}
	dst, err := d.CreateBuffer(&backend.BufferDesc{Label: "dst", Size: 16})
	if err != nil {
		t.Fatal(err)
	}
	data, err := src.Map()
	if err != nil {
		t.Fatal(err)
	}
	copy(data, "0123456789abcdef")

	alloc, _ := d.CreateCommandAllocator(backend.QueueCopy)
	list, _ := d.CreateCommandList(backend.QueueCopy, alloc)
	list.CopyBufferRegion(dst, 4, src, 0, 4)

	q := d.SimQueue(backend.QueueCopy)
	if err := q.Submit([]backend.CommandList{list}, 1); err != nil {
		t.Fatal(err)
	}

	contents := dst.(*Buffer).Contents()
	if string(contents[4:8]) == "0123" {
		t.Fatal("copy executed before completion")
	}
	q.CompleteAll()
	if got := string(contents[4:8]); got != "0123" {
		t.Errorf("dst[4:8] = %q, want %q", got, "0123")
	}

	h := q.History()
	if len(h) != 1 || h[0].Op != OpCopy {
		t.Errorf("History() = %v, want one copy", h)
	}
}

func TestAllocatorResetViolation(t *testing.T) {
	d := newManual(t)
	q := d.SimQueue(backend.QueueGraphics)

	alloc, _ := d.CreateCommandAllocator(backend.QueueGraphics)
	list, _ := d.CreateCommandList(backend.QueueGraphics, alloc)
	list.Dispatch(1, 1, 1)
	if err := q.Submit([]backend.CommandList{list}, 1); err != nil {
		t.Fatal(err)
	}

	_ = alloc.Reset()
	if len(d.Violations()) != 1 {
		t.Fatalf("Violations() = %v, want one", d.Violations())
	}

	q.CompleteAll()
	_ = alloc.Reset()
	if len(d.Violations()) != 1 {
		t.Errorf("reset after completion recorded a violation: %v", d.Violations())
	}
}

func TestHeapWriteViolation(t *testing.T) {
	d := newManual(t)
	q := d.SimQueue(backend.QueueGraphics)

	heap, _ := d.CreateDescriptorHeap(backend.HeapView, 8)
	alloc, _ := d.CreateCommandAllocator(backend.QueueGraphics)
	list, _ := d.CreateCommandList(backend.QueueGraphics, alloc)
	list.SetDescriptorHeaps([]backend.DescriptorHeap{heap})
	heap.CopyDescriptors(0, []backend.DescriptorHandle{7})
	if err := q.Submit([]backend.CommandList{list}, 1); err != nil {
		t.Fatal(err)
	}

	heap.CopyDescriptors(1, []backend.DescriptorHandle{8})
	if len(d.Violations()) != 1 {
		t.Fatalf("Violations() = %v, want one", d.Violations())
	}
	q.CompleteAll()
	heap.CopyDescriptors(2, []backend.DescriptorHandle{9})
	if len(d.Violations()) != 1 {
		t.Errorf("write after completion recorded a violation: %v", d.Violations())
	}
	if got := heap.(*DescriptorHeap).Copies(); got != 3 {
		t.Errorf("Copies() = %d, want 3", got)
	}
}

func TestInjectedFaults(t *testing.T) {
	d := newManual(t)

	d.InjectFault(FaultBuffer)
	if _, err := d.CreateBuffer(&backend.BufferDesc{Size: 4}); !errors.Is(err, backend.ErrOutOfMemory) {
		t.Errorf("CreateBuffer error = %v, want ErrOutOfMemory", err)
	}
	if _, err := d.CreateBuffer(&backend.BufferDesc{Size: 4}); err != nil {
		t.Errorf("fault was not consumed: %v", err)
	}

	d.InjectFault(FaultSubmit)
	if err := d.Queue(backend.QueueGraphics).Signal(1); !errors.Is(err, backend.ErrDeviceLost) {
		t.Errorf("Signal error = %v, want ErrDeviceLost", err)
	}
}

func TestDeviceMemoryNotMappable(t *testing.T) {
	d := newManual(t)
	b, err := d.CreateBuffer(&backend.BufferDesc{Size: 64, Memory: backend.MemoryDevice})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Map(); !errors.Is(err, backend.ErrNotMappable) {
		t.Errorf("Map error = %v, want ErrNotMappable", err)
	}
}

func TestNoCopyQueue(t *testing.T) {
	d := New(Config{Mode: ModeManual, NoCopyQueue: true})
	defer d.Destroy()
	if d.Queue(backend.QueueCopy) != nil {
		t.Error("Queue(copy) != nil with NoCopyQueue")
	}
	if _, err := d.CreateCommandAllocator(backend.QueueCopy); !errors.Is(err, backend.ErrUnsupportedQueue) {
		t.Errorf("CreateCommandAllocator error = %v, want ErrUnsupportedQueue", err)
	}
}

func TestRegistered(t *testing.T) {
	if !backend.IsRegistered(backend.BackendSim) {
		t.Fatal("sim backend not registered")
	}
	dev, err := backend.Open(backend.BackendSim)
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Destroy()
	if got := dev.Info().Name; got != backend.BackendSim {
		t.Errorf("Info().Name = %q, want %q", got, backend.BackendSim)
	}
}
