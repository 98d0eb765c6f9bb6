package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gpuqueue/backend"
	"github.com/gogpu/gpuqueue/backend/sim"
)

const computeSource = `
@group(0) @binding(0) var<storage, read_write> data: array<u32>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    data[id.x] = data[id.x] * 2u;
}
`

func computeDesc(label string) *backend.PipelineDesc {
	return &backend.PipelineDesc{
		Label:      label,
		Kind:       backend.PipelineCompute,
		Source:     computeSource,
		EntryPoint: "main",
	}
}

func TestGetDeduplicates(t *testing.T) {
	d := sim.New(sim.Config{Mode: sim.ModeManual})
	defer d.Destroy()
	c := NewCache(d)
	defer c.Destroy()

	h1, err := c.Get(computeDesc("double"))
	if err != nil {
		t.Fatal(err)
	}
	h2, err := c.Get(computeDesc("double"))
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("same descriptor returned different handles")
	}
	h3, _ := c.Get(computeDesc("other"))
	if h3 == h1 {
		t.Error("different descriptors share a handle")
	}
	if h1.Label() != "double" || h1.Kind() != backend.PipelineCompute {
		t.Errorf("handle = %q %v", h1.Label(), h1.Kind())
	}
	if s := c.Stats(); s.Compiles != 2 || s.Hits != 1 || s.Entries != 2 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestConcurrentFirstCallerCompiles(t *testing.T) {
	d := sim.New(sim.Config{Mode: sim.ModeManual, CompileDelay: 20 * time.Millisecond})
	defer d.Destroy()
	c := NewCache(d)
	defer c.Destroy()

	const n = 16
	handles := make([]Handle, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := c.Get(computeDesc("shared"))
			if err != nil {
				t.Error(err)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	if got := d.Counters().Pipelines; got != 1 {
		t.Errorf("device compiled %d pipelines, want 1", got)
	}
	for i := 1; i < n; i++ {
		if handles[i] != handles[0] {
			t.Fatalf("caller %d got a different handle", i)
		}
	}
}

func TestFailedCompileNotCached(t *testing.T) {
	d := sim.New(sim.Config{Mode: sim.ModeManual})
	defer d.Destroy()
	c := NewCache(d)
	defer c.Destroy()

	d.InjectFault(sim.FaultPipeline)
	if _, err := c.Get(computeDesc("flaky")); err == nil {
		t.Fatal("Get succeeded with injected failure")
	}
	h, err := c.Get(computeDesc("flaky"))
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if h.IsZero() || h.Pipeline() == nil {
		t.Error("retry returned zero handle")
	}
	if s := c.Stats(); s.Failures != 1 || s.Compiles != 2 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestGetContextCancelled(t *testing.T) {
	d := sim.New(sim.Config{Mode: sim.ModeManual, CompileDelay: 100 * time.Millisecond})
	defer d.Destroy()
	c := NewCache(d)
	defer c.Destroy()

	go func() { _, _ = c.Get(computeDesc("slow")) }()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := c.GetContext(ctx, computeDesc("slow")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("GetContext error = %v, want DeadlineExceeded", err)
	}
}

func TestGetAfterDestroy(t *testing.T) {
	d := sim.New(sim.Config{Mode: sim.ModeManual})
	defer d.Destroy()
	c := NewCache(d)
	c.Destroy()
	if _, err := c.Get(computeDesc("late")); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Get error = %v, want ErrDestroyed", err)
	}
}
