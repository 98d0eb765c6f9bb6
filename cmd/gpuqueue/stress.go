package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli"

	"github.com/gogpu/gpuqueue"
	"github.com/gogpu/gpuqueue/backend"
	"github.com/gogpu/gpuqueue/backend/sim"
	"github.com/gogpu/gpuqueue/descriptor"
	"github.com/gogpu/gpuqueue/internal/workers"
	"github.com/gogpu/gpuqueue/pipeline"
	"github.com/gogpu/gpuqueue/profile"
)

const doubleSource = `
@group(0) @binding(0) var<storage, read_write> data: array<u32>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    data[id.x] = data[id.x] * 2u;
}
`

// List registered backends.
func listBackends(ctx *cli.Context) error {
	for _, name := range backend.Available() {
		fmt.Println(name)
	}
	return nil
}

// openDevice opens the named backend. The returned release function tears
// down whatever openDevice created.
func openDevice(ctx *cli.Context, opts []gpuqueue.Option) (*gpuqueue.Device, func(), error) {
	name := ctx.String("backend")
	if name != backend.BackendSim {
		dev, err := gpuqueue.Open(name, opts...)
		if err != nil {
			return nil, nil, err
		}
		return dev, func() { _ = dev.Shutdown() }, nil
	}

	hw := sim.New(sim.Config{Latency: ctx.Duration("latency")})
	dev, err := gpuqueue.New(hw, opts...)
	if err != nil {
		hw.Destroy()
		return nil, nil, err
	}
	return dev, func() {
		_ = dev.Shutdown()
		hw.Destroy()
	}, nil
}

// Run the stress workload.
func stress(ctx *cli.Context) error {
	setupLogging(ctx)

	producers, frames := ctx.Int("producers"), ctx.Int("frames")
	if producers <= 0 || frames <= 0 {
		return errors.New("producers and frames must be positive")
	}
	opts := []gpuqueue.Option{
		gpuqueue.WithUploadPageSize(uint64(ctx.Int("upload-page")) << 10),
		gpuqueue.WithDescriptorsPerHeap(uint32(ctx.Int("heap-size"))),
	}
	if ctx.Bool("strict") {
		opts = append(opts, gpuqueue.WithStrictBarriers())
	}

	dev, release, err := openDevice(ctx, opts)
	if err != nil {
		return err
	}
	defer release()

	p, err := dev.Pipelines().Get(&backend.PipelineDesc{
		Label:      "double",
		Kind:       backend.PipelineCompute,
		Source:     doubleSource,
		EntryPoint: "main",
	})
	if err != nil {
		gpuqueue.Logger().Warn("compute pipeline unavailable, recording copies only", "err", err)
	}

	buffers := make([]*gpuqueue.Resource, producers)
	for i := range buffers {
		buffers[i], err = dev.CreateResource(&backend.BufferDesc{
			Label:           fmt.Sprintf("producer %d", i),
			Size:            4096,
			Memory:          backend.MemoryDevice,
			UnorderedAccess: true,
		}, backend.StateCommon)
		if err != nil {
			return err
		}
	}
	defer func() {
		// Buffers may only go once the device has finished with them.
		if err := dev.IdleGPU(); err == nil {
			for _, r := range buffers {
				r.Destroy()
			}
		}
	}()

	w := &worker{
		dev:      dev,
		pipeline: p,
		timer:    profile.NewTimer(),
		wait:     ctx.Bool("wait"),
		async:    dev.Queues().Has(backend.QueueCompute),
		layout:   descriptor.NewLayout(descriptor.Inline(), descriptor.Table(backend.HeapView, 2)),
	}

	pool := workers.New(ctx.Int("workers"))
	defer pool.Close()

	start := time.Now()
	for f := 0; f < frames; f++ {
		jobs := make([]workers.Job, producers)
		for i := range jobs {
			jobs[i] = func(int) error { return w.frame(i, buffers[i], f) }
		}
		if err := pool.Run(jobs); err != nil {
			return err
		}
	}
	if err := dev.IdleGPU(); err != nil {
		return err
	}
	w.timer.Poll(dev.Queues())
	elapsed := time.Since(start)

	displayStats(dev, w.timer, producers, producers*frames, elapsed)
	return nil
}

type worker struct {
	dev      *gpuqueue.Device
	pipeline pipeline.Handle
	layout   *descriptor.Layout
	timer    *profile.Timer
	wait     bool
	async    bool
}

func producerName(i int) string { return fmt.Sprintf("producer %d", i) }

// frame records and submits frame f of producer i.
func (w *worker) frame(i int, r *gpuqueue.Resource, f int) error {
	name := producerName(i)
	begin := time.Now()
	var (
		c   *gpuqueue.Context
		err error
	)
	if i%2 == 1 && w.async {
		c, err = w.dev.BeginCompute(name, true)
	} else {
		c, err = w.dev.Begin(name)
	}
	if err != nil {
		return err
	}

	c.WriteBuffer(r, uint64(f%64)*4, []byte{byte(i), byte(f), byte(f >> 8), 0})
	if !w.pipeline.IsZero() {
		c.TransitionResource(r, backend.StateUnorderedAccess, false)
		c.SetPipeline(w.pipeline)
		c.SetComputeLayout(w.layout)
		c.SetComputeBufferView(0, r.Buffer().Address())
		c.SetComputeDynamicDescriptors(1, 0, backend.DescriptorHandle(i), backend.DescriptorHandle(f))
		c.Dispatch(1, 1, 1)
	}
	c.TransitionResource(r, backend.StateCommon, false)

	ticket, err := c.Finish(w.wait)
	if err != nil {
		return fmt.Errorf("%s frame %d: %w", name, f, err)
	}
	w.timer.Record(name, ticket, time.Since(begin))
	w.timer.Poll(w.dev.Queues())
	return nil
}
