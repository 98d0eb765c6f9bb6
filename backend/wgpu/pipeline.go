package wgpu

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuqueue/backend"
	"github.com/gogpu/gpuqueue/internal/logging"
)

var errGraphicsUnsupported = errors.New("wgpu: graphics pipelines are not supported")

// Pipeline implements backend.Pipeline with a HAL compute pipeline and
// the objects it was built from.
type Pipeline struct {
	dev    *Device
	module hal.ShaderModule
	layout hal.PipelineLayout
	raw    hal.ComputePipeline
}

// HAL returns the wrapped compute pipeline.
func (p *Pipeline) HAL() hal.ComputePipeline { return p.raw }

// Destroy implements backend.Pipeline.
func (p *Pipeline) Destroy() {
	hw := p.dev.hw
	if p.raw != nil {
		hw.DestroyComputePipeline(p.raw)
		p.raw = nil
	}
	if p.layout != nil {
		hw.DestroyPipelineLayout(p.layout)
		p.layout = nil
	}
	if p.module != nil {
		hw.DestroyShaderModule(p.module)
		p.module = nil
	}
}

// compileSPIRV compiles WGSL to SPIR-V words.
func compileSPIRV(source string) ([]uint32, error) {
	bytes, err := naga.Compile(source)
	if err != nil {
		return nil, err
	}
	if len(bytes)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V size %d is not a multiple of 4", len(bytes))
	}
	words := make([]uint32, len(bytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(bytes[i*4:])
	}
	return words, nil
}

// createPipeline builds a compute pipeline. Objects created before a
// failing step are destroyed again.
func createPipeline(d *Device, desc *backend.PipelineDesc) (backend.Pipeline, error) {
	if desc.Kind != backend.PipelineCompute {
		return nil, fmt.Errorf("%w: %q", errGraphicsUnsupported, desc.Label)
	}
	if desc.EntryPoint == "" {
		return nil, fmt.Errorf("wgpu: pipeline %q has no entry point", desc.Label)
	}

	spirv, err := compileSPIRV(desc.Source)
	if err != nil {
		return nil, fmt.Errorf("wgpu: compile %q: %w", desc.Label, err)
	}

	p := &Pipeline{dev: d}
	p.module, err = d.hw.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create shader module %q: %w", desc.Label, translate(err))
	}

	p.layout, err = d.hw.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: desc.Label + "_pl",
	})
	if err != nil {
		p.Destroy()
		return nil, fmt.Errorf("wgpu: create pipeline layout %q: %w", desc.Label, translate(err))
	}

	p.raw, err = d.hw.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: p.layout,
		Compute: hal.ComputeState{
			Module:     p.module,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		p.Destroy()
		return nil, fmt.Errorf("wgpu: create compute pipeline %q: %w", desc.Label, translate(err))
	}

	logging.Logger().Debug("wgpu: pipeline created",
		"label", desc.Label,
		"spirv_words", len(spirv))
	return p, nil
}
