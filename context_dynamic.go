package gpuqueue

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuqueue/arena"
	"github.com/gogpu/gpuqueue/backend"
)

// dynamicAlignment is the placement alignment of vertex, index and
// structured data copied into upload memory.
const dynamicAlignment = 16

// uploadBytes copies data into fresh upload memory aligned to align.
func (c *Context) uploadBytes(data []byte, align uint64) arena.DynAlloc {
	a := c.reserveUpload(uint64(len(data)), align)
	copy(a.Data, data)
	return a
}

// SetDynamicConstantBufferView copies data into upload memory and binds it
// to the inline graphics slot. The data only has to live until the call
// returns.
func (c *Context) SetDynamicConstantBufferView(slot uint32, data []byte) {
	c.mustRecord("SetDynamicConstantBufferView")
	a := c.uploadBytes(data, arena.DefaultAlignment)
	c.setBufferView(backend.BindGraphics, slot, a.Address)
}

// SetComputeDynamicConstantBufferView is SetDynamicConstantBufferView for
// the compute bind point.
func (c *Context) SetComputeDynamicConstantBufferView(slot uint32, data []byte) {
	c.mustRecord("SetComputeDynamicConstantBufferView")
	a := c.uploadBytes(data, arena.DefaultAlignment)
	c.setBufferView(backend.BindCompute, slot, a.Address)
}

// SetDynamicSRV copies read-only shader data into upload memory and binds it
// to the inline graphics slot.
func (c *Context) SetDynamicSRV(slot uint32, data []byte) {
	c.mustRecord("SetDynamicSRV")
	a := c.uploadBytes(data, dynamicAlignment)
	c.setBufferView(backend.BindGraphics, slot, a.Address)
}

// SetComputeDynamicSRV is SetDynamicSRV for the compute bind point.
func (c *Context) SetComputeDynamicSRV(slot uint32, data []byte) {
	c.mustRecord("SetComputeDynamicSRV")
	a := c.uploadBytes(data, dynamicAlignment)
	c.setBufferView(backend.BindCompute, slot, a.Address)
}

// SetDynamicVB copies vertex data into upload memory and binds it to the
// vertex input slot. len(data) must be a multiple of stride.
func (c *Context) SetDynamicVB(slot, stride uint32, data []byte) {
	c.mustGraphics("SetDynamicVB")
	if stride == 0 || len(data)%int(stride) != 0 {
		panic(fmt.Sprintf("gpuqueue: %d vertex bytes with stride %d", len(data), stride))
	}
	a := c.uploadBytes(data, dynamicAlignment)
	c.list.SetVertexBuffer(slot, a.Address, uint64(len(data)), stride)
}

// SetDynamicIB copies 16-bit indices into upload memory and binds them as
// the index buffer.
func (c *Context) SetDynamicIB(indices []uint16) {
	c.mustGraphics("SetDynamicIB")
	size := uint64(len(indices)) * 2
	a := c.reserveUpload(size, dynamicAlignment)
	for i, v := range indices {
		binary.LittleEndian.PutUint16(a.Data[2*i:], v)
	}
	c.list.SetIndexBuffer(a.Address, size, gputypes.IndexFormatUint16)
}
