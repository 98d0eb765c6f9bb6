// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package descriptor

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gpuqueue/backend"
)

// Limits of a binding layout.
const (
	// MaxParams is the maximum number of parameters in a Layout.
	MaxParams = 16
	// MaxCachedDescriptors is the maximum number of table descriptors of one
	// heap kind in a Layout.
	MaxCachedDescriptors = 256
)

// ParamKind is the shape of a layout parameter.
type ParamKind uint8

// Parameter kinds.
const (
	// ParamTable is a range of descriptors in a shader-visible heap.
	ParamTable ParamKind = iota
	// ParamInline is a buffer address bound directly to the slot.
	ParamInline
	// ParamConstants are 32-bit values stored in the layout itself.
	ParamConstants
)

// Param is one slot of a Layout.
type Param struct {
	Kind ParamKind

	// Heap is the heap kind a table draws from.
	Heap backend.HeapKind

	// Count is the number of descriptors of a table, or the number of
	// 32-bit values of a constants slot.
	Count uint32
}

// Table returns a descriptor table parameter.
func Table(heap backend.HeapKind, count uint32) Param {
	return Param{Kind: ParamTable, Heap: heap, Count: count}
}

// Inline returns an inline buffer parameter.
func Inline() Param {
	return Param{Kind: ParamInline}
}

// Constants returns an inline constants parameter of n values.
func Constants(n uint32) Param {
	return Param{Kind: ParamConstants, Count: n}
}

var nextLayoutID atomic.Uint64

// Layout is an immutable binding table layout.
type Layout struct {
	id     uint64
	params []Param
	tables [backend.NumHeapKinds]uint32 // bit i set if params[i] is a table of that kind
}

// NewLayout creates a layout. It panics if the layout exceeds MaxParams
// parameters or MaxCachedDescriptors table descriptors per heap kind.
func NewLayout(params ...Param) *Layout {
	if len(params) > MaxParams {
		panic(fmt.Sprintf("descriptor: layout has %d parameters, limit is %d", len(params), MaxParams))
	}
	l := &Layout{
		id:     nextLayoutID.Add(1),
		params: append([]Param(nil), params...),
	}
	var totals [backend.NumHeapKinds]uint32
	for i, p := range params {
		if p.Kind != ParamTable {
			continue
		}
		if p.Heap >= backend.NumHeapKinds || p.Count == 0 {
			panic(fmt.Sprintf("descriptor: invalid table at slot %d", i))
		}
		l.tables[p.Heap] |= 1 << i
		totals[p.Heap] += p.Count
		if totals[p.Heap] > MaxCachedDescriptors {
			panic(fmt.Sprintf("descriptor: layout needs more than %d %s descriptors", MaxCachedDescriptors, p.Heap))
		}
	}
	return l
}

// ID returns the identifier the layout is bound by.
func (l *Layout) ID() uint64 { return l.id }

// NumParams returns the number of parameters.
func (l *Layout) NumParams() int { return len(l.params) }

// Param returns parameter i.
func (l *Layout) Param(i uint32) Param {
	if int(i) >= len(l.params) {
		panic(fmt.Sprintf("descriptor: slot %d out of range for layout with %d parameters", i, len(l.params)))
	}
	return l.params[i]
}

// TableMask returns the bit set of slots that are tables of the given heap kind.
func (l *Layout) TableMask(heap backend.HeapKind) uint32 { return l.tables[heap] }
