// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package arena

import (
	"fmt"
	"sync/atomic"

	"braces.dev/errtrace"

	"github.com/gogpu/gpuqueue/backend"
	"github.com/gogpu/gpuqueue/internal/logging"
	"github.com/gogpu/gpuqueue/internal/recycle"
	"github.com/gogpu/gpuqueue/queue"
)

// Default page sizes.
const (
	DefaultDevicePageSize = 64 << 10
	DefaultHostPageSize   = 2 << 20
)

// Kind selects the memory an arena draws from.
type Kind uint8

// Arena kinds.
const (
	// DeviceExclusive pages live in device memory and allow shader writes.
	DeviceExclusive Kind = iota
	// HostVisible pages live in upload memory and stay mapped for their
	// whole lifetime.
	HostVisible
)

// String returns the kind name.
func (k Kind) String() string {
	if k == HostVisible {
		return "host-visible"
	}
	return "device-exclusive"
}

// DefaultPageSize returns the default page size for k.
func (k Kind) DefaultPageSize() uint64 {
	if k == HostVisible {
		return DefaultHostPageSize
	}
	return DefaultDevicePageSize
}

// Page is one linear buffer that allocators carve sub-ranges from.
type Page struct {
	buf     backend.Buffer
	size    uint64
	data    []byte
	state   backend.ResourceState
	handle  recycle.Handle
	pooled  bool
	address uint64
}

// Buffer returns the backing buffer.
func (p *Page) Buffer() backend.Buffer { return p.buf }

// Size returns the page capacity in bytes.
func (p *Page) Size() uint64 { return p.size }

// Address returns the device address of byte 0.
func (p *Page) Address() uint64 { return p.address }

// State returns the access state the page is created in and kept in:
// GenericRead for host-visible pages, UnorderedAccess for device pages.
func (p *Page) State() backend.ResourceState { return p.state }

// Pooled reports whether the page is recycled through RequestPage, as
// opposed to a one-off page sized for a single allocation.
func (p *Page) Pooled() bool { return p.pooled }

// Stats describes a page manager.
type Stats struct {
	Kind     Kind
	PageSize uint64
	Pages    recycle.Stats

	// LargeCreated counts one-off pages ever created.
	LargeCreated int64
	// LargePending counts one-off pages waiting for deletion.
	LargePending int
}

// PageManager recycles fixed-size pages of one kind. Pages are reused once
// the ticket they were retired with completes. One-off pages for oversized
// requests are never reused: they are unmapped on retirement and destroyed
// once their ticket completes.
//
// PageManager is safe for concurrent use.
type PageManager struct {
	dev      backend.Device
	kind     Kind
	pageSize uint64
	tracker  queue.Tracker

	pages        *recycle.Pool[*Page]
	large        recycle.DeletionQueue[*Page]
	largeCreated atomic.Int64
}

// NewPageManager creates a page manager. A pageSize of 0 selects the kind's
// default.
func NewPageManager(dev backend.Device, kind Kind, pageSize uint64, tracker queue.Tracker) *PageManager {
	if pageSize == 0 {
		pageSize = kind.DefaultPageSize()
	}
	m := &PageManager{
		dev:      dev,
		kind:     kind,
		pageSize: pageSize,
		tracker:  tracker,
	}
	m.pages = recycle.New(func() (*Page, error) {
		p, err := m.CreateNewPage(0)
		if err != nil {
			return nil, err
		}
		p.pooled = true
		logging.Logger().Debug("arena: new page", "kind", kind.String(), "size", pageSize)
		return p, nil
	}, nil)
	return m
}

// Kind returns the page kind.
func (m *PageManager) Kind() Kind { return m.kind }

// PageSize returns the size of pooled pages.
func (m *PageManager) PageSize() uint64 { return m.pageSize }

func (m *PageManager) isComplete(t uint64) bool {
	return m.tracker.IsComplete(queue.Ticket(t))
}

// RequestPage returns the oldest reclaimable page or a new one.
func (m *PageManager) RequestPage() (*Page, error) {
	h, p, err := m.pages.Request(m.isComplete)
	if err != nil {
		return nil, err
	}
	p.handle = h
	return p, nil
}

// CreateNewPage creates a page that is not part of the pool. A size of 0
// selects the manager's page size.
func (m *PageManager) CreateNewPage(size uint64) (*Page, error) {
	if size == 0 {
		size = m.pageSize
	}
	desc := &backend.BufferDesc{
		Label:  "arena " + m.kind.String() + " page",
		Size:   size,
		Memory: backend.MemoryUpload,
	}
	state := backend.StateGenericRead
	if m.kind == DeviceExclusive {
		desc.Memory = backend.MemoryDevice
		desc.UnorderedAccess = true
		state = backend.StateUnorderedAccess
	}

	buf, err := m.dev.CreateBuffer(desc)
	if err != nil {
		return nil, errtrace.Wrap(fmt.Errorf("arena: create %d byte %s page: %w", size, m.kind, err))
	}
	p := &Page{
		buf:     buf,
		size:    size,
		state:   state,
		address: buf.Address(),
	}
	if m.kind == HostVisible {
		data, err := buf.Map()
		if err != nil {
			buf.Destroy()
			return nil, errtrace.Wrap(fmt.Errorf("arena: map %s page: %w", m.kind, err))
		}
		p.data = data
	}
	return p, nil
}

// DiscardPages retires pooled pages with ticket t.
func (m *PageManager) DiscardPages(t queue.Ticket, pages []*Page) {
	for _, p := range pages {
		m.pages.Retire(uint64(t), p.handle)
	}
}

// FreeLargePages unmaps one-off pages and queues them for deletion once t
// completes. Pages queued by earlier calls whose tickets completed are
// destroyed now.
func (m *PageManager) FreeLargePages(t queue.Ticket, pages []*Page) {
	for _, p := range pages {
		if p.pooled {
			panic("arena: pooled page passed to FreeLargePages")
		}
		if p.data != nil {
			p.buf.Unmap()
			p.data = nil
		}
		m.large.Push(uint64(t), p)
	}
	m.large.Collect(m.isComplete, destroyPage)
}

// Destroy destroys every page regardless of tickets. The device must be idle.
func (m *PageManager) Destroy() {
	m.pages.Destroy(destroyPage)
	m.large.Flush(destroyPage)
}

// Stats returns a snapshot of the manager.
func (m *PageManager) Stats() Stats {
	return Stats{
		Kind:         m.kind,
		PageSize:     m.pageSize,
		Pages:        m.pages.Stats(),
		LargeCreated: m.largeCreated.Load(),
		LargePending: m.large.Len(),
	}
}

func destroyPage(p *Page) {
	if p.data != nil {
		p.buf.Unmap()
		p.data = nil
	}
	p.buf.Destroy()
}
