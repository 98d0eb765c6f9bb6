package arena

import (
	"fmt"
	"math"

	"github.com/gogpu/gpuqueue/backend"
	"github.com/gogpu/gpuqueue/internal/logging"
	"github.com/gogpu/gpuqueue/queue"
)

// DefaultAlignment is the alignment used when Allocate is given 0.
// It matches the constant buffer placement alignment.
const DefaultAlignment = 256

// DynAlloc is a sub-range of a page. It does not own anything and must not be
// used after the owning context's Finish.
type DynAlloc struct {
	Page   *Page
	Offset uint64
	Size   uint64

	// Data is the host view of the range; nil for device-exclusive pages.
	Data []byte

	// Address is the device address of the first byte.
	Address uint64
}

// Buffer returns the page's backing buffer.
func (a DynAlloc) Buffer() backend.Buffer { return a.Page.buf }

// Allocator is a bump allocator over pages from a PageManager.
// An Allocator belongs to one context and is not safe for concurrent use.
type Allocator struct {
	mgr     *PageManager
	cur     *Page
	offset  uint64
	retired []*Page
	large   []*Page
}

// NewAllocator creates an allocator drawing from mgr.
func NewAllocator(mgr *PageManager) *Allocator {
	return &Allocator{mgr: mgr}
}

// Kind returns the kind of memory the allocator hands out.
func (a *Allocator) Kind() Kind { return a.mgr.kind }

// Allocate carves size bytes aligned to align out of the current page.
// align must be a power of two; 0 selects DefaultAlignment. A request larger
// than a page gets a one-off page of its own.
func (a *Allocator) Allocate(size, align uint64) (DynAlloc, error) {
	if align == 0 {
		align = DefaultAlignment
	}
	if align&(align-1) != 0 {
		panic(fmt.Sprintf("arena: alignment %d is not a power of two", align))
	}
	mask := align - 1
	if size > math.MaxUint64-mask {
		panic(fmt.Sprintf("arena: allocation of %d bytes overflows", size))
	}
	aligned := (size + mask) &^ mask

	if aligned > a.mgr.pageSize {
		return a.allocateLarge(aligned)
	}

	a.offset = (a.offset + mask) &^ mask
	if a.cur != nil && a.offset+aligned > a.mgr.pageSize {
		a.retired = append(a.retired, a.cur)
		a.cur = nil
		logging.Logger().Debug("arena: page rollover", "kind", a.mgr.kind.String())
	}
	if a.cur == nil {
		p, err := a.mgr.RequestPage()
		if err != nil {
			return DynAlloc{}, err
		}
		a.cur = p
		a.offset = 0
	}

	d := a.carve(a.cur, a.offset, aligned)
	a.offset += aligned
	return d, nil
}

func (a *Allocator) allocateLarge(size uint64) (DynAlloc, error) {
	p, err := a.mgr.CreateNewPage(size)
	if err != nil {
		return DynAlloc{}, err
	}
	a.mgr.largeCreated.Add(1)
	a.large = append(a.large, p)
	return a.carve(p, 0, size), nil
}

func (a *Allocator) carve(p *Page, offset, size uint64) DynAlloc {
	d := DynAlloc{
		Page:    p,
		Offset:  offset,
		Size:    size,
		Address: p.address + offset,
	}
	if p.data != nil {
		d.Data = p.data[offset : offset+size : offset+size]
	}
	return d
}

// CleanupUsedPages retires every page the allocator touched since the last
// cleanup with ticket t and resets the cursor.
func (a *Allocator) CleanupUsedPages(t queue.Ticket) {
	if a.cur != nil {
		a.retired = append(a.retired, a.cur)
		a.cur = nil
		a.offset = 0
	}
	if len(a.retired) > 0 {
		a.mgr.DiscardPages(t, a.retired)
		clear(a.retired)
		a.retired = a.retired[:0]
	}
	if len(a.large) > 0 {
		a.mgr.FreeLargePages(t, a.large)
		clear(a.large)
		a.large = a.large[:0]
	}
}

// PagesInUse returns how many pages the allocator currently holds.
func (a *Allocator) PagesInUse() int {
	n := len(a.retired) + len(a.large)
	if a.cur != nil {
		n++
	}
	return n
}
