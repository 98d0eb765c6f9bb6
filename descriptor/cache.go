package descriptor

import (
	"fmt"
	"math/bits"

	"github.com/gogpu/gpuqueue/backend"
	"github.com/gogpu/gpuqueue/queue"
)

// Binder receives the bindings a StagingCache produces on commit.
type Binder interface {
	// SetDescriptorHeap makes heap the bound heap of its kind.
	SetDescriptorHeap(kind backend.HeapKind, heap backend.DescriptorHeap)

	// SetDescriptorTable points a table slot at a heap range.
	SetDescriptorTable(bp backend.BindPoint, slot uint32, start backend.GPUDescriptorHandle)
}

// tableCache shadows one descriptor table of the active layout.
type tableCache struct {
	assigned []uint64 // bit i set once entry i has been staged
	start    uint32   // index of entry 0 in handleCache.handles
	size     uint32
}

// stagedSize is the number of heap slots the table needs: up to and
// including its highest assigned entry.
func (t *tableCache) stagedSize() uint32 {
	for w := len(t.assigned) - 1; w >= 0; w-- {
		if t.assigned[w] != 0 {
			return uint32(w*64 + bits.Len64(t.assigned[w]))
		}
	}
	return 0
}

func (t *tableCache) isAssigned(i uint32) bool {
	return t.assigned[i/64]&(1<<(i%64)) != 0
}

func (t *tableCache) anyAssigned() bool {
	for _, w := range t.assigned {
		if w != 0 {
			return true
		}
	}
	return false
}

// handleCache holds the staged descriptors of one bind point for one heap kind.
type handleCache struct {
	tables  [MaxParams]tableCache
	handles [MaxCachedDescriptors]backend.DescriptorHandle

	tableMask uint32 // slots that are tables of this heap kind
	stale     uint32 // tables staged since their last commit
	cached    uint32 // descriptors reserved by the layout
}

// clearCache forgets the layout.
func (c *handleCache) clearCache() {
	c.tableMask = 0
	c.stale = 0
	c.cached = 0
}

func (c *handleCache) parseLayout(kind backend.HeapKind, l *Layout) {
	c.clearCache()
	if l == nil {
		return
	}
	c.tableMask = l.TableMask(kind)
	var offset uint32
	for m := c.tableMask; m != 0; m &= m - 1 {
		slot := bits.TrailingZeros32(m)
		size := l.params[slot].Count
		t := &c.tables[slot]
		t.start = offset
		t.size = size
		words := int(size+63) / 64
		if cap(t.assigned) >= words {
			t.assigned = t.assigned[:words]
			clear(t.assigned)
		} else {
			t.assigned = make([]uint64, words)
		}
		offset += size
	}
	c.cached = offset
}

func (c *handleCache) stage(slot, offset uint32, handles []backend.DescriptorHandle) {
	if slot >= MaxParams || c.tableMask&(1<<slot) == 0 {
		panic(fmt.Sprintf("descriptor: slot %d is not a descriptor table", slot))
	}
	t := &c.tables[slot]
	n := uint32(len(handles))
	if uint64(offset)+uint64(n) > uint64(t.size) {
		panic(fmt.Sprintf("descriptor: staging %d handles at offset %d overflows table of %d", n, offset, t.size))
	}
	copy(c.handles[t.start+offset:], handles)
	for i := offset; i < offset+n; i++ {
		t.assigned[i/64] |= 1 << (i % 64)
	}
	c.stale |= 1 << slot
}

// stagedSize is the heap space the stale tables need.
func (c *handleCache) stagedSize() uint32 {
	var n uint32
	for m := c.stale; m != 0; m &= m - 1 {
		n += c.tables[bits.TrailingZeros32(m)].stagedSize()
	}
	return n
}

// unbindAllValid marks every table with staged entries stale so that it is
// copied into the next heap.
func (c *handleCache) unbindAllValid() {
	c.stale = 0
	for m := c.tableMask; m != 0; m &= m - 1 {
		slot := bits.TrailingZeros32(m)
		if c.tables[slot].anyAssigned() {
			c.stale |= 1 << slot
		}
	}
}

// copyAndBindStale copies every stale table into heap starting at index dst
// and binds it. Runs of assigned entries are copied with one call each.
func (c *handleCache) copyAndBindStale(bp backend.BindPoint, heap backend.DescriptorHeap, dst uint32, binder Binder, st *Stats) {
	incr := backend.GPUDescriptorHandle(heap.IncrementSize())
	for m := c.stale; m != 0; m &= m - 1 {
		slot := uint32(bits.TrailingZeros32(m))
		t := &c.tables[slot]
		size := t.stagedSize()

		binder.SetDescriptorTable(bp, slot, heap.GPUStart()+backend.GPUDescriptorHandle(dst)*incr)

		for i := uint32(0); i < size; {
			if !t.isAssigned(i) {
				i++
				continue
			}
			j := i + 1
			for j < size && t.isAssigned(j) {
				j++
			}
			heap.CopyDescriptors(dst+i, c.handles[t.start+i:t.start+j])
			st.Copies++
			st.Descriptors += int64(j - i)
			i = j
		}
		dst += size
	}
	c.stale = 0
}

// Stats counts the work a StagingCache did.
type Stats struct {
	Commits      int64
	Copies       int64
	Descriptors  int64
	HeapsRetired int64
}

// StagingCache stages descriptor handles for one heap kind and copies the
// tables that changed into a pooled shader-visible heap before each draw or
// dispatch. It belongs to one context and is not safe for concurrent use.
type StagingCache struct {
	pool    *HeapPool
	kind    backend.HeapKind
	cur     *Heap
	offset  uint32
	retired []*Heap

	graphics handleCache
	compute  handleCache

	stats Stats
}

// NewStagingCache creates a cache drawing heaps from pool.
func NewStagingCache(pool *HeapPool) *StagingCache {
	return &StagingCache{pool: pool, kind: pool.kind}
}

// Kind returns the heap kind.
func (s *StagingCache) Kind() backend.HeapKind { return s.kind }

func (s *StagingCache) cache(bp backend.BindPoint) *handleCache {
	if bp == backend.BindCompute {
		return &s.compute
	}
	return &s.graphics
}

// ParseLayout rebinds the bind point to layout and forgets staged handles.
// A nil layout clears the bind point.
func (s *StagingCache) ParseLayout(bp backend.BindPoint, l *Layout) {
	s.cache(bp).parseLayout(s.kind, l)
}

// StageHandles records handles for table slot starting at offset. Nothing
// reaches the device until Commit.
func (s *StagingCache) StageHandles(bp backend.BindPoint, slot, offset uint32, handles ...backend.DescriptorHandle) {
	s.cache(bp).stage(slot, offset, handles)
}

// Stale reports whether the bind point has tables waiting for Commit.
func (s *StagingCache) Stale(bp backend.BindPoint) bool {
	return s.cache(bp).stale != 0
}

func (s *StagingCache) hasSpace(n uint32) bool {
	return s.cur != nil && s.offset+n <= s.pool.capacity
}

func (s *StagingCache) retireCurrentHeap() {
	if s.offset == 0 {
		return
	}
	s.retired = append(s.retired, s.cur)
	s.cur = nil
	s.offset = 0
	s.stats.HeapsRetired++
}

// Commit copies the stale tables of bp into the current heap and binds them.
// When the heap is full it is retired and every table with staged handles,
// on both bind points, is copied again into a fresh heap.
func (s *StagingCache) Commit(bp backend.BindPoint, binder Binder) error {
	c := s.cache(bp)
	if c.stale == 0 {
		return nil
	}

	need := c.stagedSize()
	if !s.hasSpace(need) {
		s.retireCurrentHeap()
		s.graphics.unbindAllValid()
		s.compute.unbindAllValid()
		need = c.stagedSize()
	}
	if need > s.pool.capacity {
		panic(fmt.Sprintf("descriptor: %d descriptors do not fit a heap of %d", need, s.pool.capacity))
	}
	if s.cur == nil {
		h, err := s.pool.RequestHeap()
		if err != nil {
			return err
		}
		s.cur = h
	}
	binder.SetDescriptorHeap(s.kind, s.cur.DescriptorHeap)

	dst := s.offset
	s.offset += need
	c.copyAndBindStale(bp, s.cur.DescriptorHeap, dst, binder, &s.stats)
	s.stats.Commits++
	return nil
}

// CurrentHeap returns the heap commits currently write into, or nil.
func (s *StagingCache) CurrentHeap() backend.DescriptorHeap {
	if s.cur == nil {
		return nil
	}
	return s.cur.DescriptorHeap
}

// CleanupUsedHeaps retires every heap the cache used with ticket t and
// forgets both layouts.
func (s *StagingCache) CleanupUsedHeaps(t queue.Ticket) {
	s.retireCurrentHeap()
	if len(s.retired) > 0 {
		s.pool.DiscardHeaps(t, s.retired)
		clear(s.retired)
		s.retired = s.retired[:0]
	}
	s.graphics.clearCache()
	s.compute.clearCache()
}

// Stats returns the cache's counters.
func (s *StagingCache) Stats() Stats { return s.stats }
