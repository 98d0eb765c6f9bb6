package descriptor

import (
	"math"
	"strings"
	"testing"

	"github.com/gogpu/gpuqueue/backend"
	"github.com/gogpu/gpuqueue/backend/sim"
	"github.com/gogpu/gpuqueue/queue"
)

type completedUpTo struct{ t queue.Ticket }

func (c *completedUpTo) IsComplete(t queue.Ticket) bool { return t <= c.t }

type table struct {
	bp    backend.BindPoint
	slot  uint32
	start backend.GPUDescriptorHandle
}

// recorder is a Binder that remembers what it was told.
type recorder struct {
	heaps  map[backend.HeapKind]backend.DescriptorHeap
	tables []table
}

func (r *recorder) SetDescriptorHeap(kind backend.HeapKind, heap backend.DescriptorHeap) {
	if r.heaps == nil {
		r.heaps = make(map[backend.HeapKind]backend.DescriptorHeap)
	}
	r.heaps[kind] = heap
}

func (r *recorder) SetDescriptorTable(bp backend.BindPoint, slot uint32, start backend.GPUDescriptorHandle) {
	r.tables = append(r.tables, table{bp, slot, start})
}

func newCache(t *testing.T, capacity uint32) (*StagingCache, *HeapPool, *completedUpTo) {
	t.Helper()
	d := sim.New(sim.Config{Mode: sim.ModeManual})
	tr := &completedUpTo{}
	pool := NewHeapPool(d, backend.HeapView, capacity, tr)
	t.Cleanup(func() {
		pool.Destroy()
		d.Destroy()
	})
	return NewStagingCache(pool), pool, tr
}

func TestNewLayout(t *testing.T) {
	l := NewLayout(
		Constants(4),
		Table(backend.HeapView, 8),
		Inline(),
		Table(backend.HeapSampler, 2),
		Table(backend.HeapView, 3),
	)
	if got := l.TableMask(backend.HeapView); got != 1<<1|1<<4 {
		t.Errorf("view mask = %b", got)
	}
	if got := l.TableMask(backend.HeapSampler); got != 1<<3 {
		t.Errorf("sampler mask = %b", got)
	}
	if NewLayout().ID() == l.ID() {
		t.Error("layouts share an ID")
	}
}

func TestNewLayoutLimits(t *testing.T) {
	tests := []struct {
		name   string
		params []Param
	}{
		{"too many params", make([]Param, MaxParams+1)},
		{"too many descriptors", []Param{Table(backend.HeapView, 200), Table(backend.HeapView, 57)}},
		{"empty table", []Param{Table(backend.HeapView, 0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("NewLayout did not panic")
				}
			}()
			NewLayout(tt.params...)
		})
	}
}

func TestCommitIdempotent(t *testing.T) {
	c, _, _ := newCache(t, 64)
	c.ParseLayout(backend.BindGraphics, NewLayout(Table(backend.HeapView, 4), Table(backend.HeapView, 4)))
	c.StageHandles(backend.BindGraphics, 0, 0, 10, 11)
	c.StageHandles(backend.BindGraphics, 1, 2, 20)

	var b recorder
	if err := c.Commit(backend.BindGraphics, &b); err != nil {
		t.Fatal(err)
	}
	first := c.Stats()
	if first.Copies != 2 || first.Descriptors != 3 {
		t.Fatalf("first commit stats = %+v", first)
	}
	heap := c.CurrentHeap().(*sim.DescriptorHeap)
	copies := heap.Copies()

	if err := c.Commit(backend.BindGraphics, &b); err != nil {
		t.Fatal(err)
	}
	if got := c.Stats(); got.Copies != first.Copies || got.Commits != first.Commits {
		t.Errorf("second commit did work: %+v", got)
	}
	if heap.Copies() != copies {
		t.Errorf("heap received %d extra copies", heap.Copies()-copies)
	}
	if len(b.tables) != 2 {
		t.Errorf("bound %d tables, want 2", len(b.tables))
	}
}

func TestCommitLayout(t *testing.T) {
	c, _, _ := newCache(t, 64)
	c.ParseLayout(backend.BindCompute, NewLayout(Table(backend.HeapView, 4), Constants(2), Table(backend.HeapView, 4)))
	c.StageHandles(backend.BindCompute, 0, 0, 1)
	c.StageHandles(backend.BindCompute, 0, 3, 4)
	c.StageHandles(backend.BindCompute, 2, 1, 7, 8)

	var b recorder
	if err := c.Commit(backend.BindCompute, &b); err != nil {
		t.Fatal(err)
	}
	heap := c.CurrentHeap().(*sim.DescriptorHeap)
	if b.heaps[backend.HeapView] != c.CurrentHeap() {
		t.Error("heap not bound")
	}

	// Table 0 occupies [0,4) with a hole at 1..2; table 2 follows at 4.
	want := map[uint32]backend.DescriptorHandle{0: 1, 3: 4, 5: 7, 6: 8}
	for i, h := range want {
		if got := heap.Slot(i); got != h {
			t.Errorf("heap[%d] = %d, want %d", i, got, h)
		}
	}
	if s := c.Stats(); s.Copies != 3 {
		t.Errorf("Copies = %d, want 3 (one per contiguous run)", s.Copies)
	}

	incr := backend.GPUDescriptorHandle(heap.IncrementSize())
	if len(b.tables) != 2 || b.tables[0].start != heap.GPUStart() || b.tables[1].start != heap.GPUStart()+4*incr {
		t.Errorf("tables = %+v", b.tables)
	}
	for _, tb := range b.tables {
		if tb.bp != backend.BindCompute {
			t.Errorf("table bound on %s", tb.bp)
		}
	}
}

func TestStageInvalidSlotPanics(t *testing.T) {
	c, _, _ := newCache(t, 64)
	c.ParseLayout(backend.BindGraphics, NewLayout(Constants(2), Table(backend.HeapView, 2)))

	tests := []struct {
		name         string
		slot, offset uint32
		n            int
	}{
		{"constants slot", 0, 0, 1},
		{"past table end", 1, 1, 2},
		{"missing slot", 5, 0, 1},
		{"offset wraps", 1, math.MaxUint32, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				r := recover()
				if r == nil {
					t.Fatal("StageHandles did not panic")
				}
				if msg, _ := r.(string); !strings.HasPrefix(msg, "descriptor: ") {
					t.Errorf("panic = %v, want descriptor message", r)
				}
			}()
			c.StageHandles(backend.BindGraphics, tt.slot, tt.offset, make([]backend.DescriptorHandle, tt.n)...)
		})
	}
}

func TestHeapRolloverRebindsAll(t *testing.T) {
	c, pool, _ := newCache(t, 9)
	l := NewLayout(Table(backend.HeapView, 4))
	c.ParseLayout(backend.BindGraphics, l)
	c.ParseLayout(backend.BindCompute, l)

	// Two graphics commits fill 6 of 9 slots.
	var b recorder
	for i := 0; i < 2; i++ {
		c.StageHandles(backend.BindGraphics, 0, 0, 1, 2, 3)
		if err := c.Commit(backend.BindGraphics, &b); err != nil {
			t.Fatal(err)
		}
	}
	first := c.CurrentHeap()

	c.StageHandles(backend.BindCompute, 0, 0, 9, 9, 9, 9)
	if err := c.Commit(backend.BindCompute, &b); err != nil {
		t.Fatal(err)
	}
	if c.CurrentHeap() == first {
		t.Fatal("commit past heap capacity did not switch heaps")
	}
	if !c.Stale(backend.BindGraphics) {
		t.Error("graphics tables not marked stale after heap switch")
	}
	if s := c.Stats(); s.HeapsRetired != 1 {
		t.Errorf("HeapsRetired = %d, want 1", s.HeapsRetired)
	}
	if err := c.Commit(backend.BindGraphics, &b); err != nil {
		t.Fatal(err)
	}
	if got := c.CurrentHeap().(*sim.DescriptorHeap).Slot(4); got != 1 {
		t.Errorf("graphics table not recopied into new heap: slot 4 = %d", got)
	}
	if pool.Stats().Created != 2 {
		t.Errorf("heaps created = %d, want 2", pool.Stats().Created)
	}
}

func TestHeapsRecycledAfterCompletion(t *testing.T) {
	c, pool, tr := newCache(t, 16)
	l := NewLayout(Table(backend.HeapView, 2))
	var b recorder

	commit := func() backend.DescriptorHeap {
		c.ParseLayout(backend.BindGraphics, l)
		c.StageHandles(backend.BindGraphics, 0, 0, 5)
		if err := c.Commit(backend.BindGraphics, &b); err != nil {
			t.Fatal(err)
		}
		return c.CurrentHeap()
	}

	h1 := commit()
	c.CleanupUsedHeaps(1)
	if c.Stale(backend.BindGraphics) || c.CurrentHeap() != nil {
		t.Error("cleanup left state behind")
	}

	h2 := commit()
	if h2 == h1 {
		t.Fatal("heap reused before its ticket completed")
	}
	c.CleanupUsedHeaps(2)

	tr.t = 2
	if h3 := commit(); h3 != h1 {
		t.Error("oldest heap not reused after completion")
	}
	if s := pool.Stats(); s.Created != 2 {
		t.Errorf("Stats() = %+v", s)
	}
}
