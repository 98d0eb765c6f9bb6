package recycle

import (
	"errors"
	"sync"
	"testing"
)

type object struct {
	id     int
	resets int
}

func newObjectPool() (*Pool[*object], *int) {
	created := 0
	p := New(func() (*object, error) {
		created++
		return &object{id: created}, nil
	}, func(o *object) error {
		o.resets++
		return nil
	})
	return p, &created
}

func upTo(completed uint64) func(uint64) bool {
	return func(t uint64) bool { return t <= completed }
}

func TestPoolReuseAfterCompletion(t *testing.T) {
	p, created := newObjectPool()

	h, o, err := p.Request(upTo(0))
	if err != nil {
		t.Fatal(err)
	}
	p.Retire(1, h)

	h2, o2, _ := p.Request(upTo(0))
	if o2 == o {
		t.Fatal("object retired with ticket 1 reused while only 0 completed")
	}
	if *created != 2 {
		t.Errorf("created = %d, want 2", *created)
	}
	p.Retire(2, h2)

	_, o3, _ := p.Request(upTo(1))
	if o3 != o {
		t.Errorf("Request after completion returned object %d, want %d", o3.id, o.id)
	}
	if o3.resets != 1 {
		t.Errorf("resets = %d, want 1", o3.resets)
	}
}

func TestPoolDistinctHandles(t *testing.T) {
	const n = 8
	p, _ := newObjectPool()

	handles := make([]Handle, n)
	for i := range handles {
		h, _, err := p.Request(upTo(0))
		if err != nil {
			t.Fatal(err)
		}
		handles[i] = h
	}
	for _, h := range handles {
		p.Retire(5, h)
	}

	seen := make(map[Handle]bool)
	for i := 0; i < n; i++ {
		h, _, err := p.Request(upTo(5))
		if err != nil {
			t.Fatal(err)
		}
		if seen[h] {
			t.Fatalf("handle %d issued twice", h)
		}
		seen[h] = true
	}
	if p.Len() != n {
		t.Errorf("Len() = %d, want %d (no new objects)", p.Len(), n)
	}
	if s := p.Stats(); s.InUse != n || s.Available != 0 || s.Retired != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestPoolFIFO(t *testing.T) {
	p, _ := newObjectPool()
	a, _, _ := p.Request(upTo(0))
	b, _, _ := p.Request(upTo(0))
	p.Retire(1, b)
	p.Retire(2, a)

	h, _, _ := p.Request(upTo(2))
	if h != b {
		t.Errorf("Request returned handle %d, want oldest retired %d", h, b)
	}
}

func TestPoolRetireNotInUsePanics(t *testing.T) {
	p, _ := newObjectPool()
	h, _, _ := p.Request(upTo(0))
	p.Retire(1, h)

	defer func() {
		if recover() == nil {
			t.Error("double Retire did not panic")
		}
	}()
	p.Retire(2, h)
}

func TestPoolCreateError(t *testing.T) {
	boom := errors.New("boom")
	p := New(func() (int, error) { return 0, boom }, nil)
	if _, _, err := p.Request(upTo(0)); !errors.Is(err, boom) {
		t.Errorf("Request error = %v, want boom", err)
	}
	if p.Len() != 0 {
		t.Errorf("Len() = %d after failed create", p.Len())
	}
}

func TestPoolConcurrent(t *testing.T) {
	p, _ := newObjectPool()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h, _, err := p.Request(func(uint64) bool { return true })
				if err != nil {
					t.Error(err)
					return
				}
				p.Retire(uint64(i), h)
			}
		}(g)
	}
	wg.Wait()
	if s := p.Stats(); s.InUse != 0 {
		t.Errorf("Stats().InUse = %d, want 0", s.InUse)
	}
}

func TestDeletionQueue(t *testing.T) {
	var q DeletionQueue[int]
	q.Push(1, 10)
	q.Push(2, 20)
	q.Push(3, 30)

	var destroyed []int
	n := q.Collect(upTo(2), func(v int) { destroyed = append(destroyed, v) })
	if n != 2 || len(destroyed) != 2 || destroyed[0] != 10 || destroyed[1] != 20 {
		t.Errorf("Collect destroyed %v", destroyed)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
	q.Flush(func(v int) { destroyed = append(destroyed, v) })
	if q.Len() != 0 || destroyed[2] != 30 {
		t.Errorf("Flush left %d, destroyed %v", q.Len(), destroyed)
	}
}
