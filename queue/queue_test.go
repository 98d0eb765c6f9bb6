package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gpuqueue/backend"
	"github.com/gogpu/gpuqueue/backend/sim"
)

func newSim(t *testing.T) *sim.Device {
	t.Helper()
	d := sim.New(sim.Config{Mode: sim.ModeManual})
	t.Cleanup(d.Destroy)
	return d
}

func newQueue(t *testing.T, d *sim.Device, kind backend.QueueKind) *Queue {
	t.Helper()
	q, err := New(d, kind)
	if err != nil {
		t.Fatalf("New(%s): %v", kind, err)
	}
	return q
}

// record opens a list on a pooled allocator and records one dispatch.
func record(t *testing.T, d *sim.Device, q *Queue) (backend.CommandAllocator, backend.CommandList) {
	t.Helper()
	a, err := q.RequestAllocator()
	if err != nil {
		t.Fatalf("RequestAllocator: %v", err)
	}
	l, err := d.CreateCommandList(q.Kind(), a)
	if err != nil {
		t.Fatalf("CreateCommandList: %v", err)
	}
	l.Dispatch(1, 1, 1)
	return a, l
}

func TestTicketEncoding(t *testing.T) {
	tests := []struct {
		kind  backend.QueueKind
		value uint64
	}{
		{backend.QueueGraphics, 1},
		{backend.QueueCompute, 42},
		{backend.QueueCopy, 1<<56 - 1},
	}
	for _, tt := range tests {
		tk := MakeTicket(tt.kind, tt.value)
		if tk.Queue() != tt.kind || tk.Value() != tt.value {
			t.Errorf("MakeTicket(%s, %d) = %s", tt.kind, tt.value, tk)
		}
	}
	if MakeTicket(backend.QueueGraphics, 1) != 1 {
		t.Error("first graphics ticket is not 1")
	}
}

func TestSubmitMonotonic(t *testing.T) {
	d := newSim(t)
	for _, kind := range []backend.QueueKind{backend.QueueGraphics, backend.QueueCompute, backend.QueueCopy} {
		t.Run(kind.String(), func(t *testing.T) {
			q := newQueue(t, d, kind)
			var prev Ticket
			for i := 0; i < 5; i++ {
				_, l := record(t, d, q)
				tk, err := q.Submit(l)
				if err != nil {
					t.Fatal(err)
				}
				if tk.Queue() != kind {
					t.Errorf("ticket %s issued by %s queue", tk, kind)
				}
				if i > 0 && tk <= prev {
					t.Errorf("ticket %s not greater than %s", tk, prev)
				}
				prev = tk
			}
		})
	}
}

func TestIsCompleteMonotone(t *testing.T) {
	d := newSim(t)
	q := newQueue(t, d, backend.QueueGraphics)
	hw := d.SimQueue(backend.QueueGraphics)

	_, l := record(t, d, q)
	tk, err := q.Submit(l)
	if err != nil {
		t.Fatal(err)
	}
	if tk != 1 {
		t.Fatalf("first ticket = %d, want 1", tk)
	}
	if q.IsComplete(tk) {
		t.Fatal("IsComplete before the device signaled")
	}
	hw.CompleteAll()
	for i := 0; i < 3; i++ {
		if !q.IsComplete(tk) {
			t.Fatal("IsComplete reverted to false")
		}
	}
	if q.LastCompleted() != tk {
		t.Errorf("LastCompleted() = %s, want %s", q.LastCompleted(), tk)
	}
}

func TestAllocatorNotReclaimedBeforeCompletion(t *testing.T) {
	d := newSim(t)
	q := newQueue(t, d, backend.QueueGraphics)
	hw := d.SimQueue(backend.QueueGraphics)

	a1, l := record(t, d, q)
	tk, err := q.Submit(l)
	if err != nil {
		t.Fatal(err)
	}
	q.DiscardAllocator(tk, a1)

	pool := q.Allocators()
	a2, err := pool.RequestAllocator(0)
	if err != nil {
		t.Fatal(err)
	}
	if a2 == a1 {
		t.Fatal("allocator of ticket 1 reclaimed with completed ticket 0")
	}
	pool.DiscardAllocator(tk, a2)

	hw.CompleteAll()
	if !q.IsComplete(tk) {
		t.Fatal("ticket 1 not complete after CompleteAll")
	}
	a3, err := pool.RequestAllocator(q.LastCompleted())
	if err != nil {
		t.Fatal(err)
	}
	if a3 != a1 {
		t.Error("allocator of ticket 1 not reclaimed after completion")
	}
	if v := d.Violations(); len(v) != 0 {
		t.Errorf("violations: %v", v)
	}
	if pool.Size() != 2 {
		t.Errorf("pool size = %d, want 2", pool.Size())
	}
}

func TestDiscardUnknownAllocatorPanics(t *testing.T) {
	d := newSim(t)
	q := newQueue(t, d, backend.QueueGraphics)
	a, _ := d.CreateCommandAllocator(backend.QueueGraphics)
	defer func() {
		if recover() == nil {
			t.Error("DiscardAllocator of a foreign allocator did not panic")
		}
	}()
	q.DiscardAllocator(1, a)
}

func TestWaitFor(t *testing.T) {
	d := newSim(t)
	q := newQueue(t, d, backend.QueueCompute)
	hw := d.SimQueue(backend.QueueCompute)

	_, l := record(t, d, q)
	tk, err := q.Submit(l)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- q.WaitFor(tk)
		}()
	}
	time.Sleep(5 * time.Millisecond)
	hw.CompleteAll()
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("WaitFor: %v", err)
		}
	}
}

func TestWaitForContextTimeout(t *testing.T) {
	d := newSim(t)
	q := newQueue(t, d, backend.QueueGraphics)
	_, l := record(t, d, q)
	tk, err := q.Submit(l)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := q.WaitForContext(ctx, tk); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForContext error = %v, want DeadlineExceeded", err)
	}
}

func TestBoundedWaitBesideUnboundedWait(t *testing.T) {
	d := newSim(t)
	q := newQueue(t, d, backend.QueueGraphics)
	hw := d.SimQueue(backend.QueueGraphics)

	var tickets [3]Ticket
	for i := range tickets {
		_, l := record(t, d, q)
		tk, err := q.Submit(l)
		if err != nil {
			t.Fatal(err)
		}
		tickets[i] = tk
	}

	unbounded := make(chan error, 1)
	go func() { unbounded <- q.WaitFor(tickets[2]) }()
	time.Sleep(5 * time.Millisecond)

	// An earlier ticket that never completes: the deadline must win.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := q.WaitForContext(ctx, tickets[0]); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForContext error = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("bounded wait took %v", elapsed)
	}

	// An earlier ticket that completes returns while the other wait goes on.
	bounded := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		bounded <- q.WaitForContext(ctx, tickets[1])
	}()
	time.Sleep(5 * time.Millisecond)
	hw.Complete(uint64(tickets[1]))
	select {
	case err := <-bounded:
		if err != nil {
			t.Errorf("WaitForContext(%s) = %v", tickets[1], err)
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitForContext(%s) still blocked after completion", tickets[1])
	}
	select {
	case err := <-unbounded:
		t.Fatalf("WaitFor(%s) returned early: %v", tickets[2], err)
	default:
	}

	hw.CompleteAll()
	if err := <-unbounded; err != nil {
		t.Errorf("WaitFor(%s) = %v", tickets[2], err)
	}
}

func TestIdleQueue(t *testing.T) {
	d := sim.New(sim.Config{Latency: time.Millisecond})
	defer d.Destroy()
	q := newQueue(t, d, backend.QueueGraphics)

	for i := 0; i < 3; i++ {
		_, l := record(t, d, q)
		if _, err := q.Submit(l); err != nil {
			t.Fatal(err)
		}
	}
	if err := q.IdleQueue(); err != nil {
		t.Fatal(err)
	}
	if !q.IsComplete(q.NextTicket() - 1) {
		t.Error("IdleQueue returned with work outstanding")
	}
}

func TestSubmitFailure(t *testing.T) {
	d := newSim(t)
	q := newQueue(t, d, backend.QueueGraphics)
	_, l := record(t, d, q)

	d.InjectFault(sim.FaultSubmit)
	if _, err := q.Submit(l); !errors.Is(err, backend.ErrDeviceLost) {
		t.Fatalf("Submit error = %v, want ErrDeviceLost", err)
	}
	if q.NextTicket() != 1 {
		t.Errorf("failed submit consumed a ticket: next = %s", q.NextTicket())
	}
}

func TestManagerRouting(t *testing.T) {
	d := newSim(t)
	m, err := NewManager(d)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(m.Kinds()); got != 3 {
		t.Fatalf("Kinds() = %v", m.Kinds())
	}

	gq, cq := m.Queue(backend.QueueGraphics), m.Queue(backend.QueueCompute)
	_, gl := record(t, d, gq)
	_, cl := record(t, d, cq)
	gt, _ := gq.Submit(gl)
	ct, _ := cq.Submit(cl)

	d.SimQueue(backend.QueueCompute).CompleteAll()
	if m.IsComplete(gt) {
		t.Error("graphics ticket complete after completing compute queue")
	}
	if !m.IsComplete(ct) {
		t.Error("compute ticket not complete")
	}

	d.SimQueue(backend.QueueGraphics).CompleteAll()
	if err := m.WaitFor(gt); err != nil {
		t.Fatal(err)
	}
}

func TestManagerRequiresGraphics(t *testing.T) {
	d := newSim(t)
	if _, err := NewManager(d, backend.QueueCompute); !errors.Is(err, ErrNoQueue) {
		t.Errorf("NewManager without graphics error = %v, want ErrNoQueue", err)
	}
}

func TestManagerIdleGPU(t *testing.T) {
	d := sim.New(sim.Config{})
	defer d.Destroy()
	m, err := NewManager(d)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.IdleGPU(); err != nil {
		t.Fatal(err)
	}
	for _, k := range m.Kinds() {
		q := m.Queue(k)
		if !q.IsComplete(q.NextTicket() - 1) {
			t.Errorf("%s queue not idle", k)
		}
	}
	m.Shutdown()
}
