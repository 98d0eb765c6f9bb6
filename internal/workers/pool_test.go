package workers

import (
	"errors"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{4, 4},
		{1, 1},
		{0, runtime.GOMAXPROCS(0)},
		{-5, runtime.GOMAXPROCS(0)},
	}
	for _, tt := range tests {
		p := New(tt.n)
		if p.Workers() != tt.want {
			t.Errorf("New(%d).Workers() = %d, want %d", tt.n, p.Workers(), tt.want)
		}
		p.Close()
	}
}

func TestRun(t *testing.T) {
	p := New(4)
	defer p.Close()

	var counter atomic.Int64
	jobs := make([]Job, 100)
	for i := range jobs {
		jobs[i] = func(worker int) error {
			if worker < 0 || worker >= 4 {
				t.Errorf("worker index %d out of range", worker)
			}
			counter.Add(1)
			return nil
		}
	}
	if err := p.Run(jobs); err != nil {
		t.Fatal(err)
	}
	if counter.Load() != 100 {
		t.Errorf("counter = %d, want 100", counter.Load())
	}
	if err := p.Run(nil); err != nil {
		t.Errorf("Run(nil) = %v", err)
	}
}

func TestRunJoinsErrors(t *testing.T) {
	p := New(2)
	defer p.Close()

	errA, errB := errors.New("a"), errors.New("b")
	err := p.Run([]Job{
		func(int) error { return errA },
		func(int) error { return nil },
		func(int) error { return errB },
	})
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Run error = %v, want both job errors", err)
	}
}

func TestSlowJobsAreStolen(t *testing.T) {
	p := New(4)
	defer p.Close()

	var slow, fast atomic.Int64
	jobs := make([]Job, 40)
	for i := range jobs {
		if i%4 == 0 {
			// Every slow job lands on worker 0's queue.
			jobs[i] = func(int) error {
				time.Sleep(5 * time.Millisecond)
				slow.Add(1)
				return nil
			}
		} else {
			jobs[i] = func(int) error {
				fast.Add(1)
				return nil
			}
		}
	}
	if err := p.Run(jobs); err != nil {
		t.Fatal(err)
	}
	if slow.Load() != 10 || fast.Load() != 30 {
		t.Errorf("slow %d fast %d, want 10 and 30", slow.Load(), fast.Load())
	}
}

func TestClose(t *testing.T) {
	p := New(2)
	p.Close()
	p.Close()
	if err := p.Run([]Job{func(int) error { return nil }}); !errors.Is(err, ErrClosed) {
		t.Errorf("Run after Close = %v, want ErrClosed", err)
	}
}

func TestNoGoroutineLeak(t *testing.T) {
	runtime.GC()
	time.Sleep(50 * time.Millisecond)
	baseline := runtime.NumGoroutine()

	for range 5 {
		p := New(4)
		jobs := make([]Job, 50)
		for j := range jobs {
			jobs[j] = func(int) error { return nil }
		}
		if err := p.Run(jobs); err != nil {
			t.Fatal(err)
		}
		p.Close()
	}

	runtime.GC()
	time.Sleep(100 * time.Millisecond)
	if final := runtime.NumGoroutine(); final > baseline+2 {
		t.Errorf("goroutine count: baseline=%d, final=%d (leak detected)", baseline, final)
	}
}
