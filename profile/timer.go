// Package profile turns completion tickets into timing samples.
//
// A [Timer] is the model readback consumer: it keeps the ticket returned by
// a context's Finish and only reports the sample once that ticket is
// complete, which is when results the batch produced may be read.
package profile

import (
	"sync"
	"time"

	"github.com/gogpu/gpuqueue/queue"
)

// Sample is one timed batch.
type Sample struct {
	Name   string
	Ticket queue.Ticket

	// CPU is the recording time reported by the caller.
	CPU time.Duration

	// Submitted is when the sample was recorded.
	Submitted time.Time

	// Observed is when Poll first saw the ticket complete. It bounds the
	// device latency from above.
	Observed time.Time
}

// Latency returns the time from submission to observed completion.
func (s Sample) Latency() time.Duration {
	return s.Observed.Sub(s.Submitted)
}

type average struct {
	n     int64
	total time.Duration
}

// Timer collects samples. It is safe for concurrent use.
type Timer struct {
	now func() time.Time

	mu       sync.Mutex
	pending  []Sample
	averages map[string]*average
}

// NewTimer creates an empty timer.
func NewTimer() *Timer {
	return &Timer{now: time.Now, averages: make(map[string]*average)}
}

// Record adds a sample for the batch that signals t.
func (tm *Timer) Record(name string, t queue.Ticket, cpu time.Duration) {
	tm.mu.Lock()
	tm.pending = append(tm.pending, Sample{Name: name, Ticket: t, CPU: cpu, Submitted: tm.now()})
	tm.mu.Unlock()
}

// Poll returns, in recording order, the samples whose tickets are complete.
// It stops at the first incomplete ticket so later samples never overtake
// earlier ones.
func (tm *Timer) Poll(tr queue.Tracker) []Sample {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	var done []Sample
	now := tm.now()
	for len(tm.pending) > 0 && tr.IsComplete(tm.pending[0].Ticket) {
		s := tm.pending[0]
		tm.pending = tm.pending[1:]
		s.Observed = now
		a := tm.averages[s.Name]
		if a == nil {
			a = &average{}
			tm.averages[s.Name] = a
		}
		a.n++
		a.total += s.Latency()
		done = append(done, s)
	}
	return done
}

// Pending returns the number of samples waiting for completion.
func (tm *Timer) Pending() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.pending)
}

// Average returns the mean observed latency of completed samples named name.
func (tm *Timer) Average(name string) time.Duration {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	a := tm.averages[name]
	if a == nil || a.n == 0 {
		return 0
	}
	return a.total / time.Duration(a.n)
}
