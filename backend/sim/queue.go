// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gpuqueue/backend"
)

// batch is one Submit or Signal call waiting for execution. Commands are
// captured at submission so the lists can be reset and re-recorded at once.
type batch struct {
	cmds  []Command
	value uint64
}

// Queue implements backend.Queue. Batches execute strictly in submission
// order, so a completed value implies every smaller value completed.
type Queue struct {
	dev  *Device
	kind backend.QueueKind

	mu        sync.Mutex
	submitted uint64
	completed uint64
	pending   []batch
	history   []Command
	batches   int
	signal    chan struct{} // closed and replaced whenever completed advances
	wake      chan struct{}
	stopped   bool
	exited    chan struct{}
}

func newQueue(d *Device, kind backend.QueueKind) *Queue {
	q := &Queue{
		dev:    d,
		kind:   kind,
		signal: make(chan struct{}),
		wake:   make(chan struct{}, 1),
		exited: make(chan struct{}),
	}
	if d.cfg.Mode == ModeAuto {
		go q.run()
	} else {
		close(q.exited)
	}
	return q
}

// Kind implements backend.Queue.
func (q *Queue) Kind() backend.QueueKind { return q.kind }

// Submit implements backend.Queue.
func (q *Queue) Submit(lists []backend.CommandList, value uint64) error {
	if q.dev.takeFault(FaultSubmit) {
		return fmt.Errorf("sim: submit to %s queue: %w", q.kind, backend.ErrDeviceLost)
	}

	closed := make([]*CommandList, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok {
			return fmt.Errorf("sim: submit: foreign command list %T", l)
		}
		if cl.kind != q.kind {
			return fmt.Errorf("sim: submit %s list to %s queue", cl.kind, q.kind)
		}
		if !cl.closed {
			if err := cl.Close(); err != nil {
				return err
			}
		}
		closed = append(closed, cl)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return fmt.Errorf("sim: submit after destroy: %w", backend.ErrDeviceLost)
	}
	if value <= q.submitted {
		return fmt.Errorf("sim: fence value %#x not greater than %#x", value, q.submitted)
	}
	q.submitted = value
	b := batch{value: value}
	for _, cl := range closed {
		cl.markInFlight(q, value)
		b.cmds = append(b.cmds, cl.cmds...)
	}
	q.pending = append(q.pending, b)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Signal implements backend.Queue.
func (q *Queue) Signal(value uint64) error {
	return q.Submit(nil, value)
}

// Completed implements backend.Queue.
func (q *Queue) Completed() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed
}

// Submitted returns the last fence value handed to Submit or Signal.
func (q *Queue) Submitted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submitted
}

// Wait implements backend.Queue.
func (q *Queue) Wait(ctx context.Context, value uint64) error {
	for {
		q.mu.Lock()
		if q.completed >= value {
			q.mu.Unlock()
			return nil
		}
		ch := q.signal
		q.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pending returns the number of batches not yet executed.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Batches returns how many batches have executed.
func (q *Queue) Batches() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.batches
}

// History returns every command executed so far, in execution order.
// It is empty unless Config.History is set.
func (q *Queue) History() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Command(nil), q.history...)
}

// Complete executes pending batches whose fence value is <= value.
// Intended for ModeManual.
func (q *Queue) Complete(value uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) > 0 && q.pending[0].value <= value {
		b := q.pending[0]
		q.pending = q.pending[1:]
		q.executeLocked(b)
	}
}

// CompleteAll executes every pending batch.
func (q *Queue) CompleteAll() {
	q.Complete(^uint64(0))
}

// executeLocked runs a batch and publishes its fence value.
func (q *Queue) executeLocked(b batch) {
	for _, cmd := range b.cmds {
		cmd.execute()
		if q.dev.cfg.History {
			q.history = append(q.history, cmd)
		}
	}
	q.batches++
	if b.value > q.completed {
		q.completed = b.value
	}
	close(q.signal)
	q.signal = make(chan struct{})
}

// run is the automatic execution loop.
func (q *Queue) run() {
	defer close(q.exited)
	for range q.wake {
		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				q.mu.Unlock()
				break
			}
			b := q.pending[0]
			q.mu.Unlock()

			if q.dev.cfg.Latency > 0 {
				time.Sleep(q.dev.cfg.Latency)
			}

			q.mu.Lock()
			q.pending = q.pending[1:]
			q.executeLocked(b)
			q.mu.Unlock()
		}
	}
}

// stop drains pending work and ends the execution goroutine.
func (q *Queue) stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	close(q.wake)
	<-q.exited
	q.CompleteAll()
}
