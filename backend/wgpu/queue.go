package wgpu

import (
	"context"
	"fmt"
	"time"

	"braces.dev/errtrace"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuqueue/backend"
)

// Polling bounds for Queue.Wait. The HAL reports completion only through
// PollCompleted, so waiting is a poll with exponential backoff.
const (
	minPollInterval = 50 * time.Microsecond
	maxPollInterval = 2 * time.Millisecond
)

// fencePoint pairs a fence value with the HAL submission index whose
// completion signals it.
type fencePoint struct {
	value uint64
	index uint64
}

// Queue implements backend.Queue on top of the shared HAL queue.
// All fields are guarded by the device mutex.
type Queue struct {
	dev  *Device
	kind backend.QueueKind

	pending   []fencePoint
	completed uint64
}

// Kind implements backend.Queue.
func (q *Queue) Kind() backend.QueueKind { return q.kind }

// Submit implements backend.Queue. Lists that are still recording are
// closed and encoded first.
func (q *Queue) Submit(lists []backend.CommandList, value uint64) error {
	if len(lists) == 0 {
		return q.Signal(value)
	}
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok {
			return errtrace.Wrap(fmt.Errorf("wgpu: submit: foreign command list %T", l))
		}
		if cl.kind != q.kind {
			return errtrace.Wrap(fmt.Errorf("wgpu: submit %s list to %s queue", cl.kind, q.kind))
		}
		if !cl.closed {
			if err := cl.Close(); err != nil {
				return err
			}
		}
	}

	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	buffers := make([]hal.CommandBuffer, 0, len(lists))
	for _, l := range lists {
		buffers = append(buffers, l.(*CommandList).encoded)
	}
	index, err := d.hq.Submit(buffers)
	if err != nil {
		return errtrace.Wrap(fmt.Errorf("wgpu: submit to %s queue: %w", q.kind, translate(err)))
	}
	d.lastIndex = index
	q.pending = append(q.pending, fencePoint{value: value, index: index})
	return nil
}

// Signal implements backend.Queue. The value completes together with the
// latest HAL submission from any queue.
func (q *Queue) Signal(value uint64) error {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastIndex == 0 {
		q.completed = max(q.completed, value)
		return nil
	}
	q.pending = append(q.pending, fencePoint{value: value, index: d.lastIndex})
	return nil
}

// Completed implements backend.Queue.
func (q *Queue) Completed() uint64 {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	return q.pollLocked()
}

func (q *Queue) pollLocked() uint64 {
	if len(q.pending) == 0 {
		return q.completed
	}
	done := q.dev.hq.PollCompleted()
	n := 0
	for n < len(q.pending) && q.pending[n].index <= done {
		n++
	}
	if n > 0 {
		q.completed = q.pending[n-1].value
		q.pending = append(q.pending[:0], q.pending[n:]...)
	}
	return q.completed
}

// Wait implements backend.Queue.
func (q *Queue) Wait(ctx context.Context, value uint64) error {
	if q.Completed() >= value {
		return nil
	}
	interval := minPollInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return errtrace.Wrap(ctx.Err())
		case <-timer.C:
		}
		if q.Completed() >= value {
			return nil
		}
		interval = min(interval*2, maxPollInterval)
		timer.Reset(interval)
	}
}
