// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package pipeline deduplicates pipeline state objects.
//
// The first caller asking for a descriptor compiles it; concurrent callers
// asking for the same descriptor block until that compile finishes and share
// its result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"braces.dev/errtrace"

	"github.com/gogpu/gpuqueue/backend"
	"github.com/gogpu/gpuqueue/internal/logging"
)

// ErrDestroyed is returned by Get after Destroy.
var ErrDestroyed = errors.New("pipeline: cache destroyed")

type entry struct {
	desc backend.PipelineDesc
	done chan struct{} // closed once p or err is set
	p    backend.Pipeline
	err  error
}

// Handle is an opaque reference to a compiled pipeline. The zero Handle
// binds nothing.
type Handle struct {
	e *entry
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool { return h.e == nil }

// Pipeline returns the backend object.
func (h Handle) Pipeline() backend.Pipeline {
	if h.e == nil {
		return nil
	}
	return h.e.p
}

// Kind returns the bind point kind of the pipeline.
func (h Handle) Kind() backend.PipelineKind {
	if h.e == nil {
		return backend.PipelineGraphics
	}
	return h.e.desc.Kind
}

// Label returns the descriptor label.
func (h Handle) Label() string {
	if h.e == nil {
		return ""
	}
	return h.e.desc.Label
}

// Stats counts cache activity.
type Stats struct {
	Compiles int64
	Hits     int64
	Failures int64
	Entries  int
}

// Cache maps pipeline descriptors to compiled pipelines.
// It is safe for concurrent use.
type Cache struct {
	dev backend.Device

	mu        sync.Mutex
	entries   map[backend.PipelineDesc]*entry
	destroyed bool

	compiles atomic.Int64
	hits     atomic.Int64
	failures atomic.Int64
}

// NewCache creates an empty cache compiling on dev.
func NewCache(dev backend.Device) *Cache {
	return &Cache{
		dev:     dev,
		entries: make(map[backend.PipelineDesc]*entry),
	}
}

// Get returns the pipeline for desc, compiling it if no caller has.
func (c *Cache) Get(desc *backend.PipelineDesc) (Handle, error) {
	return c.GetContext(context.Background(), desc)
}

// GetContext is Get with a bound on how long to wait for another caller's
// compile. The caller that compiles always runs the compile to completion.
func (c *Cache) GetContext(ctx context.Context, desc *backend.PipelineDesc) (Handle, error) {
	if desc == nil {
		panic("pipeline: nil descriptor")
	}
	key := *desc

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return Handle{}, ErrDestroyed
	}
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		c.hits.Add(1)
		select {
		case <-e.done:
		case <-ctx.Done():
			return Handle{}, ctx.Err()
		}
		if e.err != nil {
			return Handle{}, e.err
		}
		return Handle{e: e}, nil
	}
	e := &entry{desc: key, done: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	c.compiles.Add(1)
	p, err := c.dev.CreatePipeline(desc)
	if err != nil {
		c.failures.Add(1)
		e.err = errtrace.Wrap(fmt.Errorf("pipeline: compile %q: %w", desc.Label, err))
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		close(e.done)
		logging.Logger().Warn("pipeline: compile failed", "label", desc.Label, "err", err)
		return Handle{}, e.err
	}
	e.p = p
	close(e.done)
	logging.Logger().Debug("pipeline: compiled", "label", desc.Label)
	return Handle{e: e}, nil
}

// Stats returns the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return Stats{
		Compiles: c.compiles.Load(),
		Hits:     c.hits.Load(),
		Failures: c.failures.Load(),
		Entries:  n,
	}
}

// Destroy destroys every compiled pipeline. Compiles still in flight are
// waited for. The device must be idle.
func (c *Cache) Destroy() {
	c.mu.Lock()
	c.destroyed = true
	entries := c.entries
	c.entries = make(map[backend.PipelineDesc]*entry)
	c.mu.Unlock()

	for _, e := range entries {
		<-e.done
		if e.p != nil {
			e.p.Destroy()
		}
	}
}
