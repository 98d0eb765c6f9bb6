// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package backend

import (
	"fmt"
	"sort"

	"github.com/gogpu/gpucontext"
)

// Backend name constants.
const (
	// BackendWGPU opens a device through the gogpu/wgpu HAL.
	BackendWGPU = "wgpu"
	// BackendSim is the in-process simulated device.
	BackendSim = "sim"
)

// Opener opens a device.
type Opener func() (Device, error)

// registry holds registered backends.
// Priority order for selection: a real HAL device first, the simulator last.
var registry = gpucontext.NewRegistry[Opener](
	gpucontext.WithPriority(BackendWGPU, BackendSim),
)

// Register registers an opener under name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it is replaced.
func Register(name string, open Opener) {
	registry.Register(name, func() Opener { return open })
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registry.Unregister(name)
}

// Available returns the registered backend names in sorted order.
func Available() []string {
	names := registry.Available()
	sort.Strings(names)
	return names
}

// IsRegistered reports whether a backend with the given name is registered.
func IsRegistered(name string) bool {
	return registry.Has(name)
}

// Open opens a device through the named backend.
func Open(name string) (Device, error) {
	open := registry.Get(name)
	if open == nil {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, name)
	}
	return open()
}

// OpenDefault opens a device through the best available backend.
func OpenDefault() (Device, error) {
	name := registry.BestName()
	if name == "" {
		return nil, ErrBackendNotAvailable
	}
	return Open(name)
}
