// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package backend defines the device abstraction the submission core is
// written against.
//
// A [Device] exposes up to three queues ([QueueGraphics], [QueueCompute],
// [QueueCopy]), each of which executes command lists in order and signals a
// 64-bit fence value when they finish. Command allocators, linear buffers
// and shader-visible descriptor heaps are all created through the same
// interface.
//
// # Backend Registration
//
// Backends register an [Opener] from an init() function and are selected by
// name at runtime:
//
//	import (
//		_ "github.com/gogpu/gpuqueue/backend/sim"
//		_ "github.com/gogpu/gpuqueue/backend/wgpu"
//	)
//
//	dev, err := backend.Open(backend.BackendSim)
//
// [OpenDefault] prefers the wgpu HAL device and falls back to the simulator.
//
// # Implementations
//
//   - backend/wgpu wraps a gogpu/wgpu hal.Device and hal.Queue.
//   - backend/sim executes lists on a goroutine per queue and can be driven
//     by hand, which is what the core's tests use to control completion.
package backend
