// Package wgpu runs the submission core on a gogpu/wgpu HAL device.
//
// A HAL device exposes a single queue whose completion is reported as a
// submission index. The adapter presents that queue as all three
// [backend.QueueKind] queues and keeps, per queue, a log of which fence
// value each submission index stands for. Completed fence values are
// derived by polling [hal.Queue.PollCompleted].
//
// Command lists record into a Go slice and are replayed into a
// [hal.CommandEncoder] when they close: barriers become buffer usage
// transitions, copies become buffer-to-buffer copies and consecutive
// dispatches share one compute pass. Compute pipelines are compiled from
// WGSL to SPIR-V with naga. Draws and graphics pipelines are not
// supported and surface as errors from Close and CreatePipeline.
//
// Importing the package registers it as [backend.BackendWGPU]. The opener
// picks the best HAL backend linked into the binary, so programs also
// import the HAL backends they want, for example
// github.com/gogpu/wgpu/hal/allbackends.
package wgpu
