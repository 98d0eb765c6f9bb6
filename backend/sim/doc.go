// Package sim is an in-process device for the submission core.
//
// Each queue replays recorded command lists in order and publishes its fence
// value afterwards. In [ModeAuto] a goroutine per queue does this after an
// optional latency; in [ModeManual] batches wait until the test calls
// [Queue.Complete], which makes every ticket transition observable.
//
// The device keeps track of which allocators and descriptor heaps a pending
// batch still references. Resetting or rewriting one of them before its
// fence completes is recorded in [Device.Violations] instead of silently
// corrupting state, which is how the pools' retirement discipline is tested.
//
// Importing the package registers it as [backend.BackendSim].
package sim
