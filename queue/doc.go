// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package queue issues completion tickets and recycles command allocators.
//
// Every device queue gets a [Queue]: Submit hands a closed command list to
// the device and returns the [Ticket] the device signals when the list has
// executed. IsComplete never blocks; WaitFor blocks on the device's
// completion signal. Tickets of one queue complete in order, which lets the
// [AllocatorPool] inspect only the oldest retired allocator.
//
// A [Manager] holds the queues of one device and routes any ticket back to
// the queue that issued it using the kind stored in the ticket's high bits.
package queue
