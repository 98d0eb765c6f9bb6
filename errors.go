package gpuqueue

import "errors"

// Errors returned by Device.
var (
	// ErrClosed is returned by Begin and friends after Shutdown.
	ErrClosed = errors.New("gpuqueue: device shut down")

	// ErrNilDevice is returned by New when no backend device is given.
	ErrNilDevice = errors.New("gpuqueue: nil backend device")
)
