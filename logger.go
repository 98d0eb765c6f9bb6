package gpuqueue

import (
	"log/slog"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuqueue/internal/logging"
)

// SetLogger configures the logger for gpuqueue and all its sub-packages.
// By default, gpuqueue produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// The logger is also handed to the wgpu HAL so backend/wgpu devices report
// through the same handler.
//
// Log levels used by gpuqueue:
//   - [slog.LevelDebug]: pool growth, page rollovers, heap rollovers
//   - [slog.LevelInfo]: lifecycle events (device created, shutdown)
//   - [slog.LevelWarn]: non-fatal issues (failed compiles, slow waits)
//
// Example:
//
//	// Enable debug-level logging for full diagnostics:
//	gpuqueue.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logging.Set(l)
	hal.SetLogger(Logger())
}

// Logger returns the current logger used by gpuqueue.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return logging.Logger()
}
