package main

import (
	"testing"

	"github.com/gogpu/gpuqueue"
)

func TestStressSim(t *testing.T) {
	t.Cleanup(func() { gpuqueue.SetLogger(nil) })

	tests := []struct {
		name string
		args []string
	}{
		{"default", []string{"stress", "--producers", "3", "--frames", "20", "--workers", "2"}},
		{"wait strict", []string{"stress", "-p", "2", "-f", "10", "--wait", "--strict"}},
		{"small pages", []string{"stress", "-p", "2", "-f", "10", "--upload-page", "1", "--heap-size", "4", "--latency", "100us"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"gpuqueue"}, tt.args...)
			if err := newApp().Run(args); err != nil {
				t.Fatalf("Run(%v): %v", tt.args, err)
			}
		})
	}
}

func TestStressRejectsBadCounts(t *testing.T) {
	t.Cleanup(func() { gpuqueue.SetLogger(nil) })
	if err := newApp().Run([]string{"gpuqueue", "stress", "--frames", "0"}); err == nil {
		t.Error("stress with zero frames succeeded")
	}
}

func TestUnknownBackend(t *testing.T) {
	t.Cleanup(func() { gpuqueue.SetLogger(nil) })
	if err := newApp().Run([]string{"gpuqueue", "stress", "--backend", "nope"}); err == nil {
		t.Error("stress on an unknown backend succeeded")
	}
}
