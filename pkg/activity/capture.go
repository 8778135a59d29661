package activity

import (
	"context"
	"sync"
)

// CaptureHook collects audit events so tests can assert on the emitted trail.
// Set Err to simulate a failing sink.
type CaptureHook struct {
	Events []Event
	Err    error
	mu     sync.Mutex
}

// Notify appends the normalized event and returns the configured error.
func (h *CaptureHook) Notify(_ context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Events = append(h.Events, NormalizeEvent(event))
	return h.Err
}
