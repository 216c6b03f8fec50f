// SPDX-License-Identifier: MIT
package utils

import (
	"sync"

	"melpipe/internal/transport"
)

// MockTransport records frames instead of transmitting them.
type MockTransport struct {
	mu      sync.Mutex
	frames  []transport.Frame
	closed  bool
	SendErr error // returned by every Send when set
}

// Send stores a copy of f.
func (m *MockTransport) Send(f transport.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, f.Clone())
	return m.SendErr
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Frames returns the recorded frames in arrival order.
func (m *MockTransport) Frames() []transport.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transport.Frame(nil), m.frames...)
}

// Len returns the number of recorded frames.
func (m *MockTransport) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

// Last returns the most recent frame, or a zero Frame.
func (m *MockTransport) Last() transport.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.frames) == 0 {
		return transport.Frame{}
	}
	return m.frames[len(m.frames)-1]
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ transport.Transport = (*MockTransport)(nil)
