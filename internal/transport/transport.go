// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"slices"
	"sync"
)

// Frame is one feature vector leaving the pipeline.
type Frame struct {
	Seq       uint32    `json:"seq"`
	Timestamp int64     `json:"ts"` // ns since the Unix epoch, or since stream start for files
	Kind      string    `json:"kind"`
	Values    []float64 `json:"values"`
}

// Clone returns a copy of f that does not share Values. Transports that
// hold on to a frame after Send returns must clone it: the pipeline reuses
// the Values slice for the next frame.
func (f Frame) Clone() Frame {
	f.Values = slices.Clone(f.Values)
	return f
}

// Transport defines a generic interface for publishing feature frames.
// Implementations should be thread-safe.
type Transport interface {
	Send(f Frame) error
	Close() error
}

// Multi fans every frame out to a set of transports.
type Multi struct {
	mu         sync.Mutex
	transports []Transport
}

// NewMulti returns a Multi over the non-nil transports in ts.
func NewMulti(ts ...Transport) *Multi {
	m := &Multi{}
	for _, t := range ts {
		if t != nil {
			m.transports = append(m.transports, t)
		}
	}
	return m
}

// Add appends t to the fan-out.
func (m *Multi) Add(t Transport) {
	m.mu.Lock()
	m.transports = append(m.transports, t)
	m.mu.Unlock()
}

// Len returns the number of transports.
func (m *Multi) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transports)
}

// Send delivers f to every transport, even if some fail, and joins the errors.
func (m *Multi) Send(f Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, t := range m.transports {
		if err := t.Send(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every transport and joins the errors.
func (m *Multi) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, t := range m.transports {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.transports = nil
	return errors.Join(errs...)
}

var _ Transport = (*Multi)(nil)
