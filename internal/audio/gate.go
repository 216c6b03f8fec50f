// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"sync/atomic"
)

// Gate passes frames whose peak absolute amplitude exceeds a threshold.
// Samples are expected in [-1, 1]. It is safe to reconfigure a Gate while
// another goroutine calls Open.
type Gate struct {
	enabled   atomic.Bool
	threshold atomic.Uint64 // math.Float64bits
}

// NewGate returns a gate with the given state and threshold.
func NewGate(enabled bool, threshold float64) *Gate {
	g := &Gate{}
	g.enabled.Store(enabled)
	g.SetThreshold(threshold)
	return g
}

func (g *Gate) Enable() {
	g.enabled.Store(true)
}

func (g *Gate) Disable() {
	g.enabled.Store(false)
}

// Enabled reports whether the gate filters frames.
func (g *Gate) Enabled() bool {
	return g.enabled.Load()
}

// SetThreshold adjusts the gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (g *Gate) SetThreshold(threshold float64) {
	if threshold < 0.0 || math.IsNaN(threshold) {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}
	g.threshold.Store(math.Float64bits(threshold))
}

// Threshold returns the current gate threshold.
func (g *Gate) Threshold() float64 {
	return math.Float64frombits(g.threshold.Load())
}

// Open reports whether frame passes the gate. A disabled gate is always
// open.
func (g *Gate) Open(frame []float64) bool {
	if !g.enabled.Load() {
		return true
	}
	return Peak(frame) > g.Threshold()
}

// Peak returns the largest absolute sample value in frame.
func Peak(frame []float64) float64 {
	var peak float64
	for _, s := range frame {
		peak = math.Max(peak, math.Abs(s))
	}
	return peak
}
