// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"math"
	"testing"

	"melpipe/pkg/utils"
)

var (
	quietBuffer = utils.GenerateSineWave(440, 16000, 0.001, 512)
	loudBuffer  = utils.GenerateSineWave(440, 16000, 0.9, 512)
)

func TestGateEnable(t *testing.T) {
	g := NewGate(false, 0.1)

	if g.Enabled() {
		t.Error("Gate should be disabled initially")
	}

	g.Enable()
	if !g.Enabled() {
		t.Error("Gate should be enabled after Enable()")
	}

	g.Disable()
	if g.Enabled() {
		t.Error("Gate should be disabled after Disable()")
	}

	g.Enable()
	g.Enable() // Multiple calls should be idempotent
	if !g.Enabled() {
		t.Error("Gate should remain enabled after multiple Enable()")
	}
}

func TestGateThresholdBoundaries(t *testing.T) {
	tests := []struct {
		input    float64
		expected float64
	}{
		{-0.1, 0.0}, // Below min
		{0.0, 0.0},  // Minimum
		{0.5, 0.5},  // Middle
		{1.0, 1.0},  // Maximum
		{1.5, 1.0},  // Above max
		{math.NaN(), 0.0},
	}

	g := NewGate(true, 0)
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.2f", tt.input), func(t *testing.T) {
			g.SetThreshold(tt.input)
			if got := g.Threshold(); got != tt.expected {
				t.Errorf("Threshold() = %.3f, want %.3f", got, tt.expected)
			}
		})
	}
}

func TestGateOpen(t *testing.T) {
	tests := []struct {
		desc      string
		buffer    []float64
		enabled   bool
		threshold float64
		open      bool
	}{
		{"Gate disabled/Quiet signal", quietBuffer, false, 0.1, true},
		{"Gate disabled/Loud signal", loudBuffer, false, 0.1, true},
		{"Gate enabled/Quiet signal/Low threshold", quietBuffer, true, 0.0001, true},
		{"Gate enabled/Quiet signal/Mid threshold", quietBuffer, true, 0.1, false},
		{"Gate enabled/Loud signal/Mid threshold", loudBuffer, true, 0.1, true},
		{"Gate enabled/Loud signal/High threshold", loudBuffer, true, 0.999, false},
		{"Gate enabled/Silence/Zero threshold", make([]float64, 16), true, 0, false},
		{"Gate enabled/Empty frame", nil, true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			g := NewGate(tt.enabled, tt.threshold)
			if got := g.Open(tt.buffer); got != tt.open {
				t.Errorf("Open() = %v, want %v (peak %.4f, threshold %.4f)",
					got, tt.open, Peak(tt.buffer), g.Threshold())
			}
		})
	}
}

func TestPeak(t *testing.T) {
	if p := Peak([]float64{0.1, -0.7, 0.3}); p != 0.7 {
		t.Errorf("Peak = %g, want 0.7", p)
	}
	if p := Peak(nil); p != 0 {
		t.Errorf("Peak(nil) = %g, want 0", p)
	}
}

func TestGateOpenNoAllocs(t *testing.T) {
	g := NewGate(true, 0.5)
	allocs := testing.AllocsPerRun(100, func() {
		_ = g.Open(loudBuffer)
	})
	if allocs > 0 {
		t.Errorf("Open allocated %.1f times per run", allocs)
	}
}

func BenchmarkGateOpen(b *testing.B) {
	g := NewGate(true, 0.5)
	b.ReportAllocs()
	for b.Loop() {
		_ = g.Open(loudBuffer)
	}
}
