// SPDX-License-Identifier: MIT
/*
Package melfb builds triangular mel filterbanks over FFT bins and applies them
to spectrum columns.

New lays NumMels+2 points out evenly on the mel scale between FMin and FMax.
Filter i rises from point i to point i+1 and falls to point i+2. Only bins in
[0, FFTLen/2) with a strictly positive weight are stored, so the filterbank is
a sparse matrix: every Band records the inclusive bin range it covers and the
offset of its weights in the flat coefficient slice.

A band narrow enough to fall between two bin centres stores no weights.
HasBins reports that case and Apply writes 0 for it.

A Filterbank is immutable after New and safe for concurrent Apply calls.
*/
package melfb

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

var (
	ErrInvalidConfig  = errors.New("melfb: invalid configuration")
	ErrBufferTooSmall = errors.New("melfb: buffer too small")
)

// Formula selects the Hz/mel mapping.
type Formula int

const (
	// FormulaHTK is mel = 1127 ln(1 + f/700).
	FormulaHTK Formula = iota
	// FormulaSlaney is linear below 1 kHz and logarithmic above, as in the
	// Auditory Toolbox.
	FormulaSlaney
)

const (
	slaneyFSP       = 200.0 / 3 // Hz per mel in the linear region
	slaneyMinLogHz  = 1000.0
	slaneyMinLogMel = slaneyMinLogHz / slaneyFSP
)

var slaneyLogStep = math.Log(6.4) / 27

func (f Formula) String() string {
	switch f {
	case FormulaHTK:
		return "htk"
	case FormulaSlaney:
		return "slaney"
	default:
		return fmt.Sprintf("Formula(%d)", int(f))
	}
}

// ParseFormula converts "htk" or "slaney" (case insensitive) to a Formula.
func ParseFormula(s string) (Formula, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "htk":
		return FormulaHTK, nil
	case "slaney":
		return FormulaSlaney, nil
	}
	return 0, fmt.Errorf("%w: unknown mel formula %q", ErrInvalidConfig, s)
}

// HzToMel maps a frequency in Hz onto the mel scale.
func (f Formula) HzToMel(hz float64) float64 {
	if f == FormulaSlaney {
		if hz >= slaneyMinLogHz {
			return slaneyMinLogMel + math.Log(hz/slaneyMinLogHz)/slaneyLogStep
		}
		return hz / slaneyFSP
	}
	return 1127 * math.Log(1+hz/700)
}

// MelToHz is the inverse of HzToMel.
func (f Formula) MelToHz(mel float64) float64 {
	if f == FormulaSlaney {
		if mel >= slaneyMinLogMel {
			return slaneyMinLogHz * math.Exp(slaneyLogStep*(mel-slaneyMinLogMel))
		}
		return mel * slaneyFSP
	}
	return 700 * (math.Exp(mel/1127) - 1)
}

// Config describes a filterbank.
type Config struct {
	NumMels    int
	FFTLen     int
	SampleRate float64
	FMin       float64
	FMax       float64
	Formula    Formula
	// Normalize scales each filter by 2/(upper-lower Hz) so every band
	// integrates to the same area instead of peaking at 1.
	Normalize bool
	// Mel2F computes the triangles in Hz from inverse-mapped mel points.
	// Otherwise bin frequencies are mapped into mel and the triangles are
	// evaluated there. Both give the same supports with different slopes.
	Mel2F bool
}

// Validate reports the first configuration error, if any.
func (c Config) Validate() error {
	switch {
	case c.NumMels < 1:
		return fmt.Errorf("%w: NumMels must be positive, got %d", ErrInvalidConfig, c.NumMels)
	case c.FFTLen < 2:
		return fmt.Errorf("%w: FFTLen must be at least 2, got %d", ErrInvalidConfig, c.FFTLen)
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: SampleRate must be positive, got %g", ErrInvalidConfig, c.SampleRate)
	case c.FMin < 0:
		return fmt.Errorf("%w: FMin must not be negative, got %g", ErrInvalidConfig, c.FMin)
	case c.FMax <= c.FMin:
		return fmt.Errorf("%w: FMax %g must exceed FMin %g", ErrInvalidConfig, c.FMax, c.FMin)
	case c.FMax > c.SampleRate/2:
		return fmt.Errorf("%w: FMax %g above Nyquist %g", ErrInvalidConfig, c.FMax, c.SampleRate/2)
	case c.Formula != FormulaHTK && c.Formula != FormulaSlaney:
		return fmt.Errorf("%w: unsupported formula %d", ErrInvalidConfig, int(c.Formula))
	}
	return nil
}

// NumBins is the number of spectrum bins the filterbank reads.
func (c Config) NumBins() int {
	return c.FFTLen / 2
}

// Band is one filter of the bank. Start and Stop are inclusive bin indices and
// are only meaningful when HasBins is true.
type Band struct {
	Start  int
	Stop   int
	Offset int // index of the first weight in Coefficients
	Count  int // number of stored weights, Stop-Start+1 or 0

	LowerHz  float64
	CenterHz float64
	UpperHz  float64
}

// HasBins reports whether the band covers at least one bin.
func (b Band) HasBins() bool {
	return b.Count > 0
}

// Filterbank is a precomputed sparse mel filterbank.
type Filterbank struct {
	cfg   Config
	bands []Band
	coefs []float64
}

// New validates cfg and generates the filterbank.
func New(cfg Config) (*Filterbank, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mf := cfg.Formula
	melMin, melMax := mf.HzToMel(cfg.FMin), mf.HzToMel(cfg.FMax)
	step := (melMax - melMin) / float64(cfg.NumMels+1)
	binHz := cfg.SampleRate / float64(cfg.FFTLen)
	nbins := cfg.NumBins()

	fb := &Filterbank{
		cfg:   cfg,
		bands: make([]Band, cfg.NumMels),
		coefs: make([]float64, 0, 2*nbins),
	}

	for i := range fb.bands {
		melLo := melMin + float64(i)*step
		melC := melMin + float64(i+1)*step
		melHi := melMin + float64(i+2)*step

		b := Band{
			Offset:   len(fb.coefs),
			LowerHz:  mf.MelToHz(melLo),
			CenterHz: mf.MelToHz(melC),
			UpperHz:  mf.MelToHz(melHi),
		}
		// The outer edges are FMin and FMax exactly, not a mel round trip.
		if i == 0 {
			melLo, b.LowerHz = melMin, cfg.FMin
		}
		if i == cfg.NumMels-1 {
			melHi, b.UpperHz = melMax, cfg.FMax
		}

		lo, c, hi := melLo, melC, melHi
		if cfg.Mel2F {
			lo, c, hi = b.LowerHz, b.CenterHz, b.UpperHz
		}
		rampLo, rampHi := c-lo, hi-c

		enorm := 1.0
		if cfg.Normalize {
			enorm = 2 / (b.UpperHz - b.LowerHz)
		}

		for j := range nbins {
			f := float64(j) * binHz
			if !cfg.Mel2F {
				f = mf.HzToMel(f)
			}
			if f <= lo {
				continue
			}
			if f >= hi {
				break
			}
			w := math.Min((f-lo)/rampLo, (hi-f)/rampHi)
			if w <= 0 {
				continue
			}
			if b.Count == 0 {
				b.Start = j
			}
			b.Stop = j
			b.Count++
			fb.coefs = append(fb.coefs, w*enorm)
		}

		fb.bands[i] = b
	}

	return fb, nil
}

// Config returns the configuration the filterbank was built from.
func (fb *Filterbank) Config() Config {
	return fb.cfg
}

// NumMels returns the number of bands.
func (fb *Filterbank) NumMels() int {
	return len(fb.bands)
}

// Len returns the number of stored weights across all bands.
func (fb *Filterbank) Len() int {
	return len(fb.coefs)
}

// Bands returns the band layout. The slice is shared and must not be modified.
func (fb *Filterbank) Bands() []Band {
	return fb.bands
}

// Band returns band i.
func (fb *Filterbank) Band(i int) Band {
	return fb.bands[i]
}

// Coefficients returns the flat weight slice. It is shared and must not be
// modified.
func (fb *Filterbank) Coefficients() []float64 {
	return fb.coefs
}

// Weights returns the stored weights of band i, empty if it has no bins.
func (fb *Filterbank) Weights(i int) []float64 {
	b := fb.bands[i]
	return fb.coefs[b.Offset : b.Offset+b.Count]
}

// Apply writes the energy of each band for one spectrum column to out.
// column must hold at least FFTLen/2 bins and out at least NumMels values.
// It does not allocate.
func (fb *Filterbank) Apply(column, out []float64) error {
	if len(column) < fb.cfg.NumBins() || len(out) < len(fb.bands) {
		return ErrBufferTooSmall
	}

	for i, b := range fb.bands {
		if !b.HasBins() {
			out[i] = 0
			continue
		}
		out[i] = floats.Dot(column[b.Start:b.Stop+1], fb.coefs[b.Offset:b.Offset+b.Count])
	}
	return nil
}
