// SPDX-License-Identifier: MIT
package spectrum

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strings"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"melpipe/internal/log"
	"melpipe/pkg/bitint"
)

var logger = log.Named("Spectrum")

var (
	ErrInvalidSize    = errors.New("spectrum: invalid size")
	ErrBufferTooSmall = errors.New("spectrum: buffer too small")
)

// WindowFunc defines the type for selecting an FFT window function.
type WindowFunc int

// Enum for available window functions.
const (
	Hann WindowFunc = iota
	Hamming
	Blackman
	BlackmanNuttall
	BartlettHann
	Nuttall
	Lanczos
	Rectangular
)

func (w WindowFunc) String() string {
	switch w {
	case Hann:
		return "hann"
	case Hamming:
		return "hamming"
	case Blackman:
		return "blackman"
	case BlackmanNuttall:
		return "blackmannuttall"
	case BartlettHann:
		return "bartletthann"
	case Nuttall:
		return "nuttall"
	case Lanczos:
		return "lanczos"
	case Rectangular:
		return "rectangular"
	default:
		return fmt.Sprintf("WindowFunc(%d)", int(w))
	}
}

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc
// enum, returns a known default (Hann) and an error if the name is unknown.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "bartletthann":
		return BartlettHann, nil
	case "nuttall":
		return Nuttall, nil
	case "lanczos":
		return Lanczos, nil
	case "rectangular", "rect", "none":
		return Rectangular, nil
	default:
		return Hann, fmt.Errorf("unknown FFT window function name: '%s'", name)
	}
}

// Kind selects what each bin of a column holds.
type Kind int

const (
	Magnitude Kind = iota // |X[k]|
	Power                 // |X[k]|^2
)

func (k Kind) String() string {
	if k == Power {
		return "power"
	}
	return "magnitude"
}

// ParseKind converts "magnitude" or "power" to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "magnitude", "mag":
		return Magnitude, nil
	case "power", "pow":
		return Power, nil
	}
	return Magnitude, fmt.Errorf("unknown spectrum kind: '%s'", s)
}

// Config describes a spectrum processor. FrameLen samples are windowed and
// zero-padded to FFTLen, which must be a power of two.
type Config struct {
	FFTLen     int
	FrameLen   int
	SampleRate float64
	Window     WindowFunc
	Kind       Kind
}

// Validate reports the first configuration error, if any.
func (c Config) Validate() error {
	if !bitint.IsPowerOfTwo(c.FFTLen) || c.FFTLen < 2 {
		return fmt.Errorf("%w: fft size must be a power of 2, got %d", ErrInvalidSize, c.FFTLen)
	}
	if c.FrameLen < 1 || c.FrameLen > c.FFTLen {
		return fmt.Errorf("%w: frame length must be in [1, %d], got %d", ErrInvalidSize, c.FFTLen, c.FrameLen)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %f", ErrInvalidSize, c.SampleRate)
	}
	return nil
}

// Bins is the column length: FFTLen/2 + 1.
func (c Config) Bins() int {
	return c.FFTLen/2 + 1
}

// Pre-allocated buffers for FFT calculations.
type workspace struct {
	input     []float64    // windowed, zero padded frame
	fftOutput []complex128 // FFTLen/2+1 complex results
	window    []float64    // FrameLen window coefficients
}

// Processor turns frames of samples into spectrum columns. The workspace is
// guarded by a mutex, so a Processor may be shared, but each goroutine
// processing at frame rate should own one.
type Processor struct {
	cfg  Config
	fft  *fourier.FFT
	mu   sync.Mutex
	work workspace
}

// New validates cfg and allocates the FFT plan and workspace.
func New(cfg Config) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	win := make([]float64, cfg.FrameLen)
	applyWindow(win, cfg.Window)

	logger.Debugf("Initializing processor (FFT: %d, Frame: %d, SampleRate: %.1f Hz, Window: %v, Kind: %v)",
		cfg.FFTLen, cfg.FrameLen, cfg.SampleRate, cfg.Window, cfg.Kind)

	return &Processor{
		cfg: cfg,
		fft: fourier.NewFFT(cfg.FFTLen),
		work: workspace{
			input:     make([]float64, cfg.FFTLen),
			fftOutput: make([]complex128, cfg.Bins()),
			window:    win,
		},
	}, nil
}

// Config returns the processor configuration.
func (p *Processor) Config() Config {
	return p.cfg
}

// Bins returns the column length.
func (p *Processor) Bins() int {
	return p.cfg.Bins()
}

// Process windows frame, runs the FFT and writes Bins() values to column.
// Samples beyond FrameLen are ignored and a short frame is zero-padded. It
// does not allocate.
func (p *Processor) Process(frame, column []float64) error {
	if len(column) < p.cfg.Bins() {
		return ErrBufferTooSmall
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	in := p.work.input
	n := min(len(frame), p.cfg.FrameLen)
	for i := range n {
		in[i] = frame[i] * p.work.window[i]
	}
	clear(in[n:])

	p.fft.Coefficients(p.work.fftOutput, in)

	switch p.cfg.Kind {
	case Power:
		for i, c := range p.work.fftOutput {
			re, im := real(c), imag(c)
			column[i] = re*re + im*im
		}
	default:
		for i, c := range p.work.fftOutput {
			column[i] = cmplx.Abs(c)
		}
	}
	return nil
}

// BinFrequency returns the centre frequency in Hz of bin i, or 0 when i is
// out of range.
func (p *Processor) BinFrequency(i int) float64 {
	if i < 0 || i >= p.cfg.Bins() {
		return 0
	}
	return float64(i) * p.cfg.SampleRate / float64(p.cfg.FFTLen)
}

// PeakBin returns the index of the largest value in column.
func PeakBin(column []float64) int {
	peak, best := 0, math.Inf(-1)
	for i, v := range column {
		if v > best {
			peak, best = i, v
		}
	}
	return peak
}

// applyWindow fills coeffs with the selected window. Unknown types fall back
// to Hann.
func applyWindow(coeffs []float64, windowType WindowFunc) {
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	if len(coeffs) < 2 {
		return
	}
	switch windowType {
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Rectangular:
		window.Rectangular(coeffs)
	default:
		logger.Warnf("Unknown window function type %d, defaulting to Hann", windowType)
		window.Hann(coeffs)
	}
}
