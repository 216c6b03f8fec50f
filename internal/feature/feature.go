// SPDX-License-Identifier: MIT
/*
Package feature chains the spectrum, mel filterbank and DCT stages into
per-frame feature extractors:

	frame -> spectrum -> mel filterbank -> log -> DCT
	         Spectrogram  MelSpectrogram   LogMel  MFCC

Each Extractor owns its scratch buffers, so Extract does not allocate and an
Extractor must not be shared between goroutines.
*/
package feature

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"melpipe/internal/dct"
	"melpipe/internal/melfb"
	"melpipe/internal/spectrum"
)

var (
	ErrInvalidConfig  = errors.New("feature: invalid configuration")
	ErrBufferTooSmall = errors.New("feature: buffer too small")
)

// Kind names the output of an extractor.
type Kind int

const (
	KindSpectrogram Kind = iota
	KindMel
	KindLogMel
	KindMFCC
)

func (k Kind) String() string {
	switch k {
	case KindSpectrogram:
		return "spectrogram"
	case KindMel:
		return "mel"
	case KindLogMel:
		return "logmel"
	case KindMFCC:
		return "mfcc"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind converts a kind name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spectrogram", "spectrum":
		return KindSpectrogram, nil
	case "mel", "melspectrogram":
		return KindMel, nil
	case "logmel", "log-mel":
		return KindLogMel, nil
	case "mfcc":
		return KindMFCC, nil
	}
	return 0, fmt.Errorf("%w: unknown feature kind %q", ErrInvalidConfig, s)
}

// Extractor turns one frame of samples into one feature vector.
type Extractor interface {
	// Extract writes Size() values to out.
	Extract(frame, out []float64) error
	Size() int
	Kind() Kind
}

// LogScale selects the compression applied to mel energies.
type LogScale int

const (
	ScaleDB LogScale = iota // 10 log10(x / ref)
	ScaleLn                 // ln(x)
)

// ParseLogScale converts "db" or "ln" to a LogScale.
func ParseLogScale(s string) (LogScale, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "db":
		return ScaleDB, nil
	case "ln", "log", "natural":
		return ScaleLn, nil
	}
	return 0, fmt.Errorf("%w: unknown log scale %q", ErrInvalidConfig, s)
}

func (s LogScale) String() string {
	if s == ScaleLn {
		return "ln"
	}
	return "db"
}

// LogConfig controls log compression. Values are floored at AMin before the
// logarithm. In dB mode Ref is the 0 dB level and a positive TopDB clamps
// every value to at least max-TopDB within the vector.
type LogConfig struct {
	Scale LogScale
	Ref   float64
	AMin  float64
	TopDB float64
}

// DefaultLogConfig returns a dB scale relative to 1 with an 80 dB range.
func DefaultLogConfig() LogConfig {
	return LogConfig{Scale: ScaleDB, Ref: 1, AMin: 1e-10, TopDB: 80}
}

func (c LogConfig) validate() error {
	if !(c.AMin > 0) {
		return fmt.Errorf("%w: log amin must be positive, got %g", ErrInvalidConfig, c.AMin)
	}
	if c.Scale == ScaleDB && !(c.Ref > 0) {
		return fmt.Errorf("%w: log ref must be positive, got %g", ErrInvalidConfig, c.Ref)
	}
	if c.TopDB < 0 {
		return fmt.Errorf("%w: top_db must not be negative, got %g", ErrInvalidConfig, c.TopDB)
	}
	return nil
}

// Config describes a full chain. New copies FFTLen and SampleRate from
// Spectrum into Mel, and NumMels into DCT.NumInputs.
type Config struct {
	Kind     Kind
	Spectrum spectrum.Config
	Mel      melfb.Config
	Log      LogConfig
	DCT      dct.Config
}

// New builds the extractor for cfg.Kind.
func New(cfg Config) (Extractor, error) {
	switch cfg.Kind {
	case KindSpectrogram:
		return NewSpectrogram(cfg.Spectrum)
	case KindMel:
		return NewMelSpectrogram(cfg.Spectrum, cfg.Mel)
	case KindLogMel:
		return NewLogMel(cfg.Spectrum, cfg.Mel, cfg.Log)
	case KindMFCC:
		return NewMFCC(cfg.Spectrum, cfg.Mel, cfg.Log, cfg.DCT)
	}
	return nil, fmt.Errorf("%w: unsupported kind %d", ErrInvalidConfig, int(cfg.Kind))
}

// Spectrogram emits the spectrum column.
type Spectrogram struct {
	proc *spectrum.Processor
}

func NewSpectrogram(sc spectrum.Config) (*Spectrogram, error) {
	proc, err := spectrum.New(sc)
	if err != nil {
		return nil, err
	}
	return &Spectrogram{proc: proc}, nil
}

func (s *Spectrogram) Extract(frame, out []float64) error {
	return s.proc.Process(frame, out)
}

func (s *Spectrogram) Size() int  { return s.proc.Bins() }
func (s *Spectrogram) Kind() Kind { return KindSpectrogram }

// Processor exposes the spectrum stage.
func (s *Spectrogram) Processor() *spectrum.Processor { return s.proc }

// MelSpectrogram emits mel band energies.
type MelSpectrogram struct {
	spectro *Spectrogram
	fb      *melfb.Filterbank
	column  []float64
}

func NewMelSpectrogram(sc spectrum.Config, mc melfb.Config) (*MelSpectrogram, error) {
	spectro, err := NewSpectrogram(sc)
	if err != nil {
		return nil, err
	}
	mc.FFTLen = sc.FFTLen
	mc.SampleRate = sc.SampleRate
	fb, err := melfb.New(mc)
	if err != nil {
		return nil, err
	}
	return &MelSpectrogram{spectro: spectro, fb: fb, column: make([]float64, spectro.Size())}, nil
}

func (m *MelSpectrogram) Extract(frame, out []float64) error {
	if len(out) < m.Size() {
		return ErrBufferTooSmall
	}
	if err := m.spectro.Extract(frame, m.column); err != nil {
		return err
	}
	return m.fb.Apply(m.column, out)
}

func (m *MelSpectrogram) Size() int  { return m.fb.NumMels() }
func (m *MelSpectrogram) Kind() Kind { return KindMel }

// Filterbank exposes the mel stage.
func (m *MelSpectrogram) Filterbank() *melfb.Filterbank { return m.fb }

// LogMel emits log-compressed mel energies.
type LogMel struct {
	mel *MelSpectrogram
	log LogConfig
}

func NewLogMel(sc spectrum.Config, mc melfb.Config, lc LogConfig) (*LogMel, error) {
	if err := lc.validate(); err != nil {
		return nil, err
	}
	mel, err := NewMelSpectrogram(sc, mc)
	if err != nil {
		return nil, err
	}
	return &LogMel{mel: mel, log: lc}, nil
}

func (l *LogMel) Extract(frame, out []float64) error {
	if err := l.mel.Extract(frame, out); err != nil {
		return err
	}
	Compress(out[:l.Size()], l.log)
	return nil
}

func (l *LogMel) Size() int  { return l.mel.Size() }
func (l *LogMel) Kind() Kind { return KindLogMel }

// Filterbank exposes the mel stage.
func (l *LogMel) Filterbank() *melfb.Filterbank { return l.mel.fb }

// Compress applies the log compression in lc to v in place.
func Compress(v []float64, lc LogConfig) {
	if lc.Scale == ScaleLn {
		for i, x := range v {
			v[i] = math.Log(math.Max(x, lc.AMin))
		}
		return
	}

	offset := 10 * math.Log10(math.Max(lc.Ref, lc.AMin))
	for i, x := range v {
		v[i] = 10*math.Log10(math.Max(x, lc.AMin)) - offset
	}
	if lc.TopDB > 0 && len(v) > 0 {
		floor := floats.Max(v) - lc.TopDB
		for i, x := range v {
			if x < floor {
				v[i] = floor
			}
		}
	}
}

// MFCC emits cepstral coefficients of the log-mel vector.
type MFCC struct {
	logmel *LogMel
	dct    *dct.DCT
	melBuf []float64
}

// NewMFCC builds the chain. dc.NumInputs is set to the mel band count and
// dc.NumFilters is the number of coefficients kept.
func NewMFCC(sc spectrum.Config, mc melfb.Config, lc LogConfig, dc dct.Config) (*MFCC, error) {
	logmel, err := NewLogMel(sc, mc, lc)
	if err != nil {
		return nil, err
	}
	dc.NumInputs = logmel.Size()
	d, err := dct.New(dc)
	if err != nil {
		return nil, err
	}
	return &MFCC{logmel: logmel, dct: d, melBuf: make([]float64, logmel.Size())}, nil
}

func (m *MFCC) Extract(frame, out []float64) error {
	if err := m.logmel.Extract(frame, m.melBuf); err != nil {
		return err
	}
	if err := m.dct.Process(m.melBuf, out); err != nil {
		return fmt.Errorf("%w: %w", ErrBufferTooSmall, err)
	}
	return nil
}

func (m *MFCC) Size() int  { return m.dct.Config().NumFilters }
func (m *MFCC) Kind() Kind { return KindMFCC }

// DCT exposes the cepstral stage.
func (m *MFCC) DCT() *dct.DCT { return m.dct }

var (
	_ Extractor = (*Spectrogram)(nil)
	_ Extractor = (*MelSpectrogram)(nil)
	_ Extractor = (*LogMel)(nil)
	_ Extractor = (*MFCC)(nil)
)
