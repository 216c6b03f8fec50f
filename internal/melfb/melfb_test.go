// SPDX-License-Identifier: MIT
package melfb

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"testing"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

func typicalConfig() Config {
	return Config{
		NumMels:    40,
		FFTLen:     1024,
		SampleRate: 16000,
		FMin:       20,
		FMax:       4000,
		Formula:    FormulaHTK,
		Mel2F:      true,
	}
}

func mustNew(t *testing.T, cfg Config) *Filterbank {
	t.Helper()
	fb, err := New(cfg)
	if err != nil {
		t.Fatalf("New(%+v) error: %v", cfg, err)
	}
	return fb
}

func TestFormulaKnownValues(t *testing.T) {
	tests := []struct {
		name    string
		formula Formula
		hz      float64
		mel     float64
	}{
		{"htk/0", FormulaHTK, 0, 0},
		{"htk/700", FormulaHTK, 700, 1127 * math.Ln2},
		{"htk/1000", FormulaHTK, 1000, 999.9907},
		{"slaney/0", FormulaSlaney, 0, 0},
		{"slaney/500", FormulaSlaney, 500, 7.5},
		{"slaney/1000", FormulaSlaney, 1000, 15},
		{"slaney/6400", FormulaSlaney, 6400, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.formula.HzToMel(tt.hz); math.Abs(got-tt.mel) > 1e-3 {
				t.Errorf("HzToMel(%g) = %.6f, want %.6f", tt.hz, got, tt.mel)
			}
			if got := tt.formula.MelToHz(tt.mel); math.Abs(got-tt.hz) > 1e-2 {
				t.Errorf("MelToHz(%g) = %.6f, want %.6f", tt.mel, got, tt.hz)
			}
		})
	}
}

func TestFormulaRoundTrip(t *testing.T) {
	for _, f := range []Formula{FormulaHTK, FormulaSlaney} {
		prev := math.Inf(-1)
		for hz := 0.0; hz <= 24000; hz += 37.5 {
			mel := f.HzToMel(hz)
			if mel <= prev {
				t.Fatalf("%s: HzToMel not increasing at %g Hz", f, hz)
			}
			prev = mel
			if back := f.MelToHz(mel); math.Abs(back-hz) > 1e-9*math.Max(1, hz) {
				t.Errorf("%s: MelToHz(HzToMel(%g)) = %.12f", f, hz, back)
			}
		}
	}
}

func TestParseFormula(t *testing.T) {
	for in, want := range map[string]Formula{"htk": FormulaHTK, "HTK": FormulaHTK, " slaney": FormulaSlaney} {
		got, err := ParseFormula(in)
		if err != nil || got != want {
			t.Errorf("ParseFormula(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseFormula("bark"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("ParseFormula(bark) error = %v, want ErrInvalidConfig", err)
	}
}

func TestConfigValidate(t *testing.T) {
	base := typicalConfig()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no mels", func(c *Config) { c.NumMels = 0 }},
		{"tiny fft", func(c *Config) { c.FFTLen = 1 }},
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"negative fmin", func(c *Config) { c.FMin = -1 }},
		{"fmax equals fmin", func(c *Config) { c.FMax = c.FMin }},
		{"fmax above nyquist", func(c *Config) { c.FMax = 8001 }},
		{"unknown formula", func(c *Config) { c.Formula = Formula(7) }},
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("typical config invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func checkLayout(t *testing.T, fb *Filterbank) {
	t.Helper()
	nbins := fb.Config().NumBins()
	offset := 0

	for i, b := range fb.Bands() {
		if b.Offset != offset {
			t.Errorf("band %d: Offset = %d, want %d", i, b.Offset, offset)
		}
		offset += b.Count

		if !(b.LowerHz < b.CenterHz && b.CenterHz < b.UpperHz) {
			t.Errorf("band %d: edges %g/%g/%g not increasing", i, b.LowerHz, b.CenterHz, b.UpperHz)
		}
		if !b.HasBins() {
			continue
		}
		if b.Start < 0 || b.Stop >= nbins || b.Start > b.Stop {
			t.Errorf("band %d: range [%d, %d] outside [0, %d)", i, b.Start, b.Stop, nbins)
		}
		if b.Count != b.Stop-b.Start+1 {
			t.Errorf("band %d: Count = %d for range [%d, %d]", i, b.Count, b.Start, b.Stop)
		}
		for k, w := range fb.Weights(i) {
			if !(w > 0) {
				t.Errorf("band %d: weight %d = %g, want > 0", i, k, w)
			}
		}
	}

	if offset != fb.Len() {
		t.Errorf("sum of band counts = %d, Len() = %d", offset, fb.Len())
	}
}

func TestCoverage(t *testing.T) {
	for _, mel2f := range []bool{true, false} {
		for _, formula := range []Formula{FormulaHTK, FormulaSlaney} {
			cfg := typicalConfig()
			cfg.Mel2F = mel2f
			cfg.Formula = formula

			fb := mustNew(t, cfg)
			checkLayout(t, fb)

			for i := range fb.NumMels() {
				if !fb.Band(i).HasBins() {
					t.Errorf("%s mel2f=%v: band %d has no bins", formula, mel2f, i)
					continue
				}
				// Filters are at least two bins wide here, so the sampled peak
				// of every triangle lands in [0.5, 1].
				peak := floats.Max(fb.Weights(i))
				if peak > 1+1e-12 || peak < 0.5 {
					t.Errorf("%s mel2f=%v: band %d peak = %g, want within [0.5, 1]", formula, mel2f, i, peak)
				}
			}
		}
	}
}

func TestPeakOnBinAlignedCentres(t *testing.T) {
	// With FMin=0 and the Slaney linear region, mel points fall on
	// multiples of 1000/(NumMels+1) Hz. Choosing the FFT so those points are
	// bin centres makes every triangle sample its own apex.
	cfg := Config{
		NumMels:    9,
		FFTLen:     1600,
		SampleRate: 16000,
		FMin:       0,
		FMax:       1000,
		Formula:    FormulaSlaney,
		Mel2F:      true,
	}
	fb := mustNew(t, cfg)

	for i := range fb.NumMels() {
		peak := floats.Max(fb.Weights(i))
		if peak < 0.999 || peak > 1.0+1e-12 {
			t.Errorf("band %d peak = %.12f, want within [0.999, 1]", i, peak)
		}
	}
}

func TestMel2FModesShareSupport(t *testing.T) {
	hzCfg := typicalConfig()
	melCfg := hzCfg
	melCfg.Mel2F = false

	hz, mel := mustNew(t, hzCfg), mustNew(t, melCfg)
	if hz.Len() != mel.Len() {
		t.Fatalf("coefficient counts differ: Mel2F %d, mel-domain %d", hz.Len(), mel.Len())
	}

	var differ bool
	for i := range hz.NumMels() {
		a, b := hz.Band(i), mel.Band(i)
		if a.Start != b.Start || a.Stop != b.Stop || a.Offset != b.Offset {
			t.Errorf("band %d: Mel2F range [%d, %d]@%d, mel-domain [%d, %d]@%d",
				i, a.Start, a.Stop, a.Offset, b.Start, b.Stop, b.Offset)
		}
		if a.CenterHz != b.CenterHz {
			t.Errorf("band %d: centre %g vs %g", i, a.CenterHz, b.CenterHz)
		}
		if !floats.EqualApprox(hz.Weights(i), mel.Weights(i), 1e-12) {
			differ = true
		}
	}
	if !differ {
		t.Error("Mel2F and mel-domain weights are identical, want distinct slopes")
	}
}

func TestOuterEdgesExcludeFMinAndFMax(t *testing.T) {
	// 62.5 and 4000 Hz both sit exactly on bins of a 1024 point FFT at 16 kHz.
	for _, formula := range []Formula{FormulaHTK, FormulaSlaney} {
		for _, mel2f := range []bool{true, false} {
			t.Run(fmt.Sprintf("%s/mel2f=%v", formula, mel2f), func(t *testing.T) {
				cfg := typicalConfig()
				cfg.FMin = 62.5
				cfg.Formula = formula
				cfg.Mel2F = mel2f
				fb := mustNew(t, cfg)

				if lo := fb.Band(0).LowerHz; lo != cfg.FMin {
					t.Errorf("first band lower edge = %.15g, want %g", lo, cfg.FMin)
				}
				if hi := fb.Band(cfg.NumMels - 1).UpperHz; hi != cfg.FMax {
					t.Errorf("last band upper edge = %.15g, want %g", hi, cfg.FMax)
				}

				binHz := cfg.SampleRate / float64(cfg.FFTLen)
				for i, b := range fb.Bands() {
					if !b.HasBins() {
						continue
					}
					for j := b.Start; j <= b.Stop; j++ {
						if f := float64(j) * binHz; f <= cfg.FMin || f >= cfg.FMax {
							t.Errorf("band %d stores a weight at %g Hz, outside (%g, %g)", i, f, cfg.FMin, cfg.FMax)
						}
					}
				}
			})
		}
	}
}

func TestMelDomainWeights(t *testing.T) {
	cfg := typicalConfig()
	cfg.Mel2F = false
	fb := mustNew(t, cfg)

	mf := cfg.Formula
	melMin, melMax := mf.HzToMel(cfg.FMin), mf.HzToMel(cfg.FMax)
	step := (melMax - melMin) / float64(cfg.NumMels+1)

	const band = 25
	b := fb.Band(band)
	for k, got := range fb.Weights(band) {
		m := mf.HzToMel(float64(b.Start+k) * cfg.SampleRate / float64(cfg.FFTLen))
		c := melMin + float64(band+1)*step
		want := 1 - math.Abs(m-c)/step
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("bin %d weight = %.12f, want %.12f", b.Start+k, got, want)
		}
	}
}

func TestNormalize(t *testing.T) {
	plainCfg := typicalConfig()
	normCfg := plainCfg
	normCfg.Normalize = true

	plain, norm := mustNew(t, plainCfg), mustNew(t, normCfg)
	checkLayout(t, norm)

	for i := range plain.NumMels() {
		b := plain.Band(i)
		scale := 2 / (b.UpperHz - b.LowerHz)
		pw, nw := plain.Weights(i), norm.Weights(i)
		if len(pw) != len(nw) {
			t.Fatalf("band %d: %d vs %d weights", i, len(pw), len(nw))
		}
		for k := range pw {
			if math.Abs(nw[k]-pw[k]*scale) > 1e-15 {
				t.Errorf("band %d weight %d = %g, want %g", i, k, nw[k], pw[k]*scale)
			}
		}
	}
}

func TestDegenerateBands(t *testing.T) {
	cfg := Config{
		NumMels:    128,
		FFTLen:     256,
		SampleRate: 16000,
		FMin:       0,
		FMax:       8000,
		Formula:    FormulaHTK,
	}

	for _, mel2f := range []bool{true, false} {
		cfg.Mel2F = mel2f
		fb := mustNew(t, cfg)
		checkLayout(t, fb)

		var empty int
		for _, b := range fb.Bands() {
			if !b.HasBins() {
				empty++
			}
		}
		if empty == 0 {
			t.Fatalf("mel2f=%v: expected collapsed bands with 128 mels over 128 bins", mel2f)
		}
		if fb.Band(0).HasBins() {
			t.Errorf("mel2f=%v: band 0 spans %g-%g Hz and must miss every bin", mel2f, fb.Band(0).LowerHz, fb.Band(0).UpperHz)
		}

		column := make([]float64, cfg.NumBins())
		floats.AddConst(1, column)
		out := make([]float64, cfg.NumMels)
		for i := range out {
			out[i] = math.NaN()
		}
		if err := fb.Apply(column, out); err != nil {
			t.Fatalf("Apply error: %v", err)
		}

		for i, b := range fb.Bands() {
			switch {
			case !b.HasBins() && out[i] != 0:
				t.Errorf("mel2f=%v: empty band %d output = %g, want 0", mel2f, i, out[i])
			case b.HasBins() && !(out[i] > 0):
				t.Errorf("mel2f=%v: band %d output = %g, want > 0", mel2f, i, out[i])
			}
		}
	}
}

func TestApply(t *testing.T) {
	fb := mustNew(t, typicalConfig())
	nbins := fb.Config().NumBins()

	column := make([]float64, nbins+1)
	for j := range column {
		column[j] = float64(j%7) + 0.5
	}
	out := make([]float64, fb.NumMels())
	if err := fb.Apply(column, out); err != nil {
		t.Fatalf("Apply error: %v", err)
	}

	for i, b := range fb.Bands() {
		var want float64
		for k, w := range fb.Weights(i) {
			want += column[b.Start+k] * w
		}
		if math.Abs(out[i]-want) > 1e-12 {
			t.Errorf("out[%d] = %g, want %g", i, out[i], want)
		}
	}

	if err := fb.Apply(column[:nbins-1], out); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("short column error = %v, want ErrBufferTooSmall", err)
	}
	if err := fb.Apply(column, out[:3]); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("short output error = %v, want ErrBufferTooSmall", err)
	}
}

func TestToneSelectsNearestBand(t *testing.T) {
	const (
		sampleRate = 16000.0
		fftLen     = 1024
		toneHz     = 1000.0
	)

	signal := make([]float64, fftLen)
	for i := range signal {
		signal[i] = math.Sin(2 * math.Pi * toneHz * float64(i) / sampleRate)
	}
	coeffs := fourier.NewFFT(fftLen).Coefficients(nil, signal)
	column := make([]float64, len(coeffs))
	for i, c := range coeffs {
		column[i] = cmplx.Abs(c)
	}

	for _, mel2f := range []bool{true, false} {
		cfg := typicalConfig()
		cfg.Mel2F = mel2f
		fb := mustNew(t, cfg)

		out := make([]float64, cfg.NumMels)
		if err := fb.Apply(column, out); err != nil {
			t.Fatalf("Apply error: %v", err)
		}

		nearest := 0
		for i, b := range fb.Bands() {
			if math.Abs(b.CenterHz-toneHz) < math.Abs(fb.Band(nearest).CenterHz-toneHz) {
				nearest = i
			}
		}
		if loudest := floats.MaxIdx(out); loudest != nearest {
			t.Errorf("mel2f=%v: loudest band = %d (centre %.1f Hz), want %d (centre %.1f Hz)",
				mel2f, loudest, fb.Band(loudest).CenterHz, nearest, fb.Band(nearest).CenterHz)
		}
	}
}

func TestApplyZeroAllocations(t *testing.T) {
	fb := mustNew(t, typicalConfig())
	column := make([]float64, fb.Config().NumBins())
	out := make([]float64, fb.NumMels())

	allocs := testing.AllocsPerRun(100, func() {
		_ = fb.Apply(column, out)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in Apply, got %.1f", allocs)
	}
}

func BenchmarkApply(b *testing.B) {
	fb, err := New(typicalConfig())
	if err != nil {
		b.Fatal(err)
	}
	column := make([]float64, fb.Config().NumBins())
	floats.AddConst(1, column)
	out := make([]float64, fb.NumMels())

	b.ReportAllocs()
	for b.Loop() {
		_ = fb.Apply(column, out)
	}
}

func BenchmarkNew(b *testing.B) {
	cfg := typicalConfig()
	for b.Loop() {
		_, _ = New(cfg)
	}
}
