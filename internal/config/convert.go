// SPDX-License-Identifier: MIT
package config

import (
	"fmt"

	"melpipe/internal/dct"
	"melpipe/internal/feature"
	"melpipe/internal/melfb"
	"melpipe/internal/spectrum"
	"melpipe/pkg/bitint"
)

// Extractor returns the feature chain configuration at the configured audio
// sample rate.
func (c *Config) Extractor() (feature.Config, error) {
	return c.Features.Build(c.Audio.SampleRate)
}

// ResolvedFFTLen returns FFTLen, or FrameLen rounded up to a power of two
// when FFTLen is zero.
func (f FeatureConfig) ResolvedFFTLen() int {
	if f.FFTLen > 0 {
		return f.FFTLen
	}
	return bitint.NextPowerOfTwo(f.FrameLen)
}

// Build converts f into a feature chain configuration for audio sampled at
// sampleRate and validates every stage the chosen kind uses.
func (f FeatureConfig) Build(sampleRate float64) (feature.Config, error) {
	var fc feature.Config

	kind, err := feature.ParseKind(f.Kind)
	if err != nil {
		return fc, err
	}
	fc.Kind = kind

	if fc.Spectrum, err = f.SpectrumConfig(sampleRate); err != nil {
		return fc, err
	}
	if kind == feature.KindSpectrogram {
		return fc, nil
	}

	if fc.Mel, err = f.MelConfig(sampleRate); err != nil {
		return fc, err
	}
	if kind == feature.KindMel {
		return fc, nil
	}

	if fc.Log, err = f.LogConfig(); err != nil {
		return fc, err
	}
	if kind == feature.KindLogMel {
		return fc, nil
	}

	fc.DCT, err = f.DCTConfig()
	return fc, err
}

// SpectrumConfig returns the validated spectrum stage configuration.
func (f FeatureConfig) SpectrumConfig(sampleRate float64) (spectrum.Config, error) {
	window, err := spectrum.ParseWindowFunc(f.Window)
	if err != nil {
		return spectrum.Config{}, err
	}
	kind, err := spectrum.ParseKind(f.Spectrum)
	if err != nil {
		return spectrum.Config{}, err
	}
	sc := spectrum.Config{
		FFTLen:     f.ResolvedFFTLen(),
		FrameLen:   f.FrameLen,
		SampleRate: sampleRate,
		Window:     window,
		Kind:       kind,
	}
	return sc, sc.Validate()
}

// MelConfig returns the validated filterbank configuration. A zero fmax
// selects the Nyquist frequency.
func (f FeatureConfig) MelConfig(sampleRate float64) (melfb.Config, error) {
	formula, err := melfb.ParseFormula(f.Mel.Formula)
	if err != nil {
		return melfb.Config{}, err
	}
	fmax := f.Mel.FMax
	if fmax == 0 {
		fmax = sampleRate / 2
	}
	mc := melfb.Config{
		NumMels:    f.Mel.NumMels,
		FFTLen:     f.ResolvedFFTLen(),
		SampleRate: sampleRate,
		FMin:       f.Mel.FMin,
		FMax:       fmax,
		Formula:    formula,
		Normalize:  f.Mel.Normalize,
		Mel2F:      f.Mel.Mel2F,
	}
	return mc, mc.Validate()
}

// LogConfig returns the validated log compression settings.
func (f FeatureConfig) LogConfig() (feature.LogConfig, error) {
	scale, err := feature.ParseLogScale(f.Log.Scale)
	if err != nil {
		return feature.LogConfig{}, err
	}
	lc := feature.LogConfig{Scale: scale, Ref: f.Log.Ref, AMin: f.Log.AMin, TopDB: f.Log.TopDB}
	switch {
	case !(lc.AMin > 0):
		return lc, fmt.Errorf("log.amin must be positive, got %g", lc.AMin)
	case scale == feature.ScaleDB && !(lc.Ref > 0):
		return lc, fmt.Errorf("log.ref must be positive, got %g", lc.Ref)
	case lc.TopDB < 0:
		return lc, fmt.Errorf("log.top_db must not be negative, got %g", lc.TopDB)
	}
	return lc, nil
}

// DCTConfig returns the validated DCT settings with NumInputs set to the mel
// band count.
func (f FeatureConfig) DCTConfig() (dct.Config, error) {
	typ, err := dct.ParseType(f.DCT.Type)
	if err != nil {
		return dct.Config{}, err
	}
	dc := dct.Config{
		NumFilters:    f.DCT.NumCoefs,
		NumInputs:     f.Mel.NumMels,
		Type:          typ,
		RemoveDCTZero: f.DCT.RemoveDCTZero,
	}
	return dc, dc.Validate()
}
