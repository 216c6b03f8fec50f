// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"melpipe/internal/dct"
	"melpipe/internal/feature"
	"melpipe/internal/melfb"
	"melpipe/internal/spectrum"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cfg.Features.Kind != "mfcc" || cfg.Audio.SampleRate != 16000 {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig("nonexistent.yaml")
	if err == nil {
		t.Errorf("expected error for missing file, got nil")
	}
	if cfg != nil {
		t.Errorf("expected nil config on error, got %+v", cfg)
	}
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, ":\n:bad")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Error("expected unmarshal error, got nil or wrong error")
	}
}

func TestLoadConfig_File(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, `
log_level: debug
audio:
  sample_rate: 22050
features:
  kind: logmel
  frame_len: 1024
  hop_len: 256
  fft_len: 0
  window: hamming
  spectrum: magnitude
  mel:
    num_mels: 64
    fmin: 0
    fmax: 11025
    formula: slaney
    normalize: true
  log:
    scale: ln
    amin: 0.00001
transport:
  udp_enabled: true
  udp_target_address: "10.0.0.2:7000"
  udp_send_interval: 10ms
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.LogLevel != "debug" || cfg.Audio.SampleRate != 22050 {
		t.Errorf("top level not loaded: %+v", cfg)
	}
	if cfg.Audio.FramesPerBuffer != 256 {
		t.Errorf("unset field lost its default: frames_per_buffer = %d", cfg.Audio.FramesPerBuffer)
	}
	if cfg.Transport.UDPSendInterval != 10*time.Millisecond {
		t.Errorf("udp_send_interval = %s, want 10ms", cfg.Transport.UDPSendInterval)
	}

	fc, err := cfg.Extractor()
	if err != nil {
		t.Fatalf("Extractor error: %v", err)
	}
	if fc.Kind != feature.KindLogMel {
		t.Errorf("kind = %v, want logmel", fc.Kind)
	}
	if fc.Spectrum.FFTLen != 1024 || fc.Spectrum.Window != spectrum.Hamming || fc.Spectrum.Kind != spectrum.Magnitude {
		t.Errorf("spectrum config = %+v", fc.Spectrum)
	}
	if fc.Mel.NumMels != 64 || fc.Mel.Formula != melfb.FormulaSlaney || !fc.Mel.Normalize || fc.Mel.FMax != 11025 {
		t.Errorf("mel config = %+v", fc.Mel)
	}
	if fc.Log.Scale != feature.ScaleLn || fc.Log.AMin != 1e-5 {
		t.Errorf("log config = %+v", fc.Log)
	}
}

func TestBuildDefaults(t *testing.T) {
	t.Parallel()
	cfg := Default()
	fc, err := cfg.Extractor()
	if err != nil {
		t.Fatalf("Extractor error: %v", err)
	}
	if fc.Mel.FMax != 8000 {
		t.Errorf("zero fmax resolved to %g, want Nyquist 8000", fc.Mel.FMax)
	}
	want := dct.Config{NumFilters: 13, NumInputs: 40, Type: dct.TypeIIOrtho}
	if fc.DCT != want {
		t.Errorf("dct config = %+v, want %+v", fc.DCT, want)
	}

	ex, err := feature.New(fc)
	if err != nil {
		t.Fatalf("feature.New error: %v", err)
	}
	if ex.Size() != 13 {
		t.Errorf("extractor size = %d, want 13", ex.Size())
	}
}

func TestResolvedFFTLen(t *testing.T) {
	t.Parallel()
	tests := []struct {
		frame, fft, want int
	}{
		{400, 0, 512},
		{512, 0, 512},
		{400, 1024, 1024},
		{1, 0, 1},
	}
	for _, tt := range tests {
		f := FeatureConfig{FrameLen: tt.frame, FFTLen: tt.fft}
		if got := f.ResolvedFFTLen(); got != tt.want {
			t.Errorf("ResolvedFFTLen(frame %d, fft %d) = %d, want %d", tt.frame, tt.fft, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"Log Level", func(c *Config) { c.LogLevel = "loud" }},
		{"Device", func(c *Config) { c.Audio.InputDevice = -2 }},
		{"Sample Rate", func(c *Config) { c.Audio.SampleRate = 4000 }},
		{"Frames Per Buffer", func(c *Config) { c.Audio.FramesPerBuffer = 0 }},
		{"Channels", func(c *Config) { c.Audio.InputChannels = 0 }},
		{"Frame Len", func(c *Config) { c.Features.FrameLen = 0 }},
		{"Hop Above Frame", func(c *Config) { c.Features.HopLen = 401 }},
		{"FFT Below Frame", func(c *Config) { c.Features.FFTLen = 256 }},
		{"FFT Not Pow2", func(c *Config) { c.Features.FFTLen = 600 }},
		{"Kind", func(c *Config) { c.Features.Kind = "chroma" }},
		{"Window", func(c *Config) { c.Features.Window = "kaiser" }},
		{"Spectrum", func(c *Config) { c.Features.Spectrum = "phase" }},
		{"Mels", func(c *Config) { c.Features.Mel.NumMels = 0 }},
		{"FMax", func(c *Config) { c.Features.Mel.FMax = 9000 }},
		{"Formula", func(c *Config) { c.Features.Mel.Formula = "bark" }},
		{"Log Scale", func(c *Config) { c.Features.Log.Scale = "log2" }},
		{"AMin", func(c *Config) { c.Features.Log.AMin = 0 }},
		{"TopDB", func(c *Config) { c.Features.Log.TopDB = -3 }},
		{"DCT Type", func(c *Config) { c.Features.DCT.Type = "dct-iv" }},
		{"Coefs", func(c *Config) { c.Features.DCT.NumCoefs = 41 }},
		{"Remove Zero", func(c *Config) { c.Features.DCT.RemoveDCTZero = true }},
		{"Buffer", func(c *Config) { c.Buffer.Items = 0 }},
		{"Gate", func(c *Config) { c.Gate.Threshold = 1.5 }},
		{"Bit Depth", func(c *Config) { c.Recording.Enabled = true; c.Recording.BitDepth = 8 }},
		{"UDP Address", func(c *Config) { c.Transport.UDPEnabled = true; c.Transport.UDPTargetAddress = "localhost" }},
		{"UDP Interval", func(c *Config) { c.Transport.UDPEnabled = true; c.Transport.UDPSendInterval = -time.Second }},
		{"WS Address", func(c *Config) { c.Transport.WSEnabled = true; c.Transport.WSAddress = "" }},
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestKindSkipsUnusedStages(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Features.Kind = "spectrogram"
	cfg.Features.DCT.Type = "bogus"
	cfg.Features.Mel.Formula = "bogus"
	if err := cfg.Validate(); err != nil {
		t.Errorf("spectrogram config rejected over unused stages: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENV_LOG_LEVEL", "warn")
	t.Setenv("ENV_INPUT_DEVICE", "3")
	t.Setenv("ENV_FEATURE_KIND", "mel")
	t.Setenv("ENV_UDP_ENABLED", "true")
	t.Setenv("ENV_UDP_TARGET_ADDRESS", "192.168.1.5:9999")
	t.Setenv("ENV_UDP_SEND_INTERVAL", "5ms")
	t.Setenv("ENV_WS_ENABLED", "yes") // not a bool, ignored
	t.Setenv("ENV_WS_ADDRESS", ":9000")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	tr := cfg.Transport
	switch {
	case cfg.LogLevel != "warn":
		t.Errorf("log_level = %q", cfg.LogLevel)
	case cfg.Audio.InputDevice != 3:
		t.Errorf("input_device = %d", cfg.Audio.InputDevice)
	case cfg.Features.Kind != "mel":
		t.Errorf("kind = %q", cfg.Features.Kind)
	case !tr.UDPEnabled || tr.UDPTargetAddress != "192.168.1.5:9999" || tr.UDPSendInterval != 5*time.Millisecond:
		t.Errorf("udp overrides not applied: %+v", tr)
	case tr.WSEnabled:
		t.Error("invalid ENV_WS_ENABLED was applied")
	case tr.WSAddress != ":9000":
		t.Errorf("websocket_address = %q", tr.WSAddress)
	}
}
