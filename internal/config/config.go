// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"melpipe/internal/log"
)

var logger = log.Named("Config")

// Hardware and processing limits.
const (
	MinDeviceID   = -1     // -1 selects the system default device
	MinSampleRate = 8000   // Hz
	MaxSampleRate = 192000 // Hz
	MaxFFTLen     = 1 << 16
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the application configuration, loaded from YAML.
type Config struct {
	LogLevel  string          `yaml:"log_level"` // debug, info, warn, error
	Audio     AudioConfig     `yaml:"audio"`
	Features  FeatureConfig   `yaml:"features"`
	Buffer    BufferConfig    `yaml:"buffer"`
	Gate      GateConfig      `yaml:"gate"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
}

// AudioConfig holds capture settings.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index, -1 for default.
	SampleRate      float64 `yaml:"sample_rate"`       // Hz.
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // PortAudio callback size.
	LowLatency      bool    `yaml:"low_latency"`       // Request the device's low input latency.
	InputChannels   int     `yaml:"input_channels"`    // Downmixed to mono before framing.
}

// FeatureConfig describes the extractor chain.
type FeatureConfig struct {
	Kind     string         `yaml:"kind"`      // spectrogram, mel, logmel, mfcc
	FrameLen int            `yaml:"frame_len"` // Samples per analysis frame.
	HopLen   int            `yaml:"hop_len"`   // Samples between frame starts.
	FFTLen   int            `yaml:"fft_len"`   // 0 rounds FrameLen up to a power of two.
	Window   string         `yaml:"window"`
	Spectrum string         `yaml:"spectrum"` // magnitude or power
	Mel      MelConfig      `yaml:"mel"`
	Log      LogScaleConfig `yaml:"log"`
	DCT      DCTConfig      `yaml:"dct"`
}

// MelConfig describes the mel filterbank.
type MelConfig struct {
	NumMels   int     `yaml:"num_mels"`
	FMin      float64 `yaml:"fmin"`
	FMax      float64 `yaml:"fmax"`    // 0 selects Nyquist.
	Formula   string  `yaml:"formula"` // htk or slaney
	Normalize bool    `yaml:"normalize"`
	Mel2F     bool    `yaml:"mel2f"`
}

// LogScaleConfig describes log compression of mel energies.
type LogScaleConfig struct {
	Scale string  `yaml:"scale"` // db or ln
	Ref   float64 `yaml:"ref"`
	AMin  float64 `yaml:"amin"`
	TopDB float64 `yaml:"top_db"` // 0 disables the floor.
}

// DCTConfig describes the cepstral transform.
type DCTConfig struct {
	NumCoefs      int    `yaml:"num_coefs"`
	Type          string `yaml:"type"`
	RemoveDCTZero bool   `yaml:"remove_dct_zero"`
}

// BufferConfig sizes the frame ring between producer and consumer.
type BufferConfig struct {
	Items int `yaml:"items"`
}

// GateConfig controls the frame activity gate.
type GateConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"` // Peak amplitude in [0, 1].
}

// RecordingConfig controls WAV capture of the raw live input.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
	BitDepth  int    `yaml:"bit_depth"` // 16 or 24.
}

// TransportConfig holds feature frame outputs.
type TransportConfig struct {
	LogFrames        bool          `yaml:"log_frames"`         // Log a summary of each frame at debug level.
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Send binary frames over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // host:port.
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // 0 sends every frame immediately.
	WSEnabled        bool          `yaml:"websocket_enabled"`  // Broadcast JSON frames to WebSocket clients.
	WSAddress        string        `yaml:"websocket_address"`  // Listen address.
}

// Default returns the built-in configuration: 25 ms frames with a 10 ms hop
// at 16 kHz, 40 HTK mel bands and 13 orthonormal MFCCs.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     MinDeviceID,
			SampleRate:      16000,
			FramesPerBuffer: 256,
			LowLatency:      false,
			InputChannels:   1,
		},
		Features: FeatureConfig{
			Kind:     "mfcc",
			FrameLen: 400,
			HopLen:   160,
			FFTLen:   512,
			Window:   "Hann",
			Spectrum: "power",
			Mel: MelConfig{
				NumMels: 40,
				FMin:    20,
				FMax:    0,
				Formula: "htk",
			},
			Log: LogScaleConfig{
				Scale: "db",
				Ref:   1,
				AMin:  1e-10,
				TopDB: 80,
			},
			DCT: DCTConfig{
				NumCoefs: 13,
				Type:     "dct-ii-ortho",
			},
		},
		Buffer: BufferConfig{Items: 8},
		Gate: GateConfig{
			Enabled:   false,
			Threshold: 0.01,
		},
		Recording: RecordingConfig{
			Enabled:   false,
			OutputDir: "./recordings",
			BitDepth:  16,
		},
		Transport: TransportConfig{
			UDPEnabled:       false,
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  33 * time.Millisecond, // ~30Hz.
			WSEnabled:        false,
			WSAddress:        "127.0.0.1:8080",
		},
	}
}

// LoadConfig loads configuration from the YAML file at path. If path is
// empty it looks for "config.yaml" in the working directory and falls back
// to the built-in defaults. Environment overrides are applied after loading
// and the result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat("config.yaml"); err != nil {
			cfg.applyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("invalid default configuration: %w", err)
			}
			return cfg, nil
		}
		path = "config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	logger.Debugf("Loaded %s", path)

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate reports the first configuration error, if any. It builds every
// processing stage's configuration so stage-level errors surface here too.
func (c *Config) Validate() error {
	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalid, c.LogLevel)
	}

	a := c.Audio
	switch {
	case a.InputDevice < MinDeviceID:
		return fmt.Errorf("%w: audio.input_device must be >= %d, got %d", ErrInvalid, MinDeviceID, a.InputDevice)
	case a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate:
		return fmt.Errorf("%w: audio.sample_rate must be in [%d, %d], got %g", ErrInvalid, MinSampleRate, MaxSampleRate, a.SampleRate)
	case a.FramesPerBuffer < 1:
		return fmt.Errorf("%w: audio.frames_per_buffer must be positive, got %d", ErrInvalid, a.FramesPerBuffer)
	case a.InputChannels < 1:
		return fmt.Errorf("%w: audio.input_channels must be positive, got %d", ErrInvalid, a.InputChannels)
	}

	f := c.Features
	switch {
	case f.FrameLen < 1:
		return fmt.Errorf("%w: features.frame_len must be positive, got %d", ErrInvalid, f.FrameLen)
	case f.HopLen < 1 || f.HopLen > f.FrameLen:
		return fmt.Errorf("%w: features.hop_len must be in [1, %d], got %d", ErrInvalid, f.FrameLen, f.HopLen)
	case f.FFTLen < 0 || f.FFTLen > MaxFFTLen:
		return fmt.Errorf("%w: features.fft_len must be in [0, %d], got %d", ErrInvalid, MaxFFTLen, f.FFTLen)
	}
	if _, err := c.Extractor(); err != nil {
		return fmt.Errorf("%w: features: %w", ErrInvalid, err)
	}

	if c.Buffer.Items < 1 {
		return fmt.Errorf("%w: buffer.items must be positive, got %d", ErrInvalid, c.Buffer.Items)
	}
	if c.Gate.Threshold < 0 || c.Gate.Threshold > 1 {
		return fmt.Errorf("%w: gate.threshold must be in [0, 1], got %g", ErrInvalid, c.Gate.Threshold)
	}
	if c.Recording.Enabled && c.Recording.BitDepth != 16 && c.Recording.BitDepth != 24 {
		return fmt.Errorf("%w: recording.bit_depth must be 16 or 24, got %d", ErrInvalid, c.Recording.BitDepth)
	}

	t := c.Transport
	if t.UDPEnabled {
		if t.UDPTargetAddress == "" || !strings.Contains(t.UDPTargetAddress, ":") {
			return fmt.Errorf("%w: transport.udp_target_address %q appears invalid (missing port?)", ErrInvalid, t.UDPTargetAddress)
		}
		if t.UDPSendInterval < 0 {
			return fmt.Errorf("%w: transport.udp_send_interval must not be negative", ErrInvalid)
		}
	}
	if t.WSEnabled && t.WSAddress == "" {
		return fmt.Errorf("%w: transport.websocket_address must be set when WebSocket is enabled", ErrInvalid)
	}
	return nil
}

// applyEnvOverrides applies ENV_* variables on top of the loaded values.
// Unparseable values are logged and ignored.
func (c *Config) applyEnvOverrides() {
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		c.LogLevel = val
		logger.Infof("Overriding log_level from env: %s", val)
	}

	// ENV_INPUT_DEVICE
	if val, ok := os.LookupEnv("ENV_INPUT_DEVICE"); ok {
		if n, err := strconv.Atoi(val); err == nil {
			c.Audio.InputDevice = n
			logger.Infof("Overriding audio.input_device from env: %d", n)
		} else {
			logger.Warnf("Ignoring ENV_INPUT_DEVICE=%q: %v", val, err)
		}
	}

	// ENV_FEATURE_KIND
	if val, ok := os.LookupEnv("ENV_FEATURE_KIND"); ok {
		c.Features.Kind = val
		logger.Infof("Overriding features.kind from env: %s", val)
	}

	// ENV_UDP_{...}
	// These are specific to the transport layer.

	// ENV_UDP_ENABLED
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Transport.UDPEnabled = b
			logger.Infof("Overriding transport.udp_enabled from env: %v", b)
		} else {
			logger.Warnf("Ignoring ENV_UDP_ENABLED=%q: %v", val, err)
		}
	}
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		c.Transport.UDPTargetAddress = val
		logger.Infof("Overriding transport.udp_target_address from env: %s", val)
	}
	// ENV_UDP_SEND_INTERVAL
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			c.Transport.UDPSendInterval = dur
			logger.Infof("Overriding transport.udp_send_interval from env: %s", dur)
		} else {
			logger.Warnf("Ignoring ENV_UDP_SEND_INTERVAL=%q: %v", val, err)
		}
	}

	// ENV_WS_{...}

	// ENV_WS_ENABLED
	if val, ok := os.LookupEnv("ENV_WS_ENABLED"); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Transport.WSEnabled = b
			logger.Infof("Overriding transport.websocket_enabled from env: %v", b)
		} else {
			logger.Warnf("Ignoring ENV_WS_ENABLED=%q: %v", val, err)
		}
	}
	// ENV_WS_ADDRESS
	if val, ok := os.LookupEnv("ENV_WS_ADDRESS"); ok {
		c.Transport.WSAddress = val
		logger.Infof("Overriding transport.websocket_address from env: %s", val)
	}
}
