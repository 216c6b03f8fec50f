// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/gordonklaus/portaudio"

	"melpipe/internal/config"
)

// Engine captures a PortAudio input stream, downmixes it to mono and feeds
// a Framer. PortAudio must be initialized before NewEngine.
type Engine struct {
	// Core configuration and state.
	config config.AudioConfig
	framer *Framer

	// Audio input handling.
	inputDevice  *portaudio.DeviceInfo
	inputLatency time.Duration
	inputStream  *portaudio.Stream
	monoInput    []float64 // Mono downmix of each callback buffer

	// Optional raw input capture.
	recorder *Recorder
}

// NewEngine resolves the input device and pre-allocates the callback
// buffers. recorder may be nil.
func NewEngine(cfg config.AudioConfig, framer *Framer, recorder *Recorder) (*Engine, error) {
	if framer == nil {
		return nil, errors.New("engine: nil framer")
	}
	inputDevice, err := InputDevice(cfg.InputDevice)
	if err != nil {
		return nil, err
	}
	if cfg.InputChannels > inputDevice.MaxInputChannels {
		return nil, fmt.Errorf("device %s supports %d input channels, %d requested",
			inputDevice.Name, inputDevice.MaxInputChannels, cfg.InputChannels)
	}

	engine := &Engine{
		config:      cfg,
		framer:      framer,
		inputDevice: inputDevice,
		monoInput:   make([]float64, cfg.FramesPerBuffer),
		recorder:    recorder,
	}

	if cfg.LowLatency {
		engine.inputLatency = inputDevice.DefaultLowInputLatency
	} else {
		engine.inputLatency = inputDevice.DefaultHighInputLatency
	}

	logger.Infof("Input device: %s (%d channels, %.0f Hz, latency %s)",
		inputDevice.Name, cfg.InputChannels, cfg.SampleRate, engine.inputLatency)
	return engine, nil
}

func (e *Engine) StartInputStream() error {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: e.config.InputChannels,
			Device:   e.inputDevice,
			Latency:  e.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: e.config.FramesPerBuffer,
		SampleRate:      e.config.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, e.processInputStream)
	if err != nil {
		return err
	}
	e.inputStream = stream

	if err := e.inputStream.Start(); err != nil {
		e.inputStream.Close()
		e.inputStream = nil
		return err
	}

	return nil
}

func (e *Engine) StopInputStream() error {
	if e.inputStream != nil {
		if err := e.inputStream.Stop(); err != nil {
			return err
		}

		if err := e.inputStream.Close(); err != nil {
			return err
		}

		e.inputStream = nil
	}

	return nil
}

// processInputStream is the core audio processing callback.
// Performance Critical:
// - Runs in a dedicated OS thread (LockOSThread)
// - Uses pre-allocated buffers only
// - Never blocks: a full frame buffer drops the frame
func (e *Engine) processInputStream(in []float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if len(in)/e.config.InputChannels > len(e.monoInput) {
		// PortAudio honours FramesPerBuffer, so this only guards a
		// misbehaving host API.
		in = in[:len(e.monoInput)*e.config.InputChannels]
	}
	n := Downmix(e.monoInput, in, e.config.InputChannels)
	e.framer.Write(e.monoInput[:n])

	if e.recorder != nil && e.recorder.Recording() {
		if err := e.recorder.Write(in); err != nil {
			logger.Errorf("%v", err)
		}
	}
}

// Recorder returns the input recorder, or nil.
func (e *Engine) Recorder() *Recorder {
	return e.recorder
}

// Close stops any recording and the input stream.
func (e *Engine) Close() error {
	var errs []error
	if e.recorder != nil {
		errs = append(errs, e.recorder.StopRecording())
	}
	errs = append(errs, e.StopInputStream())
	return errors.Join(errs...)
}
