// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var ErrAlreadyRecording = errors.New("already recording")

// Recorder writes interleaved float samples to a PCM WAV file.
type Recorder struct {
	sampleRate int
	channels   int
	bitDepth   int

	isRecording atomic.Bool
	mu          sync.Mutex // guards the file, encoder and sample buffer
	outputFile  *os.File
	wavEncoder  *wav.Encoder
	sampleBuf   *audio.IntBuffer // Reusable buffer for format conversion
	scale       float64
	written     int64 // samples written since Start
}

// NewRecorder returns an idle recorder. bitDepth is 16 or 24.
func NewRecorder(sampleRate float64, channels, bitDepth int) *Recorder {
	return &Recorder{
		sampleRate: int(sampleRate),
		channels:   channels,
		bitDepth:   bitDepth,
		scale:      float64(audio.IntMaxSignedValue(bitDepth)),
	}
}

// RecordingFilename returns a timestamped file name inside dir.
func RecordingFilename(dir string, t time.Time) string {
	return filepath.Join(dir, "melpipe-"+t.Format("20060102-150405")+".wav")
}

// StartRecording creates filename, including missing parent directories,
// and starts accepting samples.
func (r *Recorder) StartRecording(filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRecording.Load() {
		return ErrAlreadyRecording
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create recording directory: %w", err)
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	r.outputFile = file
	r.wavEncoder = wav.NewEncoder(file, r.sampleRate, r.bitDepth, r.channels, 1)
	if r.sampleBuf == nil {
		r.sampleBuf = &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: r.channels,
				SampleRate:  r.sampleRate,
			},
			SourceBitDepth: r.bitDepth,
		}
	}
	r.written = 0

	r.isRecording.Store(true)
	logger.Infof("Recording to %s (%d Hz, %d channels, %d bit)", filename, r.sampleRate, r.channels, r.bitDepth)
	return nil
}

// Write appends interleaved samples in [-1, 1], clipping anything outside.
// It is a no-op when not recording and does not allocate once the internal
// buffer has grown to the callback size.
func (r *Recorder) Write(in []float32) error {
	if !r.isRecording.Load() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wavEncoder == nil {
		return nil
	}

	if cap(r.sampleBuf.Data) < len(in) {
		r.sampleBuf.Data = make([]int, len(in))
	}
	r.sampleBuf.Data = r.sampleBuf.Data[:len(in)]
	for i, s := range in {
		v := math.Max(-1, math.Min(1, float64(s)))
		r.sampleBuf.Data[i] = int(math.Round(v * r.scale))
	}

	if err := r.wavEncoder.Write(r.sampleBuf); err != nil {
		return fmt.Errorf("error writing to WAV file: %w", err)
	}
	r.written += int64(len(in))
	return nil
}

// StopRecording finalises the WAV header and closes the file.
func (r *Recorder) StopRecording() error {
	if !r.isRecording.Swap(false) {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if r.wavEncoder != nil {
		errs = append(errs, r.wavEncoder.Close())
		r.wavEncoder = nil
	}
	if r.outputFile != nil {
		logger.Infof("Recording stopped: %d samples written to %s", r.written, r.outputFile.Name())
		errs = append(errs, r.outputFile.Close())
		r.outputFile = nil
	}
	return errors.Join(errs...)
}

// Recording reports whether samples are being written.
func (r *Recorder) Recording() bool {
	return r.isRecording.Load()
}
