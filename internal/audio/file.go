// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var ErrUnsupportedFile = errors.New("unsupported audio file")

// chunkFrames is the number of sample frames decoded per read.
const chunkFrames = 4096

// FileSource decodes an integer PCM WAV file into mono float samples.
type FileSource struct {
	file     *os.File
	dec      *wav.Decoder
	channels int
	bitDepth int
	rate     float64
}

// OpenFile opens a PCM WAV file with 16, 24 or 32 bit samples.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		if err := dec.Err(); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrUnsupportedFile, path, err)
		}
		return nil, fmt.Errorf("%w: %s is not a valid WAV file", ErrUnsupportedFile, path)
	}
	if dec.WavAudioFormat != 1 {
		f.Close()
		return nil, fmt.Errorf("%w: %s uses WAV format %d, only integer PCM is supported", ErrUnsupportedFile, path, dec.WavAudioFormat)
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth != 16 && bitDepth != 24 && bitDepth != 32 {
		f.Close()
		return nil, fmt.Errorf("%w: %s has %d bit samples", ErrUnsupportedFile, path, bitDepth)
	}

	return &FileSource{
		file:     f,
		dec:      dec,
		channels: int(dec.NumChans),
		bitDepth: bitDepth,
		rate:     float64(dec.SampleRate),
	}, nil
}

// SampleRate returns the file sample rate in Hz.
func (s *FileSource) SampleRate() float64 { return s.rate }

// Channels returns the number of interleaved channels in the file.
func (s *FileSource) Channels() int { return s.channels }

// Duration returns the playing time of the file.
func (s *FileSource) Duration() (time.Duration, error) {
	return s.dec.Duration()
}

// Run decodes the whole file into framer, waiting for buffer space as
// needed, and flushes the trailing partial frame. It returns the number of
// mono samples produced.
func (s *FileSource) Run(ctx context.Context, framer *Framer) (int64, error) {
	buf := &audio.IntBuffer{Data: make([]int, chunkFrames*s.channels)}
	mono := make([]float64, chunkFrames)
	scale := 1 / float64(audio.IntMaxSignedValue(s.bitDepth))

	var total int64
	for {
		n, err := s.dec.PCMBuffer(buf)
		if err != nil {
			return total, fmt.Errorf("decoding PCM: %w", err)
		}
		if n == 0 {
			break
		}
		m := DownmixInt(mono, buf.Data[:n], s.channels, scale)
		if err := framer.WriteContext(ctx, mono[:m]); err != nil {
			return total, err
		}
		total += int64(m)
	}

	logger.Debugf("Decoded %d samples from %s", total, s.file.Name())
	return total, framer.Flush(ctx)
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	return s.file.Close()
}

// DownmixInt averages interleaved integer samples into dst, scaling each by
// scale. It returns the number of mono samples written. A trailing partial
// frame is ignored.
func DownmixInt(dst []float64, in []int, channels int, scale float64) int {
	frames := min(len(in)/channels, len(dst))
	norm := scale / float64(channels)
	for i := range frames {
		var sum int
		for _, v := range in[i*channels : (i+1)*channels] {
			sum += v
		}
		dst[i] = float64(sum) * norm
	}
	return frames
}

// Downmix averages interleaved float32 samples into dst and returns the
// number of mono samples written.
func Downmix(dst []float64, in []float32, channels int) int {
	frames := min(len(in)/channels, len(dst))
	if channels == 1 {
		for i := range frames {
			dst[i] = float64(in[i])
		}
		return frames
	}
	norm := 1 / float64(channels)
	for i := range frames {
		var sum float64
		for _, v := range in[i*channels : (i+1)*channels] {
			sum += float64(v)
		}
		dst[i] = sum * norm
	}
	return frames
}
