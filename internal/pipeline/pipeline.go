// SPDX-License-Identifier: MIT
/*
Package pipeline is the consumer side of the frame buffer. It takes READY
frames from the tail of the Framer's circular buffer, applies the activity
gate, computes a feature column and publishes it to a transport.

Thread Safety:
- Run owns the consumer side of one Framer
- Drain must not be called concurrently with Run
- Counters are atomic and may be read from any goroutine
*/
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"melpipe/internal/audio"
	"melpipe/internal/circbuf"
	"melpipe/internal/feature"
	"melpipe/internal/log"
	"melpipe/internal/transport"
)

var logger = log.Named("Pipeline")

// Config holds the optional parts of a Pipeline.
type Config struct {
	// SampleRate converts frame start positions into timestamps.
	SampleRate float64

	// Gate drops inactive frames. Nil passes every frame.
	Gate *audio.Gate

	// Epoch is the wall-clock time of sample zero. When zero, frame
	// timestamps are offsets from the start of the stream.
	Epoch time.Time
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	Processed  uint64 // frames extracted and sent
	Gated      uint64 // frames dropped by the gate
	SendErrors uint64 // frames the transport rejected
}

// Pipeline turns framed audio into feature frames.
type Pipeline struct {
	framer    *audio.Framer
	extractor feature.Extractor
	out       transport.Transport
	gate      *audio.Gate

	kind       string
	sampleRate float64
	epoch      int64

	// Pre-allocated output column, reused for every frame.
	values []float64
	seq    uint32

	processed  atomic.Uint64
	gated      atomic.Uint64
	sendErrors atomic.Uint64
}

// New returns a pipeline reading from framer, extracting with ext and
// sending to out.
func New(framer *audio.Framer, ext feature.Extractor, out transport.Transport, cfg Config) (*Pipeline, error) {
	switch {
	case framer == nil:
		return nil, errors.New("pipeline: nil framer")
	case ext == nil:
		return nil, errors.New("pipeline: nil extractor")
	case out == nil:
		return nil, errors.New("pipeline: nil transport")
	case !(cfg.SampleRate > 0):
		return nil, fmt.Errorf("pipeline: invalid sample rate %g", cfg.SampleRate)
	}

	p := &Pipeline{
		framer:     framer,
		extractor:  ext,
		out:        out,
		gate:       cfg.Gate,
		kind:       ext.Kind().String(),
		sampleRate: cfg.SampleRate,
		values:     make([]float64, ext.Size()),
	}
	if !cfg.Epoch.IsZero() {
		p.epoch = cfg.Epoch.UnixNano()
	}
	return p, nil
}

// Run processes frames as the Framer publishes them until ctx is done, then
// drains what is left. Cancellation is not an error. Run returns early only
// if the buffer protocol or the extractor fails.
func (p *Pipeline) Run(ctx context.Context) error {
	logger.Debugf("Started (%s, %d values per frame)", p.kind, len(p.values))
	defer logger.Debugf("Stopped")

	for {
		select {
		case <-p.framer.Notify():
			if _, err := p.Drain(); err != nil {
				return err
			}
		case <-ctx.Done():
			_, err := p.Drain()
			return err
		}
	}
}

// Drain processes every frame currently READY and returns how many it took
// from the buffer, gated frames included.
func (p *Pipeline) Drain() (int, error) {
	ring := p.framer.Buffer()
	n := 0
	for {
		it, err := ring.GetReadyItemFromTail()
		if errors.Is(err, circbuf.ErrNoReadyItem) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++

		perr := p.process(it.Data(), p.framer.FrameStart(it))
		if err := p.framer.Release(it); err != nil {
			return n, fmt.Errorf("pipeline: release: %w", err)
		}
		if perr != nil {
			return n, perr
		}
	}
}

func (p *Pipeline) process(frame []float64, start int64) error {
	if p.gate != nil && !p.gate.Open(frame) {
		p.gated.Add(1)
		return nil
	}

	if err := p.extractor.Extract(frame, p.values); err != nil {
		return fmt.Errorf("pipeline: extract: %w", err)
	}

	f := transport.Frame{
		Seq:       p.seq,
		Timestamp: p.timestamp(start),
		Kind:      p.kind,
		Values:    p.values,
	}
	p.seq++
	p.processed.Add(1)

	if err := p.out.Send(f); err != nil {
		if n := p.sendErrors.Add(1); n&(n-1) == 0 {
			logger.Warnf("Send failed (%d errors so far): %v", n, err)
		}
	}
	return nil
}

// timestamp converts a stream sample index to nanoseconds.
func (p *Pipeline) timestamp(start int64) int64 {
	return p.epoch + int64(float64(start)*float64(time.Second)/p.sampleRate)
}

// Stats returns the current counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Processed:  p.processed.Load(),
		Gated:      p.gated.Load(),
		SendErrors: p.sendErrors.Load(),
	}
}

// Size returns the number of values in each published frame.
func (p *Pipeline) Size() int {
	return len(p.values)
}
