// SPDX-License-Identifier: MIT
/*
Package audio acquires sample streams and cuts them into analysis frames:
- Live capture from an input device using PortAudio
- WAV file decoding for offline extraction
- Framing into a circular buffer shared with the processing task
- A peak-amplitude activity gate
- WAV recording of the raw live input

Thread Safety:
- A Framer has one producer: the audio callback or the file reader
- Frames reach the consumer through circbuf slots and a notification channel
- Pre-allocates buffers to avoid GC in the hot path
*/
package audio

import (
	"context"
	"fmt"
	"sync/atomic"

	"melpipe/internal/circbuf"
	"melpipe/internal/log"
)

var logger = log.Named("Audio")

// Framer slides a mono sample stream into frames of FrameLen samples, one
// every HopLen samples, and publishes each frame into a circular buffer.
type Framer struct {
	ring     *circbuf.Buffer[float64]
	frameLen int
	hopLen   int

	acc    []float64 // the most recent frameLen samples
	fill   int       // valid samples in acc
	fresh  int       // samples in acc not yet part of a published frame
	pos    int64     // stream index of acc[0]
	starts []int64   // stream index of the frame held by each slot

	notify chan struct{} // consumer wake-up, one pending signal at most
	space  chan struct{} // producer wake-up after a release

	frames   atomic.Uint64
	overruns atomic.Uint64
}

// NewFramer returns a framer publishing into ring, whose item size must be
// frameLen. hopLen must be in [1, frameLen].
func NewFramer(ring *circbuf.Buffer[float64], frameLen, hopLen int) (*Framer, error) {
	if ring == nil {
		return nil, fmt.Errorf("framer: nil buffer")
	}
	if frameLen < 1 || hopLen < 1 || hopLen > frameLen {
		return nil, fmt.Errorf("framer: invalid frame %d / hop %d", frameLen, hopLen)
	}
	if ring.ItemSize() != frameLen {
		return nil, fmt.Errorf("framer: buffer item size %d, frame length %d", ring.ItemSize(), frameLen)
	}
	return &Framer{
		ring:     ring,
		frameLen: frameLen,
		hopLen:   hopLen,
		acc:      make([]float64, frameLen),
		starts:   make([]int64, ring.ItemsCount()),
		notify:   make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
	}, nil
}

// Write frames samples without blocking. A frame that finds the buffer full
// is dropped and counted as an overrun. Write does not allocate and is
// meant for real-time callbacks.
func (f *Framer) Write(samples []float64) {
	_ = f.write(context.Background(), samples, false)
}

// WriteContext frames samples, waiting for the consumer to release a slot
// whenever the buffer is full. It returns ctx.Err() if ctx ends first.
func (f *Framer) WriteContext(ctx context.Context, samples []float64) error {
	return f.write(ctx, samples, true)
}

// Flush zero-pads and publishes the trailing samples that are not yet part
// of any frame, then restarts framing at the next stream position.
func (f *Framer) Flush(ctx context.Context) error {
	if f.fresh == 0 {
		return nil
	}
	clear(f.acc[f.fill:])
	if err := f.publish(ctx, true); err != nil {
		return err
	}
	f.pos += int64(f.fill)
	f.fill = 0
	return nil
}

func (f *Framer) write(ctx context.Context, samples []float64, block bool) error {
	for len(samples) > 0 {
		n := copy(f.acc[f.fill:], samples)
		f.fill += n
		f.fresh += n
		samples = samples[n:]
		if f.fill < f.frameLen {
			return nil
		}

		if err := f.publish(ctx, block); err != nil {
			return err
		}
		copy(f.acc, f.acc[f.hopLen:])
		f.fill -= f.hopLen
		f.pos += int64(f.hopLen)
	}
	return nil
}

func (f *Framer) publish(ctx context.Context, block bool) error {
	for {
		it, err := f.ring.GetFreeItemFromHead()
		if err == nil {
			copy(it.Data(), f.acc)
			f.starts[it.Index()] = f.pos
			if err := f.ring.SetItemReady(it); err != nil {
				return err
			}
			f.fresh = 0
			f.frames.Add(1)
			select {
			case f.notify <- struct{}{}:
			default:
			}
			return nil
		}

		if !block {
			f.fresh = 0
			if n := f.overruns.Add(1); n&(n-1) == 0 {
				logger.Warnf("Frame buffer full, dropped %d frames so far", n)
			}
			return nil
		}
		select {
		case <-f.space:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release returns a consumed item to the buffer and wakes a producer
// blocked in WriteContext.
func (f *Framer) Release(it *circbuf.Item[float64]) error {
	err := f.ring.ReleaseItem(it)
	select {
	case f.space <- struct{}{}:
	default:
	}
	return err
}

// Buffer returns the circular buffer frames are published into.
func (f *Framer) Buffer() *circbuf.Buffer[float64] {
	return f.ring
}

// Notify is signalled after each published frame. Signals coalesce, so a
// consumer must drain every ready item per wake-up.
func (f *Framer) Notify() <-chan struct{} {
	return f.notify
}

// FrameStart returns the stream index of the first sample of the frame in
// it. It is valid while the consumer holds the item.
func (f *Framer) FrameStart(it *circbuf.Item[float64]) int64 {
	return f.starts[it.Index()]
}

// FrameLen returns the frame length in samples.
func (f *Framer) FrameLen() int { return f.frameLen }

// HopLen returns the distance between frame starts in samples.
func (f *Framer) HopLen() int { return f.hopLen }

// Frames returns the number of frames published.
func (f *Framer) Frames() uint64 { return f.frames.Load() }

// Overruns returns the number of frames dropped because the buffer was full.
func (f *Framer) Overruns() uint64 { return f.overruns.Load() }
