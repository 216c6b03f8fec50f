// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	applog "melpipe/internal/log"
	"melpipe/internal/transport"
)

// HeaderSize is the fixed packet prefix: sequence, timestamp and count.
const HeaderSize = 4 + 8 + 2

// MaxValues is the largest vector a packet can carry.
const MaxValues = math.MaxUint16

var ErrShortPacket = errors.New("udp: short packet")

// packetSender is satisfied by *UDPSender.
type packetSender interface {
	Send(data []byte) error
	Close() error
}

// UDPPublisher packs feature frames into a binary format and sends them over
// UDP. With a positive interval a goroutine sends the most recent frame on
// every tick, so a fast pipeline is downsampled to the tick rate and a slow
// one is not repeated. With a zero interval every frame is sent from Send.
type UDPPublisher struct {
	log      *applog.Logger
	sender   packetSender
	interval time.Duration

	ticker   *time.Ticker   // Ticker that triggers packet sending.
	doneChan chan struct{}  // Signals the publisher goroutine to stop.
	stopOnce sync.Once      // Ensures the stop logic runs only once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the publisher goroutine to finish during Stop.
	mu       sync.Mutex     // Protects ticker, doneChan and the latest frame.

	latest  transport.Frame
	pending bool // latest has not been sent yet

	sequenceNum uint32 // Monotonically increasing sequence number for packets.

	// Reused between packets; only touched with mu held.
	f32Buffer    []float32
	packetBuffer *bytes.Buffer
}

// NewUDPPublisher creates a publisher over sender. A negative interval falls
// back to 16ms (~60Hz).
func NewUDPPublisher(interval time.Duration, sender packetSender) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}

	p := &UDPPublisher{
		log:          applog.Named("UDPPublisher"),
		sender:       sender,
		interval:     interval,
		packetBuffer: new(bytes.Buffer),
	}
	if interval < 0 {
		p.interval = 16 * time.Millisecond
		p.log.Warnf("Invalid interval provided, defaulting to %s", p.interval)
	}
	p.log.Infof("Initializing (Interval: %s)", p.interval)
	return p, nil
}

// Start begins periodic publishing. It is a no-op with a zero interval or
// when already running.
func (p *UDPPublisher) Start() {
	if p.interval == 0 {
		return
	}

	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		p.log.Warnf("Start called but already running.")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.log.Infof("Publisher goroutine started (Interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.mu.Lock()
				if p.pending {
					p.sendLocked(p.latest)
					p.pending = false
				}
				p.mu.Unlock()
			case <-doneChan:
				p.log.Infof("Publisher goroutine received stop signal.")
				return
			}
		}
	}()
}

// Stop signals the publisher goroutine to terminate and waits for it.
// It is safe to call Stop multiple times.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}

	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Infof("Publisher goroutine finished.")
	return nil
}

// Send publishes f immediately with a zero interval, otherwise it replaces
// the frame the next tick will send.
func (p *UDPPublisher) Send(f transport.Frame) error {
	if len(f.Values) > MaxValues {
		return fmt.Errorf("UDPPublisher: frame has %d values, packet limit is %d", len(f.Values), MaxValues)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.interval == 0 {
		return p.sendLocked(f)
	}
	p.latest.Seq = f.Seq
	p.latest.Timestamp = f.Timestamp
	p.latest.Kind = f.Kind
	p.latest.Values = append(p.latest.Values[:0], f.Values...)
	p.pending = true
	return nil
}

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Monotonically increasing|
| Timestamp         | int64          | 8            | Nanoseconds since epoch |
| Value Count       | uint16         | 2            | Number of floats (N)    |
| Values            | []float32      | N * 4        | Feature vector          |
+-----------------------------------------------------------------------------+

The sequence number counts packets, not pipeline frames, so a receiver can
detect datagram loss even when ticks skip frames.
*/

func (p *UDPPublisher) sendLocked(f transport.Frame) error {
	if cap(p.f32Buffer) < len(f.Values) {
		p.f32Buffer = make([]float32, len(f.Values))
	}
	vals := p.f32Buffer[:len(f.Values)]
	for i, v := range f.Values {
		vals[i] = float32(v)
	}

	p.sequenceNum++
	ts := f.Timestamp
	if ts == 0 {
		ts = time.Now().UnixNano()
	}

	p.packetBuffer.Reset()
	err := binary.Write(p.packetBuffer, binary.BigEndian, p.sequenceNum)
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, ts)
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, uint16(len(vals)))
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, vals)
	}
	if err != nil {
		p.log.Errorf("Error packing data into binary buffer: %v", err)
		return err
	}

	if err := p.sender.Send(p.packetBuffer.Bytes()); err != nil {
		return err
	}
	p.log.Debugf("Sent packet %d (%d bytes)", p.sequenceNum, p.packetBuffer.Len())
	return nil
}

// DecodePacket parses one datagram produced by UDPPublisher.
func DecodePacket(b []byte) (transport.Frame, error) {
	if len(b) < HeaderSize {
		return transport.Frame{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	f := transport.Frame{
		Seq:       binary.BigEndian.Uint32(b[0:4]),
		Timestamp: int64(binary.BigEndian.Uint64(b[4:12])),
	}
	n := int(binary.BigEndian.Uint16(b[12:14]))
	if len(b) < HeaderSize+4*n {
		return transport.Frame{}, fmt.Errorf("%w: %d values need %d bytes, have %d", ErrShortPacket, n, HeaderSize+4*n, len(b))
	}
	f.Values = make([]float64, n)
	for i := range f.Values {
		off := HeaderSize + 4*i
		f.Values[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(b[off : off+4])))
	}
	return f, nil
}

// Close stops the publisher goroutine and closes the sender.
func (p *UDPPublisher) Close() error {
	return errors.Join(p.Stop(), p.sender.Close())
}

var _ transport.Transport = (*UDPPublisher)(nil)
