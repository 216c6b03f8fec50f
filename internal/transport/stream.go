// SPDX-License-Identifier: MIT
package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

var ErrClosed = errors.New("transport: closed")

// StreamTransport writes each frame as one JSON object per line.
type StreamTransport struct {
	mu     sync.Mutex
	w      *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
	closed bool
}

// NewStreamTransport writes frames to w. If w is also an io.Closer it is
// closed by Close, unless it is one of the process standard streams the
// caller passes with keepOpen set.
func NewStreamTransport(w io.Writer, keepOpen bool) *StreamTransport {
	bw := bufio.NewWriter(w)
	st := &StreamTransport{w: bw, enc: json.NewEncoder(bw)}
	if c, ok := w.(io.Closer); ok && !keepOpen {
		st.closer = c
	}
	return st
}

// Send encodes f and flushes it so readers see whole lines.
func (st *StreamTransport) Send(f Frame) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return ErrClosed
	}
	if err := st.enc.Encode(f); err != nil {
		return fmt.Errorf("stream transport: encode frame %d: %w", f.Seq, err)
	}
	if err := st.w.Flush(); err != nil {
		return fmt.Errorf("stream transport: flush: %w", err)
	}
	return nil
}

// Close flushes pending output and closes the underlying writer if owned.
func (st *StreamTransport) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return nil
	}
	st.closed = true

	err := st.w.Flush()
	if st.closer != nil {
		err = errors.Join(err, st.closer.Close())
	}
	return err
}

var _ Transport = (*StreamTransport)(nil)
