// SPDX-License-Identifier: MIT
package transport

import (
	"sync/atomic"

	applog "melpipe/internal/log"
)

// LoggingTransport implements the Transport interface by logging a one line
// summary of every frame at debug level.
type LoggingTransport struct {
	log  *applog.Logger
	sent atomic.Uint64
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	lt := &LoggingTransport{log: applog.Named("LogTransport")}
	lt.log.Infof("Using LoggingTransport")
	return lt
}

// Send logs the frame. It never fails.
func (lt *LoggingTransport) Send(f Frame) error {
	lt.sent.Add(1)
	if !applog.Enabled(applog.LevelDebug) || len(f.Values) == 0 {
		return nil
	}

	peak := 0
	for i, v := range f.Values {
		if v > f.Values[peak] {
			peak = i
		}
	}
	lt.log.Debugf("frame %d (%s): %d values, peak %.4g at %d", f.Seq, f.Kind, len(f.Values), f.Values[peak], peak)
	return nil
}

// Sent returns the number of frames received.
func (lt *LoggingTransport) Sent() uint64 {
	return lt.sent.Load()
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	lt.log.Infof("Close called after %d frames", lt.sent.Load())
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
