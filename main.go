// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"melpipe/cmd"
	"melpipe/internal/log"
	"melpipe/pkg/build"
)

// main is the entry point for the feature extraction pipeline.
//
// 1. Startup Phase (Cold Path):
//   - Resolve build information
//   - Configure runtime settings
//   - Parse command line arguments and load the configuration
//
// 2. Concurrent Phase (Hot Path):
//   - One producer (audio callback or WAV reader) fills the frame buffer
//   - One consumer extracts features and publishes them
//
// 3. Shutdown Phase (Cold Path):
//   - SIGINT/SIGTERM cancel the context
//   - The consumer drains the remaining frames and transports are closed
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		log.Debugf("%v", err)
	}

	// Limit OS threads to optimize for real-time audio processing:
	// - One thread dedicated to audio engine (time-critical)
	// - One thread for feature extraction, UI and I/O
	runtime.GOMAXPROCS(2)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ==================== CONCURRENT PHASE (Hot Path) ====================
	err := cmd.Execute(ctx)

	// ==================== SHUTDOWN PHASE (Cold Path) ====================
	if err != nil && !errors.Is(err, context.Canceled) {
		stop()
		log.Fatalf("%v", err)
	}
}
