// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/sync/errgroup"

	"melpipe/internal/audio"
	"melpipe/internal/circbuf"
	"melpipe/internal/config"
	"melpipe/internal/feature"
	"melpipe/internal/melfb"
	"melpipe/internal/pipeline"
	"melpipe/internal/transport"
	"melpipe/internal/transport/udp"
	"melpipe/internal/tui"
)

// stage is the framing and extraction half of a run.
type stage struct {
	framer    *audio.Framer
	extractor feature.Extractor
	gate      *audio.Gate
}

func newStage(cfg *config.Config) (*stage, error) {
	fc, err := cfg.Extractor()
	if err != nil {
		return nil, err
	}
	ext, err := feature.New(fc)
	if err != nil {
		return nil, err
	}

	frameLen := cfg.Features.FrameLen
	ring, err := circbuf.NewWithPool[float64](cfg.Buffer.Items, frameLen)
	if err != nil {
		return nil, err
	}
	framer, err := audio.NewFramer(ring, frameLen, cfg.Features.HopLen)
	if err != nil {
		return nil, err
	}

	var gate *audio.Gate
	if cfg.Gate.Enabled {
		gate = audio.NewGate(true, cfg.Gate.Threshold)
	}
	return &stage{framer: framer, extractor: ext, gate: gate}, nil
}

// outputs builds the configured network transports on top of base.
func outputs(cfg *config.Config, base ...transport.Transport) (*transport.Multi, error) {
	out := transport.NewMulti(base...)
	t := cfg.Transport

	if t.LogFrames {
		out.Add(transport.NewLoggingTransport())
	}
	if t.UDPEnabled {
		sender, err := udp.NewUDPSender(t.UDPTargetAddress)
		if err != nil {
			return nil, errors.Join(err, out.Close())
		}
		pub, err := udp.NewUDPPublisher(t.UDPSendInterval, sender)
		if err != nil {
			return nil, errors.Join(err, sender.Close(), out.Close())
		}
		pub.Start()
		out.Add(pub)
	}
	if t.WSEnabled {
		ws, err := transport.NewWebSocketTransport(t.WSAddress)
		if err != nil {
			return nil, errors.Join(err, out.Close())
		}
		logger.Infof("WebSocket clients can connect to ws://%s/ws", ws.Addr())
		out.Add(ws)
	}
	return out, nil
}

// openOutput returns the JSON lines destination: stdout for "-", otherwise
// a created file.
func openOutput(path string, stdout io.Writer) (transport.Transport, error) {
	if path == "" || path == "-" {
		return transport.NewStreamTransport(stdout, true), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return transport.NewStreamTransport(f, false), nil
}

// runExtract streams features for a WAV file. The file's sample rate
// replaces the configured one.
func runExtract(ctx context.Context, cfg *config.Config, path, output string, stdout io.Writer) (pipeline.Stats, error) {
	src, err := audio.OpenFile(path)
	if err != nil {
		return pipeline.Stats{}, err
	}
	defer src.Close()

	cfg.Audio.SampleRate = src.SampleRate()
	if err := cfg.Validate(); err != nil {
		return pipeline.Stats{}, fmt.Errorf("%s: %w", path, err)
	}

	st, err := newStage(cfg)
	if err != nil {
		return pipeline.Stats{}, err
	}
	sink, err := openOutput(output, stdout)
	if err != nil {
		return pipeline.Stats{}, err
	}
	out, err := outputs(cfg, sink)
	if err != nil {
		return pipeline.Stats{}, err
	}

	p, err := pipeline.New(st.framer, st.extractor, out, pipeline.Config{
		SampleRate: src.SampleRate(),
		Gate:       st.gate,
	})
	if err != nil {
		return pipeline.Stats{}, errors.Join(err, out.Close())
	}

	start := time.Now()
	var samples int64
	g, gctx := errgroup.WithContext(ctx)
	pctx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		return p.Run(pctx)
	})
	g.Go(func() error {
		// The pipeline drains the last frames once the reader is done.
		defer stop()
		var err error
		samples, err = src.Run(gctx, st.framer)
		return err
	})

	err = g.Wait()
	stats := p.Stats()
	logger.Infof("%s: %d samples, %d frames (%d gated) in %s",
		path, samples, stats.Processed, stats.Gated, time.Since(start).Round(time.Millisecond))
	return stats, errors.Join(err, out.Close())
}

// runLive captures from an input device until ctx ends or the monitor quits.
func runLive(ctx context.Context, cfg *config.Config, monitor, pick bool, stdout io.Writer) error {
	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()

	if pick {
		sel, err := tui.PickDevice(audio.HostDevices)
		if err != nil {
			return err
		}
		cfg.Audio.InputDevice = sel.DeviceID
		cfg.Audio.SampleRate = sel.SampleRate
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger.Infof("Selected %s at %.0f Hz", sel.Name, sel.SampleRate)
	}

	st, err := newStage(cfg)
	if err != nil {
		return err
	}

	var base []transport.Transport
	var mon *tui.Monitor
	switch {
	case monitor:
		mon = tui.NewMonitor()
		base = append(base, mon)
	case !cfg.Transport.UDPEnabled && !cfg.Transport.WSEnabled:
		base = append(base, transport.NewStreamTransport(stdout, true))
	}
	out, err := outputs(cfg, base...)
	if err != nil {
		return err
	}

	var recorder *audio.Recorder
	if cfg.Recording.Enabled {
		recorder = audio.NewRecorder(cfg.Audio.SampleRate, cfg.Audio.InputChannels, cfg.Recording.BitDepth)
	}
	engine, err := audio.NewEngine(cfg.Audio, st.framer, recorder)
	if err != nil {
		return errors.Join(err, out.Close())
	}

	epoch := time.Now()
	p, err := pipeline.New(st.framer, st.extractor, out, pipeline.Config{
		SampleRate: cfg.Audio.SampleRate,
		Gate:       st.gate,
		Epoch:      epoch,
	})
	if err != nil {
		return errors.Join(err, out.Close())
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx)
	}()

	// CRITICAL: Start of real-time audio processing
	// The first call to StartInputStream triggers PortAudio to begin
	// calling the callback function, marking the start of the hot path
	if err := engine.StartInputStream(); err != nil {
		stop()
		return errors.Join(err, <-done, out.Close())
	}

	var recordingPath string
	if recorder != nil {
		recordingPath = audio.RecordingFilename(cfg.Recording.OutputDir, epoch)
		if err := recorder.StartRecording(recordingPath); err != nil {
			logger.Errorf("Recording disabled: %v", err)
			recordingPath = ""
		}
	}

	var uiErr, runErr error
	stopped := false
	if mon != nil {
		labels := bandLabels(st.extractor)
		title := fmt.Sprintf("melpipe • %s • %.0f Hz", st.extractor.Kind(), cfg.Audio.SampleRate)
		uiErr = tui.RunMonitor(ctx, mon, title, labels)
	} else {
		// The pipeline only stops before ctx on failure.
		select {
		case <-ctx.Done():
		case runErr = <-done:
			stopped = true
		}
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================
	engineErr := engine.Close()
	if recordingPath != "" {
		logger.Infof("Recording saved to: %s", recordingPath)
	}
	stop()
	if !stopped {
		runErr = <-done
	}

	stats := p.Stats()
	logger.Infof("%d frames (%d gated, %d send errors), %d overruns",
		stats.Processed, stats.Gated, stats.SendErrors, st.framer.Overruns())
	return errors.Join(uiErr, engineErr, runErr, out.Close())
}

// bandLabels names the monitor rows after the mel band centres when the
// extractor's rows are mel bands.
func bandLabels(ext feature.Extractor) []string {
	var fb *melfb.Filterbank
	switch e := ext.(type) {
	case *feature.MelSpectrogram:
		fb = e.Filterbank()
	case *feature.LogMel:
		fb = e.Filterbank()
	default:
		return nil
	}
	centers := make([]float64, fb.NumMels())
	for i, b := range fb.Bands() {
		centers[i] = b.CenterHz
	}
	return tui.HzLabels(centers)
}

// printFilterbank writes one table row per mel band.
func printFilterbank(w io.Writer, cfg *config.Config) error {
	mc, err := cfg.Features.MelConfig(cfg.Audio.SampleRate)
	if err != nil {
		return err
	}
	fb, err := melfb.New(mc)
	if err != nil {
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Band", "Lower Hz", "Center Hz", "Upper Hz", "Bins", "Weights")
	for i, b := range fb.Bands() {
		bins := "-"
		if b.HasBins() {
			bins = fmt.Sprintf("%d-%d", b.Start, b.Stop)
		}
		t.Row(
			fmt.Sprint(i),
			fmt.Sprintf("%.1f", b.LowerHz),
			fmt.Sprintf("%.1f", b.CenterHz),
			fmt.Sprintf("%.1f", b.UpperHz),
			bins,
			fmt.Sprint(b.Count),
		)
	}

	_, err = fmt.Fprintf(w, "%d %s bands, %.0f-%.0f Hz, FFT %d at %.0f Hz, %d weights\n%s\n",
		fb.NumMels(), mc.Formula, mc.FMin, mc.FMax, mc.FFTLen, mc.SampleRate, fb.Len(), t.Render())
	return err
}
