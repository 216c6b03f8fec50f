// SPDX-License-Identifier: MIT
package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"melpipe/internal/audio"
	"melpipe/internal/config"
	"melpipe/internal/log"
	"melpipe/pkg/build"
)

var logger = log.Named("CLI")

// options holds flag values. A flag only overrides the configuration file
// when it was set on the command line.
type options struct {
	configPath string
	logLevel   string
	kind       string
	sampleRate float64
	numMels    int
	fftLen     int

	// extract
	output string

	// live
	device     int
	channels   int
	lowLatency bool
	record     bool
	gate       float64
	tui        bool
	pick       bool

	// transports
	udpAddr string
	wsAddr  string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	info := build.Get()
	o := &options{}

	rootCmd := &cobra.Command{
		Use:           info.Name,
		Short:         info.Description,
		Version:       info.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
	}
	rootCmd.SetVersionTemplate(info.String() + "\n")

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", "",
		"Path to a YAML configuration file (default ./config.yaml when present)")
	pf.StringVar(&o.logLevel, "log-level", "",
		"Log level: debug, info, warn or error")
	pf.StringVarP(&o.kind, "kind", "k", "",
		"Feature kind: spectrogram, mel, logmel or mfcc")
	pf.Float64VarP(&o.sampleRate, "sample-rate", "s", 0,
		"Sample rate, measured in Hertz (Hz)")
	pf.IntVar(&o.numMels, "mels", 0,
		"Number of mel bands")
	pf.IntVar(&o.fftLen, "fft-len", 0,
		"FFT length, a power of two (0 rounds the frame length up)")

	addTransportFlags := func(fs *pflag.FlagSet) {
		fs.StringVar(&o.udpAddr, "udp", "",
			"Also send binary frames to this UDP host:port")
		fs.StringVar(&o.wsAddr, "ws", "",
			"Also broadcast JSON frames to WebSocket clients on this listen address")
	}

	// Extract command
	extractCmd := &cobra.Command{
		Use:   "extract <file.wav>",
		Short: "Extract features from a WAV file as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load(cmd.Flags())
			if err != nil {
				return err
			}
			_, err = runExtract(cmd.Context(), cfg, args[0], o.output, cmd.OutOrStdout())
			return err
		},
	}
	extractCmd.Flags().StringVarP(&o.output, "output", "o", "-",
		"Output file, - for stdout")
	addTransportFlags(extractCmd.Flags())
	rootCmd.AddCommand(extractCmd)

	// Live command
	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "Extract features from an input device until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load(cmd.Flags())
			if err != nil {
				return err
			}
			return runLive(cmd.Context(), cfg, o.tui, o.pick, cmd.OutOrStdout())
		},
	}
	lf := liveCmd.Flags()
	lf.IntVarP(&o.device, "device", "d", config.MinDeviceID,
		"Input device ID. Use the 'devices' command to see available devices.")
	lf.IntVar(&o.channels, "channels", 1,
		"Number of channels to capture (downmixed to mono)")
	lf.BoolVarP(&o.lowLatency, "low-latency", "l", false,
		"Use low latency mode for real-time processing")
	lf.BoolVarP(&o.record, "record", "r", false,
		"Record the raw input to a WAV file in the recording directory")
	lf.Float64Var(&o.gate, "gate", 0,
		"Enable the activity gate with this peak threshold in [0, 1]")
	lf.BoolVarP(&o.tui, "tui", "t", false,
		"Show a terminal monitor of the feature frames")
	lf.BoolVarP(&o.pick, "pick", "p", false,
		"Choose the input device and sample rate interactively")
	addTransportFlags(lf)
	rootCmd.AddCommand(liveCmd)

	// Devices command
	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := audio.Initialize(); err != nil {
				return err
			}
			defer audio.Terminate()
			return audio.ListDevices(cmd.OutOrStdout())
		},
	}
	rootCmd.AddCommand(devicesCmd)

	// Filterbank command
	filterbankCmd := &cobra.Command{
		Use:   "filterbank",
		Short: "Print the mel band layout of the configured filterbank",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load(cmd.Flags())
			if err != nil {
				return err
			}
			return printFilterbank(cmd.OutOrStdout(), cfg)
		},
	}
	rootCmd.AddCommand(filterbankCmd)

	return rootCmd
}

// Execute runs the CLI with the process arguments.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// load reads the configuration file, applies the flags that were set and
// validates the result.
func (o *options) load(fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}

	if fs.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if fs.Changed("kind") {
		cfg.Features.Kind = o.kind
	}
	if fs.Changed("sample-rate") {
		cfg.Audio.SampleRate = o.sampleRate
	}
	if fs.Changed("mels") {
		cfg.Features.Mel.NumMels = o.numMels
	}
	if fs.Changed("fft-len") {
		cfg.Features.FFTLen = o.fftLen
	}
	if fs.Changed("device") {
		cfg.Audio.InputDevice = o.device
	}
	if fs.Changed("channels") {
		cfg.Audio.InputChannels = o.channels
	}
	if fs.Changed("low-latency") {
		cfg.Audio.LowLatency = o.lowLatency
	}
	if fs.Changed("record") {
		cfg.Recording.Enabled = o.record
	}
	if fs.Changed("gate") {
		cfg.Gate.Enabled = true
		cfg.Gate.Threshold = o.gate
	}
	if fs.Changed("udp") {
		cfg.Transport.UDPEnabled = true
		cfg.Transport.UDPTargetAddress = o.udpAddr
	}
	if fs.Changed("ws") {
		cfg.Transport.WSEnabled = true
		cfg.Transport.WSAddress = o.wsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if level, ok := log.ParseLevel(cfg.LogLevel); ok {
		log.SetLevel(level)
	}
	logger.Debugf("Configuration: %s features, %.0f Hz, frame %d / hop %d",
		cfg.Features.Kind, cfg.Audio.SampleRate, cfg.Features.FrameLen, cfg.Features.HopLen)
	return cfg, nil
}
