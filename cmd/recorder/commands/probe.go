package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/glcs-go/recorder/internal/clock"
	"github.com/glcs-go/recorder/internal/config"
	"github.com/glcs-go/recorder/internal/glcapture"
	"github.com/glcs-go/recorder/internal/info"
	"github.com/glcs-go/recorder/internal/logger"
	"github.com/glcs-go/recorder/internal/pbuf"
	"github.com/glcs-go/recorder/internal/state"
	"github.com/glcs-go/recorder/internal/wire"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	probeBackend string
	probeLevel   int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Capture a surface and print per-stream statistics instead of writing an output",
	Long: `probe wires the same capture stage record uses, but drains the resulting
buffer with a diagnostic printer instead of an output sink: a running fps
and byte-rate summary while it captures, and a final per-stream summary
when interrupted.`,
	Example: `  # Watch fps for the default X11 surface
  recorder probe

  # More detail, from a PipeWire session
  recorder probe --backend pipewire --level 4`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().StringVar(&probeBackend, "backend", "x11", "capture backend (x11 or pipewire)")
	probeCmd.Flags().IntVar(&probeLevel, "level", int(info.LevelFPS), "verbosity (1=summary .. 5=verbose)")
}

func runProbe(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			configMgr.SetLogLevel(level)
		}
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, true)
	log := logger.WithComponent("probe")
	pcfg := configMgr.GetPipeline()

	surf, closeSurf, err := openSurface(probeBackend)
	if err != nil {
		return fmt.Errorf("open capture surface: %w", err)
	}
	defer closeSurf()

	buf := pbuf.New(pcfg.CaptureBuffer)
	cancel := state.NewFlag()

	capStage := glcapture.New(clock.New())
	if err := capStage.SetBuffer(buf); err != nil {
		return err
	}
	if err := capStage.SetFPS(pcfg.TargetFPS); err != nil {
		return err
	}
	format := wire.PixBGRA
	if pcfg.PixelFormat == "bgr" {
		format = wire.PixBGR
	}
	if err := capStage.SetPixelFormat(format); err != nil {
		return err
	}
	if err := capStage.Start(); err != nil {
		return fmt.Errorf("start capture stage: %w", err)
	}

	printer := info.NewPrinter(os.Stdout, info.Level(probeLevel))
	printErr := make(chan error, 1)
	go func() { printErr <- printer.Run(buf, cancel) }()

	loop := newFrameLoop(capStage, surf, pcfg.TargetFPS, cancel)
	go loop.run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Info().Str("backend", probeBackend).Msg("probing, press Ctrl+C to stop")

	select {
	case <-sigChan:
	case err := <-printErr:
		if err != nil {
			log.Error().Err(err).Msg("printer exited")
		}
	}

	cancel.Cancel()
	loop.stop()
	buf.CancelBuffer()
	capStage.Destroy()
	return nil
}

