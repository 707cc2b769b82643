package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/glcs-go/recorder/internal/api"
	"github.com/glcs-go/recorder/internal/clock"
	"github.com/glcs-go/recorder/internal/config"
	"github.com/glcs-go/recorder/internal/glcapture"
	"github.com/glcs-go/recorder/internal/logger"
	"github.com/glcs-go/recorder/internal/output"
	"github.com/glcs-go/recorder/internal/pbuf"
	"github.com/glcs-go/recorder/internal/scale"
	"github.com/glcs-go/recorder/internal/state"
	"github.com/glcs-go/recorder/internal/wire"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	recordBackend string
	recordOutput  string
	recordDir     string
	recordPipe    string
	recordServe   bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Capture a surface and stream it through the resample/output pipeline",
	Long: `record wires a capture surface (X11 root window or PipeWire ScreenCast
stream) into the capture stage, resamples it through the scale stage, and
drains the result into the selected output.`,
	Example: `  # Stream an X11 desktop over HTTP MJPEG on :8080/stream
  recorder record --backend x11 --output mjpeg --serve

  # Capture a Wayland session via the desktop portal to numbered JPEGs
  recorder record --backend pipewire --output file --dir ./frames

  # Feed a named pipe for an external encoder
  mkfifo /tmp/recorder.raw
  recorder record --output pipe --pipe /tmp/recorder.raw`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().StringVar(&recordBackend, "backend", "x11", "capture backend (x11 or pipewire)")
	recordCmd.Flags().StringVar(&recordOutput, "output", "mjpeg", "output sink (mjpeg, file, or pipe)")
	recordCmd.Flags().StringVar(&recordDir, "dir", "./recordings", "output directory for the file sink")
	recordCmd.Flags().StringVar(&recordPipe, "pipe", "", "path to a named pipe for the pipe sink")
	recordCmd.Flags().BoolVar(&recordServe, "serve", true, "also start the pipeline health/stats HTTP API alongside mjpeg output")
}

func runRecord(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			configMgr.SetPort(port)
		}
	}
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			configMgr.SetLogLevel(level)
		}
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, true)
	log := logger.WithComponent("record")
	pcfg := configMgr.GetPipeline()

	surf, closeSurf, err := openSurface(recordBackend)
	if err != nil {
		return fmt.Errorf("open capture surface: %w", err)
	}
	defer closeSurf()

	sink, err := buildOutput(recordOutput, cfg)
	if err != nil {
		return err
	}

	capBuf := pbuf.New(pcfg.CaptureBuffer)
	scaleBuf := pbuf.New(pcfg.ScaleBuffer)
	cancel := state.NewFlag()

	capStage := glcapture.New(clock.New())
	if err := capStage.SetBuffer(capBuf); err != nil {
		return err
	}
	if err := capStage.SetFPS(pcfg.TargetFPS); err != nil {
		return err
	}
	if err := capStage.SetPackAlignment(pcfg.PackAlignment); err != nil {
		return err
	}
	format := wire.PixBGRA
	if pcfg.PixelFormat == "bgr" {
		format = wire.PixBGR
	}
	if err := capStage.SetPixelFormat(format); err != nil {
		return err
	}
	if err := capStage.TryAsyncTransfer(pcfg.TryAsyncTransfer); err != nil {
		return err
	}
	capStage.SetDrawIndicator(pcfg.DrawIndicator)
	if pcfg.Crop.W > 0 && pcfg.Crop.H > 0 {
		capStage.SetCrop(uint32(pcfg.Crop.X), uint32(pcfg.Crop.Y), uint32(pcfg.Crop.W), uint32(pcfg.Crop.H))
	}
	if err := capStage.Init(); err != nil {
		return err
	}
	if err := capStage.Start(); err != nil {
		return fmt.Errorf("start capture stage: %w", err)
	}

	scaleStage := scale.New(pcfg.ScaleFactor)
	threads := pcfg.ScaleThreads
	if threads <= 0 {
		threads = 1
	}
	if err := scaleStage.SetPipeline(threads, capBuf, scaleBuf, cancel); err != nil {
		return err
	}
	if err := scaleStage.Init(); err != nil {
		return err
	}
	if err := scaleStage.Start(); err != nil {
		return fmt.Errorf("start scale stage: %w", err)
	}

	if err := sink.Start(); err != nil {
		return fmt.Errorf("start output: %w", err)
	}

	consumeErr := make(chan error, 1)
	go func() { consumeErr <- sink.Consume(scaleBuf, cancel) }()

	captureLoop := newFrameLoop(capStage, surf, pcfg.TargetFPS, cancel)
	go captureLoop.run()

	var apiServer *api.Server
	if recordServe {
		apiServer = api.NewServer(nil, configMgr)
		apiServer.SetPipeline(capStage, scaleStage)
		if mjpeg, ok := sink.(*output.MJPEGOutput); ok {
			apiServer.MountMJPEG(mjpeg)
		}
		go func() {
			if err := apiServer.Start(cfg.ServerPort); err != nil {
				log.Error().Err(err).Msg("pipeline HTTP server exited")
			}
		}()
		log.Info().Int("port", cfg.ServerPort).Msg("pipeline HTTP endpoint listening")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Info().Str("backend", recordBackend).Str("output", recordOutput).Msg("recording started, press Ctrl+C to stop")

	select {
	case <-sigChan:
		log.Info().Msg("shutting down")
	case err := <-consumeErr:
		if err != nil {
			log.Error().Err(err).Msg("output consumer exited")
		}
	}

	cancel.Cancel()
	captureLoop.stop()
	capBuf.CancelBuffer()
	scaleBuf.CancelBuffer()
	capStage.Destroy()
	scaleStage.Destroy()
	sink.Stop()
	if apiServer != nil {
		apiServer.Close()
	}
	return nil
}

func buildOutput(kind string, cfg *config.Config) (output.Output, error) {
	switch kind {
	case "mjpeg":
		return output.NewMJPEGOutput(output.Config{
			Width:  cfg.VirtualDisplay.Width,
			Height: cfg.VirtualDisplay.Height,
			FPS:    cfg.VirtualDisplay.FPS,
		}), nil
	case "file":
		return output.NewFileOutput(recordDir, 85), nil
	case "pipe":
		if recordPipe == "" {
			return nil, fmt.Errorf("--pipe is required for the pipe output")
		}
		f, err := os.OpenFile(recordPipe, os.O_WRONLY, 0)
		if err != nil {
			return nil, fmt.Errorf("open pipe %s: %w", recordPipe, err)
		}
		return output.NewPipeOutput(f), nil
	default:
		return nil, fmt.Errorf("unknown output sink: %s (use mjpeg, file, or pipe)", kind)
	}
}
