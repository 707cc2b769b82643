package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "recorder",
		Short: "recorder - screen and audio capture pipeline",
		Long: `recorder samples a capture surface (an X11 root window or a PipeWire
ScreenCast stream), resamples it through a software scaler, and republishes
the result on a configurable output: an MJPEG HTTP stream, numbered JPEG
files on disk, or a raw framed pipe for an external encoder.

Which window is eligible to be captured is governed by the same
allowlist/pattern configuration this binary has always exposed; the
capture pipeline itself is otherwise window-focus-agnostic.`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/focusstreamer/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path passed via --config.
func GetConfigFile() string {
	return cfgFile
}
