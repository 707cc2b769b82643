package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/glcs-go/recorder/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage recorder configuration",
	Long:  `View and manage recorder configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current recorder configuration.`,
	Example: `  # Show configuration as YAML (default)
  recorder config show

  # Show configuration as JSON
  recorder config show --format json`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long:  `Set a specific configuration value.`,
	Example: `  # Set server port
  recorder config set server_port 9090

  # Set log level
  recorder config set log_level debug`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a configuration value",
	Long:  `Get a specific configuration value.`,
	Example: `  # Get server port
  recorder config get server_port

  # Get log level
  recorder config get log_level`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

var formatFlag string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg := configMgr.Get()

	switch formatFlag {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", formatFlag)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg := configMgr.Get()

	switch key {
	case "server_port":
		var port int
		if _, err := fmt.Sscanf(value, "%d", &port); err != nil {
			return fmt.Errorf("invalid port number: %s", value)
		}
		cfg.ServerPort = port
	case "log_level":
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[value] {
			return fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", value)
		}
		cfg.LogLevel = value
	case "virtual_display.width":
		if _, err := fmt.Sscanf(value, "%d", &cfg.VirtualDisplay.Width); err != nil {
			return fmt.Errorf("invalid number: %s", value)
		}
	case "virtual_display.height":
		if _, err := fmt.Sscanf(value, "%d", &cfg.VirtualDisplay.Height); err != nil {
			return fmt.Errorf("invalid number: %s", value)
		}
	case "virtual_display.refresh_hz":
		if _, err := fmt.Sscanf(value, "%d", &cfg.VirtualDisplay.RefreshHz); err != nil {
			return fmt.Errorf("invalid number: %s", value)
		}
	case "virtual_display.enabled":
		if _, err := fmt.Sscanf(value, "%t", &cfg.VirtualDisplay.Enabled); err != nil {
			return fmt.Errorf("invalid boolean: %s (use: true or false)", value)
		}
	case "pipeline.scale_factor":
		if _, err := fmt.Sscanf(value, "%f", &cfg.Pipeline.ScaleFactor); err != nil {
			return fmt.Errorf("invalid number: %s", value)
		}
	case "pipeline.target_fps":
		if _, err := fmt.Sscanf(value, "%f", &cfg.Pipeline.TargetFPS); err != nil {
			return fmt.Errorf("invalid number: %s", value)
		}
	case "pipeline.pixel_format":
		if value != "bgra" && value != "bgr" {
			return fmt.Errorf("invalid pixel format: %s (use: bgra or bgr)", value)
		}
		cfg.Pipeline.PixelFormat = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	if err := configMgr.Update(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("✅ Configuration updated: %s = %s\n", key, value)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg := configMgr.Get()

	switch key {
	case "server_port":
		fmt.Println(cfg.ServerPort)
	case "log_level":
		fmt.Println(cfg.LogLevel)
	case "virtual_display.width":
		fmt.Println(cfg.VirtualDisplay.Width)
	case "virtual_display.height":
		fmt.Println(cfg.VirtualDisplay.Height)
	case "virtual_display.refresh_hz":
		fmt.Println(cfg.VirtualDisplay.RefreshHz)
	case "virtual_display.enabled":
		fmt.Println(cfg.VirtualDisplay.Enabled)
	case "pipeline.scale_factor":
		fmt.Println(cfg.Pipeline.ScaleFactor)
	case "pipeline.target_fps":
		fmt.Println(cfg.Pipeline.TargetFPS)
	case "pipeline.pixel_format":
		fmt.Println(cfg.Pipeline.PixelFormat)
	default:
		return fmt.Errorf("configuration key not found: %s", key)
	}

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println(configMgr.GetConfigPath())
	return nil
}
