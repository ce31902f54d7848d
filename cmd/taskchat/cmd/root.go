package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"taskchat/internal/app"
	"taskchat/internal/logging"
)

var (
	configDir string
	logLevel  string
	logPretty bool
)

var rootCmd = &cobra.Command{
	Use:   "taskchat",
	Short: "Room-based team chat over WebSocket",
	Long: `taskchat runs the chat server, the terminal client, or both at once.

Available commands:
  serve     Run the HTTP/WebSocket server
  client    Open the terminal client against a running server
  local     Start a private server and open the client against it
  seed      Insert demo users and messages
  version   Print the version

Configuration is read from taskchat.yaml, .env and TASKCHAT_* variables.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "directory containing taskchat.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "pretty", false, "human-readable console logs")
}

// loadConfig reads the config and applies the persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*app.Config, error) {
	cfg, err := app.LoadConfig(configDir)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("pretty") {
		cfg.Log.Pretty = logPretty
	}
	return cfg, nil
}

// initLogging installs the global logger. The TUI owns the terminal, so
// commands that start it pass quiet and logs are dropped.
func initLogging(cfg *app.Config, quiet bool) {
	logCfg := cfg.Log
	if quiet {
		logCfg.Output = io.Discard
	}
	logging.Init(logCfg)
}
