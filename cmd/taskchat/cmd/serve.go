package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"taskchat/internal/app"
)

var serveFlags struct {
	addr     string
	wsPath   string
	dbDriver string
	dbDSN    string
	relay    string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP/WebSocket chat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		applyServeFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		initLogging(cfg, false)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		handle, err := app.RunServer(ctx, cfg)
		if err != nil {
			return err
		}
		if err := handle.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.StringVar(&serveFlags.addr, "addr", "", "listen address (default from config, :8080)")
	flags.StringVar(&serveFlags.wsPath, "ws-path", "", "websocket path prefix (default /ws/chat/)")
	flags.StringVar(&serveFlags.dbDriver, "db-driver", "", "database driver: sqlite or postgres")
	flags.StringVar(&serveFlags.dbDSN, "db", "", "sqlite path or postgres DSN")
	flags.StringVar(&serveFlags.relay, "relay", "", "cross-instance relay: none or redis")
	rootCmd.AddCommand(serveCmd)
}

func applyServeFlags(cmd *cobra.Command, cfg *app.Config) {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Server.Addr = serveFlags.addr
	}
	if flags.Changed("ws-path") {
		cfg.Server.WSPath = serveFlags.wsPath
	}
	if flags.Changed("db-driver") {
		cfg.Database.Driver = serveFlags.dbDriver
	}
	if flags.Changed("db") {
		cfg.Database.DSN = serveFlags.dbDSN
	}
	if flags.Changed("relay") {
		cfg.Relay.Driver = serveFlags.relay
	}
}
