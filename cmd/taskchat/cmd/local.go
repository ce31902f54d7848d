package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskchat/internal/app"
)

var localFlags struct {
	addr     string
	db       string
	username string
	seed     bool
}

var localCmd = &cobra.Command{
	Use:   "local [room]",
	Short: "Start a private server and open the client against it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.Server.Addr = localFlags.addr
		cfg.Relay.Driver = app.RelayDriverNone
		if localFlags.db != "" {
			cfg.Database.DSN = localFlags.db
		}
		initLogging(cfg, true)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if localFlags.seed {
			if err := seedDatabase(ctx, cfg); err != nil {
				return err
			}
		}

		handle, err := app.RunServer(ctx, cfg)
		if err != nil {
			return err
		}
		defer stopServer(handle)

		if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
			return err
		}

		clientErr := app.RunClient(app.ClientConfig{
			ServerURL: app.WebsocketURL(handle.Addr(), cfg.Server.WSPath),
			Username:  localFlags.username,
			RoomKey:   roomArg(args),
		})
		stopServer(handle)
		if clientErr != nil {
			return clientErr
		}
		return handle.Wait()
	},
}

func init() {
	flags := localCmd.Flags()
	flags.StringVar(&localFlags.addr, "addr", "127.0.0.1:0", "listen address for the private server")
	flags.StringVar(&localFlags.db, "db", "", "sqlite database path (defaults to a per-user path)")
	flags.StringVar(&localFlags.username, "user", envOrDefault("TASKCHAT_USER", ""), "default username for login prompts")
	flags.BoolVar(&localFlags.seed, "seed", false, "insert demo users before starting")
	rootCmd.AddCommand(localCmd)
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
