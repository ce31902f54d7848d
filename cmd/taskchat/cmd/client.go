package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"taskchat/internal/app"
)

const defaultServerURL = "ws://localhost:8080/ws/chat/"

var clientFlags struct {
	serverURL string
	username  string
}

var clientCmd = &cobra.Command{
	Use:   "client [room]",
	Short: "Open the terminal client",
	Long: `Open the terminal client against a running server. With a room argument
the client joins it straight after login, otherwise it shows the lobby.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		initLogging(cfg, true)
		return app.RunClient(app.ClientConfig{
			ServerURL: clientFlags.serverURL,
			Username:  clientFlags.username,
			RoomKey:   roomArg(args),
		})
	},
}

func init() {
	flags := clientCmd.Flags()
	flags.StringVar(&clientFlags.serverURL, "server-url", envOrDefault("TASKCHAT_SERVER", defaultServerURL), "server websocket base URL")
	flags.StringVar(&clientFlags.username, "user", envOrDefault("TASKCHAT_USER", ""), "default username for login prompts")
	rootCmd.AddCommand(clientCmd)
}

func roomArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
