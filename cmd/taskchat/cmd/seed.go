package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"taskchat/internal/app"
)

var seedDSN string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert demo users and messages",
	Long: `Creates the demo accounts (admin/admin123 and jane, bob, tom, sarah with
password123) and two sample messages. Running it again is harmless.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("db") {
			cfg.Database.DSN = seedDSN
		}
		initLogging(cfg, false)
		return seedDatabase(cmd.Context(), cfg)
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedDSN, "db", "", "sqlite path or postgres DSN")
	rootCmd.AddCommand(seedCmd)
}

func seedDatabase(ctx context.Context, cfg *app.Config) error {
	store, err := app.OpenStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := app.Seed(ctx, store)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	fmt.Printf("Created %d users and %d messages\n", result.UsersCreated, result.MessagesCreated)
	return nil
}
