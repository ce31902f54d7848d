package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	intrnl "taskchat/internal"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of taskchat",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "taskchat v%s\n", intrnl.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
