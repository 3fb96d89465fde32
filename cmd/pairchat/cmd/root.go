package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pairchat",
	Short: "Two-party real-time chat server",
	Long: `pairchat is a chat backend: users register, see who is online and exchange
text and file messages over WebSockets. Messages are stored in an embedded
pebble database.

Use "pairchat [command] --help" for more information about a command.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
}
