package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/pairchat/internal/config"
	"github.com/Tyrowin/pairchat/internal/store"
)

var historyDataDir string

var historyCmd = &cobra.Command{
	Use:   "history USER_A USER_B",
	Short: "Print a stored conversation",
	Long: `Print the messages exchanged between two user ids as JSON lines, oldest
first. The server must not be running against the same data directory.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := historyDataDir
		if dir == "" {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			dir = cfg.DataDir
		}

		db, err := store.Open(dir)
		if err != nil {
			return err
		}
		defer db.Close()

		msgs, err := db.Find(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, m := range msgs {
			if err := enc.Encode(m); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyDataDir, "data-dir", "", "pebble data directory (defaults to the configured one)")
	rootCmd.AddCommand(historyCmd)
}
