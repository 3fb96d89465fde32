package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/pairchat/internal/auth"
	"github.com/Tyrowin/pairchat/internal/config"
)

var (
	tokenUserID   string
	tokenUsername string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a session token",
	Long: `Sign a session token with the configured JWT secret. Useful for
connecting to /ws from tools that cannot log in:

  pairchat token --user-id 0190... --username alice`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if tokenUserID == "" {
			return errors.New("--user-id is required")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		token, err := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL).Issue(auth.Identity{
			UserID:   tokenUserID,
			Username: tokenUsername,
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "user-id", "", "user id to embed")
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "", "display name to embed")
	rootCmd.AddCommand(tokenCmd)
}
