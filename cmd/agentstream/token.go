package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentstream/auth"
	"github.com/hupe1980/agentstream/config"
)

// buildTokenCmd creates the "token" command that signs a bearer token with
// the configured secret.
func buildTokenCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		email      string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.Disabled {
				return auth.ErrAuthDisabled
			}
			token, err := newVerifier(cfg).Generate(auth.Identity{UserID: userID, Email: email})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id (token subject)")
	cmd.Flags().StringVar(&email, "email", "", "Optional email claim")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
