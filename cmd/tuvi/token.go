package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/tuvi/config"
	"github.com/mohammad-safakhou/tuvi/internal/server"
)

// tokenCMD issues a bearer token for a chat transport.
func tokenCMD() *cobra.Command {
	var cfgPath, subject string
	var ttl time.Duration
	var admin bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a chat transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			secret, err := server.LoadSecret(cfg)
			if err != nil {
				return err
			}
			var scopes []string
			if admin {
				scopes = append(scopes, server.ScopeAdmin)
			}
			tok, err := server.SignToken(subject, secret, ttl, scopes...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "telegram", "transport name")
	cmd.Flags().DurationVar(&ttl, "ttl", 365*24*time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the admin scope")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")
	return cmd
}
