package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/san-kum/medassist/server/middleware"
)

func (a *app) newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin bearer token for the service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := a.v.GetString("jwt-secret-key")
			if secret == "" {
				return errors.New("a secret is required, set --jwt-secret-key or MEDASSIST_JWT_SECRET_KEY")
			}
			ttl := a.v.GetDuration("ttl")
			if ttl <= 0 {
				return fmt.Errorf("ttl must be positive, got %s", ttl)
			}

			auth := middleware.NewAuthMiddleware(secret, a.logger)
			token, err := auth.GenerateToken(a.v.GetString("subject"), middleware.RoleAdmin, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	flags := cmd.Flags()
	flags.String("jwt-secret-key", "", "the service's JWT_SECRET_KEY")
	flags.String("subject", "operator", "token subject")
	flags.Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}
