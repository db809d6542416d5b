package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/community-library/internal/auth"
)

func (a *app) tokenCmd() *cobra.Command {
	var (
		uid string
		ttl time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token for a uid",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.Auth.Enabled() {
				return errors.New("auth.jwt_secret (JWT_SECRET) is not configured")
			}
			tokens, err := auth.NewTokenService(a.cfg.Auth.JWTSecret, a.cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = tokens.TTL()
			}
			token, err := tokens.GenerateWithDuration(uid, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&uid, "uid", "", "uid to put in the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token_ttl)")
	_ = cmd.MarkFlagRequired("uid")
	return cmd
}
