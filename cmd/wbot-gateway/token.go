// ABOUTME: token command that mints a company-scoped API token
// ABOUTME: Signs with the configured jwt_secret; the subject is the company id

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-wbot/internal/auth"
	"github.com/2389/coven-wbot/internal/config"
)

func newTokenCmd(configPath func() string) *cobra.Command {
	var (
		companyID int64
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token for a company",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if companyID <= 0 {
				return errors.New("--company must be a positive id")
			}
			path := configPath()
			cfg, err := config.Load(path)
			if err != nil {
				return wrapConfigErr(path, err)
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("jwt_secret not configured in %s", path)
			}

			verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
			if err != nil {
				return fmt.Errorf("creating JWT verifier: %w", err)
			}
			token, err := verifier.GenerateForCompany(companyID, ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&companyID, "company", 0, "company id the token is scoped to")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}
