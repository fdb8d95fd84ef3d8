// ABOUTME: account commands that manage stored accounts without a running server
// ABOUTME: Opens the configured SQLite database directly

package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/2389/coven-wbot/internal/config"
	"github.com/2389/coven-wbot/internal/store"
)

func newAccountCmd(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage stored accounts",
	}
	cmd.AddCommand(
		newAccountAddCmd(configPath),
		newAccountListCmd(configPath),
	)
	return cmd
}

func openStore(configPath func() string) (*store.SQLiteStore, error) {
	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, wrapConfigErr(path, err)
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

func newAccountAddCmd(configPath func() string) *cobra.Command {
	var companyID int64

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create an account for a company",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if companyID <= 0 {
				return errors.New("--company must be a positive id")
			}
			s, err := openStore(configPath)
			if err != nil {
				return err
			}
			defer s.Close()

			acct := &store.Account{CompanyID: companyID, Name: args[0]}
			if err := s.CreateAccount(cmd.Context(), acct); err != nil {
				return fmt.Errorf("creating account: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created account %d (%s) for company %d\n", acct.ID, acct.Name, acct.CompanyID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&companyID, "company", 0, "owning company id")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func newAccountListCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openStore(configPath)
			if err != nil {
				return err
			}
			defer s.Close()

			accounts, err := s.ListAccounts(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing accounts: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tCOMPANY\tNAME\tSTATUS\tNUMBER")
			for _, a := range accounts {
				_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", a.ID, a.CompanyID, a.Name, a.Status, a.Number)
			}
			return w.Flush()
		},
	}
}
