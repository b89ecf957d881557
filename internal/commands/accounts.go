package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/artificers/ingest/internal/accounts"
	"github.com/artificers/ingest/internal/id"
	"github.com/artificers/ingest/internal/mapping"
	"github.com/artificers/ingest/internal/model"
)

func newAccountsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List and create accounts",
	}
	cmd.AddCommand(newAccountsListCommand(opts), newAccountsNewCommand(opts))
	return cmd
}

func newAccountsListCommand(opts *rootOptions) *cobra.Command {
	var asCSV bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			accts, err := accounts.List(cmd.Context(), a.store.DB())
			if err != nil {
				return err
			}
			if asCSV {
				return accounts.WriteCSV(cmd.OutOrStdout(), accts)
			}
			printAccounts(cmd.OutOrStdout(), accts)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asCSV, "csv", false, "write CSV instead of a table")

	return cmd
}

func printAccounts(out io.Writer, accts []model.Account) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSHORTHAND\tNAME\tBACKFILLED")
	for _, a := range accts {
		backfilled := "-"
		if a.BackfilledAt != nil {
			backfilled = a.BackfilledAt.Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", a.ID, a.Shorthand(), a.DisplayName, backfilled)
	}
	tw.Flush()
}

func newAccountsNewCommand(opts *rootOptions) *cobra.Command {
	var institution, externalID, displayName string
	var force bool

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create an account and a starter mapping for its institution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			institution = strings.ToLower(strings.TrimSpace(institution))
			externalID = strings.TrimSpace(externalID)
			sh, err := id.ParseShorthand(id.FormatShorthand(institution, externalID))
			if err != nil {
				return err
			}
			if displayName == "" {
				displayName = sh.ExternalID
			}

			a, err := openApp(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			acct, err := accounts.NewResolver().EnsureAccount(cmd.Context(), a.store.DB(), sh.Institution, sh.ExternalID, displayName)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Account %s (id %d)\n", acct.Shorthand(), acct.ID)

			path, written, err := writeMappingTemplate(a.cfg.Ingest.MappingsDir, sh.Institution, force)
			if err != nil {
				return err
			}
			if written {
				fmt.Fprintf(out, "Wrote mapping template %s; edit it to match the bank's CSV headers\n", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&institution, "institution", "", "institution code, e.g. ch (required)")
	cmd.Flags().StringVar(&externalID, "external-id", "", "last four digits of the account (required)")
	cmd.Flags().StringVar(&displayName, "display-name", "", "display name (defaults to the external id)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing mapping document")
	_ = cmd.MarkFlagRequired("institution")
	_ = cmd.MarkFlagRequired("external-id")

	return cmd
}

// writeMappingTemplate creates <dir>/<institution>.yaml unless it exists.
func writeMappingTemplate(dir, institution string, force bool) (string, bool, error) {
	path := filepath.Join(dir, institution+".yaml")
	if _, err := os.Stat(path); err == nil && !force {
		return path, false, nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", false, fmt.Errorf("checking mapping: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("creating mappings dir: %w", err)
	}
	if err := os.WriteFile(path, mapping.Template(institution), 0o644); err != nil {
		return "", false, fmt.Errorf("writing mapping: %w", err)
	}
	return path, true, nil
}
