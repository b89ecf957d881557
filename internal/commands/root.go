package commands

import (
	"github.com/spf13/cobra"

	"github.com/artificers/ingest/internal/buildinfo"
	"github.com/artificers/ingest/internal/config"
)

type rootOptions struct {
	configPath string
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:     "ingest",
		Short:   "Transaction ingestion and sync engine",
		Version: buildinfo.String(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.FileName, "configuration file")

	rootCmd.AddCommand(
		newInitCommand(),
		newMigrateCommand(opts),
		newFileCommand(opts),
		newScanCommand(opts),
		newWatchCommand(opts),
		newBackfillCommand(opts),
		newPollCommand(opts),
		newServeCommand(opts),
		newAccountsCommand(opts),
		newHistoryCommand(opts),
	)

	return rootCmd
}
