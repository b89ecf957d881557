package commands

import (
	"github.com/spf13/cobra"

	"github.com/artificers/ingest/internal/watch"
)

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Ingest CSV files as they appear in the incoming directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := openApp(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			in, err := a.ingester()
			if err != nil {
				return err
			}

			svc := watch.New(a.cfg.Ingest.IncomingDir, in, a.cfg.Ingest.RescanInterval.D(), a.cfg.Ingest.SettleInterval.D(), a.log)
			return svc.Run(ctx)
		},
	}
}
