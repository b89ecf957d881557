package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/artificers/ingest/internal/poller"
)

func newBackfillCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Sync provider accounts and download the full history of new ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := openApp(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			eng, err := a.engine()
			if err != nil {
				return err
			}

			rep, err := eng.Backfill(ctx)
			printReport(cmd.OutOrStdout(), rep)
			return err
		},
	}
}

func newPollCommand(opts *rootOptions) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Fetch new provider transactions, once or on the configured interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := openApp(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			eng, err := a.engine()
			if err != nil {
				return err
			}

			if once {
				rep, err := eng.Poll(ctx)
				printReport(cmd.OutOrStdout(), rep)
				return err
			}

			if a.cfg.Poller.BackfillOnStart {
				rep, err := eng.Backfill(ctx)
				if err != nil {
					return err
				}
				printReport(cmd.OutOrStdout(), rep)
			}
			sched := poller.NewScheduler(a.cfg.Poller.Interval.D(), poller.PollJob(eng, a.log), a.log)
			sched.Start(ctx)
			a.log.Info().Dur("interval", a.cfg.Poller.Interval.D()).Msg("polling scheduled")
			<-ctx.Done()
			<-sched.Stop().Done()
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single poll and exit")

	return cmd
}

func printReport(out io.Writer, rep poller.Report) {
	if rep.RunID == "" {
		return
	}
	fmt.Fprintf(out, "%s %s: %d accounts, %d ok, %d failed, %d new transactions (%s)\n",
		rep.Mode, rep.RunID, rep.Accounts, rep.Succeeded, rep.Failed, rep.Inserted,
		rep.Finished.Sub(rep.Started).Round(1e6))
}
