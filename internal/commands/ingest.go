package commands

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/artificers/ingest/internal/ingest"
)

func newFileCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "file <path>",
		Short: "Ingest one CSV file and move it to processed/ or error/",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}
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

			res, err := in.IngestFile(ctx, path)
			printResults(cmd.OutOrStdout(), []ingest.Result{res})
			return err
		},
	}
}

func newScanCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [directory]",
		Short: "Ingest every CSV file currently in the incoming directory",
		Args:  cobra.MaximumNArgs(1),
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

			dir := a.cfg.Ingest.IncomingDir
			if len(args) > 0 {
				dir = args[0]
			}
			sum, err := in.ScanAndIngest(ctx, dir)
			out := cmd.OutOrStdout()
			printResults(out, sum.Results)
			fmt.Fprintf(out, "%d files: %d processed, %d failed, %d skipped, %d new transactions\n",
				sum.Files, sum.Processed, sum.Failed, sum.Skipped, sum.Inserted)
			if err != nil {
				return err
			}
			if sum.Failed > 0 {
				return fmt.Errorf("%d of %d files failed", sum.Failed, sum.Files)
			}
			return nil
		},
	}
}

func printResults(out io.Writer, results []ingest.Result) {
	if len(results) == 0 {
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSTATE\tROWS\tNEW\tDETAIL")
	for _, r := range results {
		detail := r.Destination
		if r.Err != nil {
			detail = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", filepath.Base(r.Path), r.State, r.Count, r.Inserted, detail)
	}
	tw.Flush()
}
