package commands

import (
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/artificers/ingest/internal/api"
	"github.com/artificers/ingest/internal/poller"
	"github.com/artificers/ingest/internal/watch"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, directory watch and poll scheduler together",
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

			var sched *poller.Scheduler
			var p api.Poller
			if a.cfg.Poller.Enabled {
				eng, err := a.engine()
				if err != nil {
					a.log.Warn().Err(err).Msg("polling disabled")
				} else {
					p = eng
					sched = poller.NewScheduler(a.cfg.Poller.Interval.D(), poller.PollJob(eng, a.log), a.log)
					if a.cfg.Poller.BackfillOnStart {
						go func() {
							if _, err := eng.Backfill(ctx); err != nil && ctx.Err() == nil {
								a.log.Error().Err(err).Msg("startup backfill failed")
							}
						}()
					}
				}
			}

			srv := api.New(a.cfg.Ingest.IncomingDir, in, p, a.log)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Listen(a.cfg.HTTP.Addr)
			})
			g.Go(func() error {
				<-gctx.Done()
				return srv.Shutdown(shutdownTimeout)
			})
			if !noWatch {
				g.Go(func() error {
					return watch.New(a.cfg.Ingest.IncomingDir, in, a.cfg.Ingest.RescanInterval.D(), a.cfg.Ingest.SettleInterval.D(), a.log).Run(gctx)
				})
			}
			if sched != nil {
				sched.Start(gctx)
				defer func() { <-sched.Stop().Done() }()
			}

			if err := g.Wait(); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not watch the incoming directory")

	return cmd
}
