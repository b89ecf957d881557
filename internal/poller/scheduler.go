package poller

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs a job on a fixed interval. A run still in progress when the
// next one is due causes that next run to be skipped.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	job      func(context.Context)
	log      zerolog.Logger
}

// NewScheduler runs job every interval (rounded to whole seconds).
func NewScheduler(interval time.Duration, job func(context.Context), log zerolog.Logger) *Scheduler {
	return newScheduler(cron.Every(interval), job, log)
}

func newScheduler(schedule cron.Schedule, job func(context.Context), log zerolog.Logger) *Scheduler {
	cl := cronLogger{log: log}
	return &Scheduler{
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		schedule: schedule,
		job:      job,
		log:      log,
	}
}

// Start begins scheduling. Jobs receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		s.job(ctx)
	}))
	s.cron.Start()
}

// Stop stops scheduling. The returned context is done once a running job returns.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// PollJob is the scheduled run: accounts linked since the last run are
// backfilled, then every known account is polled.
func PollJob(e *Engine, log zerolog.Logger) func(context.Context) {
	return func(ctx context.Context) {
		rep, err := e.Backfill(ctx)
		if err != nil || rep.Accounts > 0 {
			logReport(log, rep, err)
		}
		if err != nil {
			return
		}
		rep, err = e.Poll(ctx)
		logReport(log, rep, err)
	}
}

func logReport(log zerolog.Logger, rep Report, err error) {
	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Str("run_id", rep.RunID).Str("mode", string(rep.Mode)).Int("accounts", rep.Accounts).
		Int("failed", rep.Failed).Int("inserted", rep.Inserted).Msg("run finished")
}

// cronLogger routes cron's logging into zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
