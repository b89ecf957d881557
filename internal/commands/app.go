package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artificers/ingest/internal/accounts"
	"github.com/artificers/ingest/internal/config"
	"github.com/artificers/ingest/internal/ingest"
	"github.com/artificers/ingest/internal/logger"
	"github.com/artificers/ingest/internal/mapping"
	"github.com/artificers/ingest/internal/poller"
	"github.com/artificers/ingest/internal/runlog"
	"github.com/artificers/ingest/internal/store"
	"github.com/artificers/ingest/internal/teller"
	"github.com/artificers/ingest/internal/transactions"
)

// loadConfig reads the configuration file and applies environment overrides.
// A missing file is only tolerated when --config was left at its default.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || cmd.Flags().Changed("config") {
			return nil, err
		}
		cfg = config.Default()
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		cfg.Resolve(wd)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// app holds the wired components for one command invocation.
type app struct {
	cfg   *config.Config
	log   zerolog.Logger
	store *store.Store
}

func openApp(ctx context.Context, cmd *cobra.Command, opts *rootOptions) (*app, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("database url is not configured (database.url or DB_URL)")
	}
	st, err := store.Open(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("database", store.SanitizeURL(cfg.Database.URL)).Msg("database connected")
	return &app{cfg: cfg, log: log, store: st}, nil
}

func (a *app) Close() {
	a.store.Close()
}

func (a *app) ingester() (*ingest.Ingester, error) {
	reg, err := mapping.LoadDir(a.cfg.Ingest.MappingsDir)
	if err != nil {
		return nil, err
	}
	a.log.Debug().Strs("institutions", reg.Institutions()).Msg("mappings loaded")

	deps := ingest.Deps{
		Store:      a.store,
		Resolver:   accounts.NewResolver(),
		Repository: transactions.NewRepository(),
		Mappings:   reg,
		Log:        a.log,
	}
	if a.cfg.Ingest.RefreshView != "" {
		deps.Refresher = store.NewViewRefresher(a.store.DB(), a.cfg.Ingest.RefreshView, a.log)
	}
	if a.cfg.Ingest.RunLog != "" {
		deps.Recorder = runlog.NewFileRecorder(a.cfg.Ingest.RunLog)
	}
	return ingest.New(deps), nil
}

func (a *app) engine() (*poller.Engine, error) {
	tc := a.cfg.Teller
	if len(tc.Tokens) == 0 {
		return nil, errors.New("no API tokens configured (teller.tokens or TELLER_TOKENS)")
	}
	hc, err := teller.NewMTLSClient(teller.MTLSConfig{
		CertFile: tc.CertFile,
		KeyFile:  tc.KeyFile,
		Timeout:  tc.Timeout.D(),
	})
	if err != nil {
		return nil, err
	}
	pc := a.cfg.Poller
	return poller.New(poller.Deps{
		Store:       a.store,
		Accounts:    poller.NewPGAccountStore(accounts.NewResolver()),
		Writer:      transactions.NewRepository(),
		API:         teller.NewClient(tc.BaseURL, hc),
		Tokens:      tc.Tokens,
		Institution: pc.Institution,
		Retry: poller.RetryPolicy{
			MaxAttempts: pc.MaxAttempts,
			BaseDelay:   pc.BaseDelay.D(),
			Multiplier:  pc.Multiplier,
		},
		Log: a.log.With().Str("component", "poller").Logger(),
	}), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
