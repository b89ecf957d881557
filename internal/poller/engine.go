// Package poller keeps provider-linked accounts in sync with the remote
// transactions API.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artificers/ingest/internal/model"
	"github.com/artificers/ingest/internal/store"
	"github.com/artificers/ingest/internal/teller"
)

// Store is the transactional storage the engine writes through.
type Store interface {
	DB() store.DBTX
	InTx(ctx context.Context, fn func(store.DBTX) error) error
}

// AccountStore holds accounts and their saved cursors.
type AccountStore interface {
	EnsureAccount(ctx context.Context, db store.DBTX, institution, externalID, displayName string) (model.Account, error)
	Unbackfilled(ctx context.Context, db store.DBTX, institution string) ([]model.Account, error)
	PollTargets(ctx context.Context, db store.DBTX, institution string) ([]Target, error)
	SaveCursor(ctx context.Context, db store.DBTX, accountID int64, cursor *string, at time.Time) error
	MarkBackfilled(ctx context.Context, db store.DBTX, accountID int64, at time.Time) error
}

// Target is an account with its saved cursor.
type Target struct {
	Account model.Account
	Cursor  model.PollCursor
}

// TransactionWriter upserts one transaction.
type TransactionWriter interface {
	UpsertCount(ctx context.Context, db store.DBTX, t model.Transaction, acct model.Account) (bool, error)
}

// API is the remote transactions API.
type API interface {
	ListAccounts(ctx context.Context, token string) ([]teller.Account, error)
	ListTransactions(ctx context.Context, token, accountID, cursor string) (teller.Page, error)
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Store       Store
	Accounts    AccountStore
	Writer      TransactionWriter
	API         API
	Tokens      []string
	Institution string
	Retry       RetryPolicy
	Log         zerolog.Logger
	Now         func() time.Time
}

// Engine runs account sync, backfill and incremental polls. Runs are
// serialized; accounts within a run are handled one at a time.
type Engine struct {
	deps Deps
	run  sync.Mutex

	mu     sync.Mutex
	owners map[string]string // remote account id -> token that listed it
}

// New builds an Engine, filling unset Institution, Retry and Now.
func New(deps Deps) *Engine {
	if deps.Institution == "" {
		deps.Institution = teller.Institution
	}
	if deps.Retry.MaxAttempts <= 0 {
		deps.Retry = DefaultRetryPolicy()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{deps: deps, owners: make(map[string]string)}
}

// SyncAccounts creates local accounts for every remote account visible to
// the configured tokens. A token that cannot list accounts is skipped.
func (e *Engine) SyncAccounts(ctx context.Context) error {
	for i, token := range e.deps.Tokens {
		log := e.deps.Log.With().Int("token_index", i).Logger()
		remote, err := e.listAccounts(ctx, log, token)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("account sync failed for token")
			continue
		}
		for _, ra := range remote {
			acct, err := e.deps.Accounts.EnsureAccount(ctx, e.deps.Store.DB(), e.deps.Institution, ra.ID, ra.DisplayName())
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Error().Err(err).Str("external_id", ra.ID).Msg("creating synced account")
				continue
			}
			e.mu.Lock()
			e.owners[acct.ExternalID] = token
			e.mu.Unlock()
		}
		log.Debug().Int("count", len(remote)).Msg("accounts synced")
	}
	return nil
}

// Backfill drains the full history of every account not yet backfilled.
func (e *Engine) Backfill(ctx context.Context) (Report, error) {
	e.run.Lock()
	defer e.run.Unlock()

	rep := e.newReport(ModeBackfill)
	log := e.deps.Log.With().Str("run_id", rep.RunID).Str("mode", string(ModeBackfill)).Logger()
	if err := e.SyncAccounts(ctx); err != nil {
		return e.done(rep), err
	}
	accts, err := e.deps.Accounts.Unbackfilled(ctx, e.deps.Store.DB(), e.deps.Institution)
	if err != nil {
		return e.done(rep), fmt.Errorf("loading accounts to backfill: %w", err)
	}

	for _, acct := range accts {
		if err := ctx.Err(); err != nil {
			return e.done(rep), err
		}
		rep.Accounts++
		alog := log.With().Int64("account_id", acct.ID).Str("external_id", acct.ExternalID).Logger()
		inserted, err := e.backfillAccount(ctx, alog, acct)
		rep.Inserted += inserted
		if err != nil {
			if isCancel(ctx, err) {
				return e.done(rep), err
			}
			rep.Failed++
			alog.Error().Err(err).Msg("backfill failed, will retry next run")
			continue
		}
		rep.Succeeded++
		alog.Info().Int("inserted", inserted).Msg("account backfilled")
	}
	return e.done(rep), nil
}

func (e *Engine) backfillAccount(ctx context.Context, log zerolog.Logger, acct model.Account) (int, error) {
	var (
		cursor   string
		last     *string
		inserted int
	)
	for {
		page, n, err := e.syncPage(ctx, log, acct, cursor, false)
		inserted += n
		if err != nil {
			return inserted, err
		}
		next := page.NextCursor
		if next == "" {
			break
		}
		if next == cursor {
			return inserted, fmt.Errorf("cursor %q did not advance", cursor)
		}
		last = &next
		cursor = next
	}

	err := e.deps.Store.InTx(ctx, func(db store.DBTX) error {
		now := e.deps.Now().UTC()
		if err := e.deps.Accounts.MarkBackfilled(ctx, db, acct.ID, now); err != nil {
			return err
		}
		return e.deps.Accounts.SaveCursor(ctx, db, acct.ID, last, now)
	})
	return inserted, err
}

// Poll fetches exactly one page for every account with a saved cursor and
// advances the cursor when the page carries a new one.
func (e *Engine) Poll(ctx context.Context) (Report, error) {
	e.run.Lock()
	defer e.run.Unlock()

	rep := e.newReport(ModePoll)
	log := e.deps.Log.With().Str("run_id", rep.RunID).Str("mode", string(ModePoll)).Logger()
	if err := e.SyncAccounts(ctx); err != nil {
		return e.done(rep), err
	}
	targets, err := e.deps.Accounts.PollTargets(ctx, e.deps.Store.DB(), e.deps.Institution)
	if err != nil {
		return e.done(rep), fmt.Errorf("loading poll state: %w", err)
	}

	for _, tgt := range targets {
		if err := ctx.Err(); err != nil {
			return e.done(rep), err
		}
		rep.Accounts++
		acct := tgt.Account
		alog := log.With().Int64("account_id", acct.ID).Str("external_id", acct.ExternalID).Logger()
		_, n, err := e.syncPage(ctx, alog, acct, model.Deref(tgt.Cursor.Cursor), true)
		rep.Inserted += n
		if err != nil {
			if isCancel(ctx, err) {
				return e.done(rep), err
			}
			rep.Failed++
			alog.Error().Err(err).Msg("poll failed, will retry next run")
			continue
		}
		rep.Succeeded++
	}
	return e.done(rep), nil
}

// syncPage is the shared fetch-and-persist routine. The page is written in
// one transaction; with advance set, the cursor moves in the same
// transaction, so it never runs ahead of stored rows.
func (e *Engine) syncPage(ctx context.Context, log zerolog.Logger, acct model.Account, cursor string, advance bool) (teller.Page, int, error) {
	page, err := e.fetchPage(ctx, log, acct, cursor)
	if err != nil {
		return teller.Page{}, 0, err
	}
	var inserted int
	err = e.deps.Store.InTx(ctx, func(db store.DBTX) error {
		n, err := e.persistPage(ctx, log, db, acct, page)
		if err != nil {
			return err
		}
		inserted = n
		if advance && page.NextCursor != "" && page.NextCursor != cursor {
			next := page.NextCursor
			return e.deps.Accounts.SaveCursor(ctx, db, acct.ID, &next, e.deps.Now().UTC())
		}
		return nil
	})
	if err != nil {
		return page, 0, err
	}
	log.Debug().Str("cursor", cursor).Str("next_cursor", page.NextCursor).
		Int("count", len(page.Transactions)).Int("inserted", inserted).Msg("page synced")
	return page, inserted, nil
}

// persistPage upserts the valid rows of page. Invalid rows are logged and
// dropped so one bad element cannot hold the cursor back forever.
func (e *Engine) persistPage(ctx context.Context, log zerolog.Logger, db store.DBTX, acct model.Account, page teller.Page) (int, error) {
	var inserted int
	for _, rt := range page.Transactions {
		if err := rt.Validate(); err != nil {
			log.Warn().Err(err).Str("cursor", rt.Cursor).Msg("rejecting transaction")
			continue
		}
		ok, err := e.deps.Writer.UpsertCount(ctx, db, rt.ToModel(acct.ID, acct.ExternalID), acct)
		if err != nil {
			return 0, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

func (e *Engine) tokenFor(externalID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tok, ok := e.owners[externalID]; ok {
		return tok
	}
	if len(e.deps.Tokens) > 0 {
		return e.deps.Tokens[0]
	}
	return ""
}

func (e *Engine) newReport(mode Mode) Report {
	return Report{RunID: uuid.NewString(), Mode: mode, Started: e.deps.Now()}
}

func (e *Engine) done(rep Report) Report {
	rep.Finished = e.deps.Now()
	return rep
}

func isCancel(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
