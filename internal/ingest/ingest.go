// Package ingest drives one CSV file from discovery to its processed/ or
// error/ resting place.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artificers/ingest/internal/id"
	"github.com/artificers/ingest/internal/importer"
	"github.com/artificers/ingest/internal/mapping"
	"github.com/artificers/ingest/internal/model"
	"github.com/artificers/ingest/internal/store"
)

// ErrNoMapping is returned when no mapping document covers a file's institution.
var ErrNoMapping = errors.New("no mapping for institution")

// ErrInFlight is returned by Ingest when another ingest holds the file.
var ErrInFlight = errors.New("file is already being ingested")

// TxRunner runs fn inside one storage transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(store.DBTX) error) error
}

// AccountResolver maps a shorthand to its account.
type AccountResolver interface {
	Resolve(ctx context.Context, db store.DBTX, shorthand string) (model.Account, error)
}

// TransactionWriter upserts one transaction.
type TransactionWriter interface {
	UpsertCount(ctx context.Context, db store.DBTX, t model.Transaction, acct model.Account) (bool, error)
}

// ViewRefresher refreshes reporting views after a successful ingest.
type ViewRefresher interface {
	RefreshAsync(ctx context.Context) <-chan struct{}
}

// Recorder keeps an audit trail of file outcomes.
type Recorder interface {
	Record(ctx context.Context, res Result) error
}

// Deps are the collaborators of an Ingester. Refresher and Recorder are optional.
type Deps struct {
	Store      TxRunner
	Resolver   AccountResolver
	Repository TransactionWriter
	Mappings   *mapping.Registry
	Refresher  ViewRefresher
	Recorder   Recorder
	Log        zerolog.Logger
}

// Ingester is the file ingestion orchestrator.
type Ingester struct {
	deps Deps
	now  func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New builds an Ingester.
func New(deps Deps) *Ingester {
	if deps.Mappings == nil {
		deps.Mappings = mapping.NewRegistry()
	}
	return &Ingester{deps: deps, now: time.Now, inflight: make(map[string]struct{})}
}

// IngestFile runs the whole per-file state machine and moves the file to
// processed/ or error/. Unrecognized names, vanished files and files already
// being ingested are skipped and left alone.
func (in *Ingester) IngestFile(ctx context.Context, path string) (Result, error) {
	res := Result{
		RunID:   uuid.NewString(),
		Path:    path,
		State:   Discovered,
		Started: in.now(),
	}
	log := in.deps.Log.With().Str("file", path).Str("run_id", res.RunID).Logger()

	shorthand, ok := id.ExtractShorthand(path)
	if !ok {
		log.Warn().Msg("file name has no account shorthand, skipping")
		return in.finish(ctx, log, res.skip()), nil
	}
	res.Shorthand = shorthand
	log = log.With().Str("shorthand", shorthand).Logger()

	if !in.acquire(path) {
		log.Debug().Msg("file already being ingested, skipping")
		return res.skip(), nil
	}
	defer in.release(path)

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Msg("file disappeared before ingest, skipping")
			return in.finish(ctx, log, res.skip()), nil
		}
		return in.fail(ctx, log, res, fmt.Errorf("stat %s: %w", path, err))
	}

	counts, err := in.ingest(ctx, log, &res, path, shorthand)
	res.Count, res.Inserted = counts.Count, counts.Inserted
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Msg("file disappeared during ingest, skipping")
			return in.finish(ctx, log, res.skip()), nil
		}
		if ctx.Err() != nil {
			// leave the file for the next run
			res.State, res.Err = Error, err
			return res, err
		}
		return in.fail(ctx, log, res, err)
	}

	dst, err := importer.MoveTo(path, importer.Processed)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Msg("file moved by someone else after ingest")
		} else {
			res.State, res.Err = Processed, err
			log.Error().Err(err).Msg("moving file to processed")
			return in.finish(ctx, log, res), err
		}
	}
	res.Destination = dst
	res.State = Processed
	log.Info().Int("count", res.Count).Int("inserted", res.Inserted).Str("destination", dst).Msg("file processed")

	if in.deps.Refresher != nil {
		in.deps.Refresher.RefreshAsync(ctx)
	}
	return in.finish(ctx, log, res), nil
}

// Ingest parses and persists path under shorthand without moving it or
// recording a run. It backs the in-place mode of the HTTP adapter.
func (in *Ingester) Ingest(ctx context.Context, path, shorthand string) (Counts, error) {
	if !in.acquire(path) {
		return Counts{}, ErrInFlight
	}
	defer in.release(path)

	res := Result{Path: path, Shorthand: shorthand, State: Discovered}
	log := in.deps.Log.With().Str("file", path).Str("shorthand", shorthand).Logger()
	counts, err := in.ingest(ctx, log, &res, path, shorthand)
	if err != nil {
		return counts, err
	}
	log.Info().Int("count", counts.Count).Int("inserted", counts.Inserted).Msg("file ingested in place")
	return counts, nil
}

// Counts is the size of one ingest.
type Counts struct {
	Count    int // rows in the file
	Inserted int // rows newly stored
}

func (in *Ingester) ingest(ctx context.Context, log zerolog.Logger, res *Result, path, shorthand string) (Counts, error) {
	sh, err := id.ParseShorthand(shorthand)
	if err != nil {
		return Counts{}, err
	}

	in.transition(log, res, Parsing)
	m, ok := in.deps.Mappings.Get(sh.Institution)
	if !ok {
		return Counts{}, fmt.Errorf("%w %q", ErrNoMapping, sh.Institution)
	}
	rows, err := readFile(path, m, sh.ExternalID)
	if err != nil {
		return Counts{}, err
	}
	if len(rows) == 0 {
		return Counts{}, importer.ErrNoTransactions
	}

	in.transition(log, res, Persisting)
	counts := Counts{Count: len(rows)}
	err = in.deps.Store.InTx(ctx, func(db store.DBTX) error {
		acct, err := in.deps.Resolver.Resolve(ctx, db, shorthand)
		if err != nil {
			return fmt.Errorf("resolving account %s: %w", shorthand, err)
		}
		for _, row := range rows {
			inserted, err := in.deps.Repository.UpsertCount(ctx, db, row.Transaction, acct)
			if err != nil {
				return err
			}
			if inserted {
				counts.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return Counts{Count: len(rows)}, err
	}
	return counts, nil
}

func readFile(path string, m mapping.Mapping, externalID string) ([]importer.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	rows, err := importer.NewEngine(m).Read(f, externalID)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return rows, nil
}

func (in *Ingester) transition(log zerolog.Logger, res *Result, to State) {
	log.Debug().Str("from", string(res.State)).Str("to", string(to)).Msg("state change")
	res.State = to
}

func (in *Ingester) fail(ctx context.Context, log zerolog.Logger, res Result, cause error) (Result, error) {
	res.State, res.Err = Error, cause
	log.Error().Err(cause).Msg("ingest failed")

	dst, err := importer.MoveTo(res.Path, importer.Failed)
	switch {
	case err == nil:
		res.Destination = dst
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Msg("failed file already gone")
	default:
		log.Error().Err(err).Msg("moving file to error")
	}
	return in.finish(ctx, log, res), cause
}

func (in *Ingester) finish(ctx context.Context, log zerolog.Logger, res Result) Result {
	res.Finished = in.now()
	if in.deps.Recorder != nil {
		if err := in.deps.Recorder.Record(ctx, res); err != nil {
			log.Warn().Err(err).Msg("recording ingest outcome")
		}
	}
	return res
}

func (in *Ingester) acquire(path string) bool {
	key := filepath.Clean(path)
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, busy := in.inflight[key]; busy {
		return false
	}
	in.inflight[key] = struct{}{}
	return true
}

func (in *Ingester) release(path string) {
	in.mu.Lock()
	delete(in.inflight, filepath.Clean(path))
	in.mu.Unlock()
}
