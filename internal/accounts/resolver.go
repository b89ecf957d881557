// Package accounts resolves account shorthands to stored accounts.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/artificers/ingest/internal/id"
	"github.com/artificers/ingest/internal/model"
	"github.com/artificers/ingest/internal/store"
)

// ErrNotFound is returned when no account matches.
var ErrNotFound = errors.New("account not found")

const accountColumns = `id, institution, external_id, display_name, created_at, updated_at, backfilled_at`

// Resolver finds or creates accounts.
type Resolver struct {
	now func() time.Time
}

// NewResolver returns a Resolver stamping new rows with the wall clock.
func NewResolver() *Resolver {
	return &Resolver{now: time.Now}
}

// NewResolverWithClock is used by tests.
func NewResolverWithClock(now func() time.Time) *Resolver {
	return &Resolver{now: now}
}

// Resolve maps a shorthand such as "co1828" to its account, creating the
// account on first sight with the external id as display name. Two callers
// resolving the same new shorthand get the same row.
func (r *Resolver) Resolve(ctx context.Context, db store.DBTX, shorthand string) (model.Account, error) {
	sh, err := id.ParseShorthand(shorthand)
	if err != nil {
		return model.Account{}, err
	}
	return r.EnsureAccount(ctx, db, sh.Institution, sh.ExternalID, sh.ExternalID)
}

// EnsureAccount returns the account for (institution, externalID), inserting
// it with displayName when absent. An existing row is returned unchanged.
func (r *Resolver) EnsureAccount(ctx context.Context, db store.DBTX, institution, externalID, displayName string) (model.Account, error) {
	acct, err := Get(ctx, db, institution, externalID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.Account{}, err
	}

	acct, err = insert(ctx, db, institution, externalID, displayName, r.now().UTC())
	if errors.Is(err, ErrNotFound) {
		// lost the race to a concurrent insert
		return Get(ctx, db, institution, externalID)
	}
	return acct, err
}

// Get selects one account by its natural key.
func Get(ctx context.Context, db store.DBTX, institution, externalID string) (model.Account, error) {
	row := db.QueryRow(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts
		 WHERE institution = $1 AND external_id = $2`,
		institution, externalID,
	)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, fmt.Errorf("%s: %w", id.FormatShorthand(institution, externalID), ErrNotFound)
		}
		return model.Account{}, fmt.Errorf("selecting account %s: %w", id.FormatShorthand(institution, externalID), err)
	}
	return acct, nil
}

func insert(ctx context.Context, db store.DBTX, institution, externalID, displayName string, now time.Time) (model.Account, error) {
	row := db.QueryRow(ctx,
		`INSERT INTO accounts (institution, external_id, display_name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (institution, external_id) DO NOTHING
		 RETURNING `+accountColumns,
		institution, externalID, displayName, now,
	)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, ErrNotFound
		}
		return model.Account{}, fmt.Errorf("inserting account %s: %w", id.FormatShorthand(institution, externalID), err)
	}
	return acct, nil
}

// List returns every account ordered by institution and external id.
func List(ctx context.Context, db store.DBTX) ([]model.Account, error) {
	rows, err := db.Query(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts
		 ORDER BY institution, external_id`)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

func scanAccount(row pgx.Row) (model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.Institution, &a.ExternalID, &a.DisplayName, &a.CreatedAt, &a.UpdatedAt, &a.BackfilledAt)
	return a, err
}

// ListUnbackfilled returns the institution's accounts whose history has not
// been drained yet.
func ListUnbackfilled(ctx context.Context, db store.DBTX, institution string) ([]model.Account, error) {
	rows, err := db.Query(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts
		 WHERE institution = $1 AND backfilled_at IS NULL
		 ORDER BY id`, institution)
	if err != nil {
		return nil, fmt.Errorf("listing unbackfilled accounts: %w", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

// MarkBackfilled stamps the account's backfill completion time.
func MarkBackfilled(ctx context.Context, db store.DBTX, accountID int64, at time.Time) error {
	tag, err := db.Exec(ctx,
		`UPDATE accounts SET backfilled_at = $2, updated_at = $2 WHERE id = $1`, accountID, at)
	if err != nil {
		return fmt.Errorf("marking account %d backfilled: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %d: %w", accountID, ErrNotFound)
	}
	return nil
}
