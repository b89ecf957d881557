package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/artificers/ingest/internal/accounts"
	"github.com/artificers/ingest/internal/model"
	"github.com/artificers/ingest/internal/store"
)

// PGAccountStore is the Postgres AccountStore.
type PGAccountStore struct {
	resolver *accounts.Resolver
}

// NewPGAccountStore returns a store creating accounts through resolver.
func NewPGAccountStore(resolver *accounts.Resolver) *PGAccountStore {
	if resolver == nil {
		resolver = accounts.NewResolver()
	}
	return &PGAccountStore{resolver: resolver}
}

func (s *PGAccountStore) EnsureAccount(ctx context.Context, db store.DBTX, institution, externalID, displayName string) (model.Account, error) {
	return s.resolver.EnsureAccount(ctx, db, institution, externalID, displayName)
}

func (s *PGAccountStore) Unbackfilled(ctx context.Context, db store.DBTX, institution string) ([]model.Account, error) {
	return accounts.ListUnbackfilled(ctx, db, institution)
}

func (s *PGAccountStore) MarkBackfilled(ctx context.Context, db store.DBTX, accountID int64, at time.Time) error {
	return accounts.MarkBackfilled(ctx, db, accountID, at)
}

// PollTargets returns the institution's accounts that have a poll state row.
func (s *PGAccountStore) PollTargets(ctx context.Context, db store.DBTX, institution string) ([]Target, error) {
	rows, err := db.Query(ctx,
		`SELECT a.id, a.institution, a.external_id, a.display_name, a.created_at, a.updated_at,
		        a.backfilled_at, s.cursor, s.updated_at
		 FROM account_poll_state s
		 JOIN accounts a ON a.id = s.account_id
		 WHERE a.institution = $1
		 ORDER BY a.id`, institution)
	if err != nil {
		return nil, fmt.Errorf("listing poll state: %w", err)
	}
	defer rows.Close()

	var out []Target
	for rows.Next() {
		var t Target
		a := &t.Account
		if err := rows.Scan(&a.ID, &a.Institution, &a.ExternalID, &a.DisplayName, &a.CreatedAt, &a.UpdatedAt,
			&a.BackfilledAt, &t.Cursor.Cursor, &t.Cursor.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning poll state: %w", err)
		}
		t.Cursor.AccountID = a.ID
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveCursor upserts the account's poll state.
func (s *PGAccountStore) SaveCursor(ctx context.Context, db store.DBTX, accountID int64, cursor *string, at time.Time) error {
	_, err := db.Exec(ctx,
		`INSERT INTO account_poll_state (account_id, cursor, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (account_id) DO UPDATE
		 SET cursor = EXCLUDED.cursor, updated_at = EXCLUDED.updated_at`,
		accountID, cursor, at)
	if err != nil {
		return fmt.Errorf("saving cursor for account %d: %w", accountID, err)
	}
	return nil
}
