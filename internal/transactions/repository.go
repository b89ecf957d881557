// Package transactions persists canonical transactions idempotently.
package transactions

import (
	"context"
	"fmt"

	"github.com/artificers/ingest/internal/model"
	"github.com/artificers/ingest/internal/store"
)

// IngestError wraps a storage failure together with the transaction being written.
type IngestError struct {
	Transaction model.Transaction
	Err         error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("storing transaction %s for account %s: %v", short(e.Transaction.Hash), e.Transaction.AccountID, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// Repository writes transactions keyed by (account, hash).
type Repository struct{}

// NewRepository returns a Repository.
func NewRepository() *Repository { return &Repository{} }

// Upsert inserts t for acct. A row with the same hash already stored for the
// account is left untouched and is not an error.
func (r *Repository) Upsert(ctx context.Context, db store.DBTX, t model.Transaction, acct model.Account) error {
	_, err := r.UpsertCount(ctx, db, t, acct)
	return err
}

// UpsertCount is Upsert that also reports whether a new row was written.
func (r *Repository) UpsertCount(ctx context.Context, db store.DBTX, t model.Transaction, acct model.Account) (bool, error) {
	raw := string(t.RawJSON)
	if raw == "" {
		raw = "{}"
	}
	source := t.Source
	if source == "" {
		source = model.SourceCSV
	}
	tag, err := db.Exec(ctx,
		`INSERT INTO transactions
		   (account_id, occurred_at, posted_at, amount_cents, currency, merchant,
		    category, txn_type, memo, hash, raw_json, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12)
		 ON CONFLICT (account_id, hash) DO NOTHING`,
		acct.ID, t.OccurredAt, t.PostedAt, t.Amount.AmountCents, t.Amount.Currency, t.Merchant,
		t.Category, t.Type, t.Memo, t.Hash, raw, source,
	)
	if err != nil {
		return false, &IngestError{Transaction: t, Err: err}
	}
	return tag.RowsAffected() == 1, nil
}

// Count returns the number of stored transactions for an account.
func Count(ctx context.Context, db store.DBTX, accountID int64) (int64, error) {
	var n int64
	if err := db.QueryRow(ctx, `SELECT count(*) FROM transactions WHERE account_id = $1`, accountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting transactions: %w", err)
	}
	return n, nil
}
