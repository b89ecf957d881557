package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/artificers/ingest/internal/id"
	"github.com/artificers/ingest/internal/mapping"
	"github.com/artificers/ingest/internal/model"
	"github.com/artificers/ingest/internal/store"
	"github.com/artificers/ingest/internal/transactions"
)

// memDB stands in for the store, resolver and repository. Writes made inside
// InTx only become visible when fn returns nil.
type memDB struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[string]model.Account
	rows     map[string]model.Transaction

	failMerchant string
}

type memTx struct {
	store.DBTX
	accounts map[string]model.Account
	rows     map[string]model.Transaction
}

func newMemDB() *memDB {
	return &memDB{accounts: map[string]model.Account{}, rows: map[string]model.Transaction{}}
}

func (d *memDB) InTx(ctx context.Context, fn func(store.DBTX) error) error {
	tx := &memTx{accounts: map[string]model.Account{}, rows: map[string]model.Transaction{}}
	if err := fn(tx); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range tx.accounts {
		d.accounts[k] = v
	}
	for k, v := range tx.rows {
		d.rows[k] = v
	}
	return nil
}

func (d *memDB) Resolve(_ context.Context, db store.DBTX, shorthand string) (model.Account, error) {
	sh, err := id.ParseShorthand(shorthand)
	if err != nil {
		return model.Account{}, err
	}
	tx := db.(*memTx)
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.accounts[sh.String()]; ok {
		return a, nil
	}
	if a, ok := tx.accounts[sh.String()]; ok {
		return a, nil
	}
	d.nextID++
	a := model.Account{ID: d.nextID, Institution: sh.Institution, ExternalID: sh.ExternalID, DisplayName: sh.ExternalID}
	tx.accounts[sh.String()] = a
	return a, nil
}

func (d *memDB) UpsertCount(_ context.Context, db store.DBTX, t model.Transaction, acct model.Account) (bool, error) {
	if d.failMerchant != "" && model.Deref(t.Merchant) == d.failMerchant {
		return false, &transactions.IngestError{Transaction: t, Err: errors.New("constraint violation")}
	}
	tx := db.(*memTx)
	key := fmt.Sprintf("%d|%s", acct.ID, t.Hash)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rows[key]; ok {
		return false, nil
	}
	if _, ok := tx.rows[key]; ok {
		return false, nil
	}
	tx.rows[key] = t
	return true, nil
}

func (d *memDB) rowCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rows)
}

func (d *memDB) accountCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.accounts)
}

type countingRefresher struct {
	mu    sync.Mutex
	calls int
}

func (r *countingRefresher) RefreshAsync(context.Context) <-chan struct{} {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	done := make(chan struct{})
	close(done)
	return done
}

type memRecorder struct {
	results []Result
}

func (r *memRecorder) Record(_ context.Context, res Result) error {
	r.results = append(r.results, res)
	return nil
}

type harness struct {
	db        *memDB
	refresher *countingRefresher
	recorder  *memRecorder
	ingester  *Ingester
	dir       string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg, err := mapping.LoadDir("../../configs/mappings")
	require.NoError(t, err)

	h := &harness{
		db:        newMemDB(),
		refresher: &countingRefresher{},
		recorder:  &memRecorder{},
		dir:       t.TempDir(),
	}
	h.ingester = New(Deps{
		Store:      h.db,
		Resolver:   h.db,
		Repository: h.db,
		Mappings:   reg,
		Refresher:  h.refresher,
		Recorder:   h.recorder,
		Log:        zerolog.Nop(),
	})
	return h
}

// place copies a fixture into the incoming dir under name.
func (h *harness) place(t *testing.T, fixture, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("../../testdata", fixture))
	require.NoError(t, err)
	return h.write(t, name, string(data))
}

func (h *harness) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
