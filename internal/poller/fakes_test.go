package poller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/artificers/ingest/internal/model"
	"github.com/artificers/ingest/internal/store"
	"github.com/artificers/ingest/internal/teller"
)

type state struct {
	accounts map[int64]model.Account
	cursors  map[int64]*string // key present means a poll state row exists
	rows     map[string]model.Transaction
}

func (s *state) clone() *state {
	c := &state{
		accounts: make(map[int64]model.Account, len(s.accounts)),
		cursors:  make(map[int64]*string, len(s.cursors)),
		rows:     make(map[string]model.Transaction, len(s.rows)),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.cursors {
		c.cursors[k] = v
	}
	for k, v := range s.rows {
		c.rows[k] = v
	}
	return c
}

// memStore implements Store, AccountStore and TransactionWriter. Writes made
// inside InTx are discarded when fn fails.
type memStore struct {
	mu     sync.Mutex
	st     *state
	nextID int64

	failUpsert string // transaction id whose upsert fails
}

type memTx struct {
	store.DBTX
	st *state
}

func newMemStore() *memStore {
	return &memStore{st: &state{
		accounts: map[int64]model.Account{},
		cursors:  map[int64]*string{},
		rows:     map[string]model.Transaction{},
	}}
}

func (m *memStore) DB() store.DBTX {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &memTx{st: m.st}
}

func (m *memStore) InTx(ctx context.Context, fn func(store.DBTX) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	tx := &memTx{st: m.st.clone()}
	m.mu.Unlock()
	if err := fn(tx); err != nil {
		return err
	}
	m.mu.Lock()
	m.st = tx.st
	m.mu.Unlock()
	return nil
}

func (m *memStore) EnsureAccount(_ context.Context, db store.DBTX, institution, externalID, displayName string) (model.Account, error) {
	st := db.(*memTx).st
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range st.accounts {
		if a.Institution == institution && a.ExternalID == externalID {
			return a, nil
		}
	}
	m.nextID++
	a := model.Account{ID: m.nextID, Institution: institution, ExternalID: externalID, DisplayName: displayName}
	st.accounts[a.ID] = a
	return a, nil
}

func (m *memStore) Unbackfilled(_ context.Context, db store.DBTX, institution string) ([]model.Account, error) {
	st := db.(*memTx).st
	var out []model.Account
	for _, a := range st.accounts {
		if a.Institution == institution && a.BackfilledAt == nil {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) PollTargets(_ context.Context, db store.DBTX, institution string) ([]Target, error) {
	st := db.(*memTx).st
	var out []Target
	for id, c := range st.cursors {
		a := st.accounts[id]
		if a.Institution == institution {
			out = append(out, Target{Account: a, Cursor: model.PollCursor{AccountID: id, Cursor: c}})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account.ID < out[j].Account.ID })
	return out, nil
}

func (m *memStore) SaveCursor(_ context.Context, db store.DBTX, accountID int64, cursor *string, _ time.Time) error {
	st := db.(*memTx).st
	if cursor != nil {
		c := *cursor
		cursor = &c
	}
	st.cursors[accountID] = cursor
	return nil
}

func (m *memStore) MarkBackfilled(_ context.Context, db store.DBTX, accountID int64, at time.Time) error {
	st := db.(*memTx).st
	a, ok := st.accounts[accountID]
	if !ok {
		return errors.New("no such account")
	}
	a.BackfilledAt = &at
	st.accounts[accountID] = a
	return nil
}

func (m *memStore) UpsertCount(_ context.Context, db store.DBTX, t model.Transaction, acct model.Account) (bool, error) {
	st := db.(*memTx).st
	if m.failUpsert != "" && t.Hash == providerHash(acct.ID, m.failUpsert) {
		return false, errors.New("insert failed")
	}
	key := fmt.Sprintf("%d/%s", acct.ID, t.Hash)
	if _, ok := st.rows[key]; ok {
		return false, nil
	}
	st.rows[key] = t
	return true, nil
}

func (m *memStore) rowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.rows)
}

func (m *memStore) cursor(externalID string) (*string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.st.accounts {
		if a.ExternalID == externalID {
			c, ok := m.st.cursors[id]
			return c, ok
		}
	}
	return nil, false
}

func (m *memStore) account(externalID string) (model.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.st.accounts {
		if a.ExternalID == externalID {
			return a, true
		}
	}
	return model.Account{}, false
}

func providerHash(accountPK int64, txnID string) string {
	return teller.Transaction{ID: txnID}.ToModel(accountPK, "").Hash
}

// fakeAPI serves canned pages keyed by account and cursor. Queued errors for
// a key are returned first, one per call.
type fakeAPI struct {
	mu       sync.Mutex
	accounts map[string][]teller.Account
	pages    map[string]teller.Page
	errs     map[string][]error
	calls    []string
	onCall   func(key string)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		accounts: map[string][]teller.Account{},
		pages:    map[string]teller.Page{},
		errs:     map[string][]error{},
	}
}

func pageKey(token, accountID, cursor string) string {
	return token + "|" + accountID + "|" + cursor
}

func (f *fakeAPI) setPage(token, accountID, cursor string, txns ...teller.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := teller.Page{Transactions: txns}
	if n := len(txns); n > 0 {
		page.NextCursor = txns[n-1].Cursor
	}
	f.pages[pageKey(token, accountID, cursor)] = page
}

func (f *fakeAPI) failWith(key string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[key] = append(f.errs[key], errs...)
}

func (f *fakeAPI) ListAccounts(_ context.Context, token string) ([]teller.Account, error) {
	key := "accounts|" + token
	if err := f.next(key); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	accts, ok := f.accounts[token]
	if !ok {
		return nil, &teller.StatusError{StatusCode: 401, Body: "unauthorized"}
	}
	return accts, nil
}

func (f *fakeAPI) ListTransactions(_ context.Context, token, accountID, cursor string) (teller.Page, error) {
	key := pageKey(token, accountID, cursor)
	if err := f.next(key); err != nil {
		return teller.Page{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages[key], nil
}

func (f *fakeAPI) next(key string) error {
	f.mu.Lock()
	f.calls = append(f.calls, key)
	hook := f.onCall
	var err error
	if q := f.errs[key]; len(q) > 0 {
		err, f.errs[key] = q[0], q[1:]
	}
	f.mu.Unlock()
	if hook != nil {
		hook(key)
	}
	return err
}

func (f *fakeAPI) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == key {
			n++
		}
	}
	return n
}

func txn(id, cursor string, cents int64) teller.Transaction {
	return teller.Transaction{
		ID:          id,
		Date:        "2025-05-01",
		Description: "merchant " + id,
		Type:        "card_payment",
		Amount:      teller.Amount{Value: teller.Cents(cents), Currency: "USD"},
		Details:     teller.Details{Class: "card", Category: "dining"},
		Cursor:      cursor,
	}
}
