// Package storetest provides a migrated, empty database for integration tests.
package storetest

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artificers/ingest/internal/store"
)

// EnvURL names the variable holding the test database URL.
const EnvURL = "INGEST_TEST_DATABASE_URL"

// Open connects to the test database, applies the schema and empties every
// table. The test is skipped when EnvURL is unset.
func Open(t *testing.T) *store.Store {
	t.Helper()
	url := os.Getenv(EnvURL)
	if url == "" {
		t.Skip(EnvURL + " not set")
	}
	ctx := context.Background()
	s, err := store.Open(ctx, url, 8)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, store.Migrate(ctx, s.DB()))
	_, err = s.DB().Exec(ctx, `TRUNCATE account_poll_state, transactions, accounts RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return s
}
