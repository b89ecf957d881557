package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artificers/ingest/internal/store"
)

// cancellingStore cancels the context from inside the transaction, the way a
// shutdown signal arriving mid-file would.
type cancellingStore struct {
	runner TxRunner
	cancel context.CancelFunc
}

func (s cancellingStore) InTx(ctx context.Context, fn func(store.DBTX) error) error {
	if s.cancel != nil {
		s.cancel()
	}
	return ctx.Err()
}

func TestScanAndIngest(t *testing.T) {
	h := newHarness(t)
	h.place(t, coFixture, "co1828-may.csv")
	h.place(t, "ch1234-2025-05.csv", "ch1234-may.csv")
	h.place(t, coFixture, "readme.csv")
	h.write(t, "co9999-empty.csv", "Transaction Date,Debit,Credit\n")
	h.write(t, "notes.txt", "ignored")

	sum, err := h.ingester.ScanAndIngest(context.Background(), h.dir)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Files)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 5, sum.Inserted)

	// name order
	require.Len(t, sum.Results, 4)
	assert.Equal(t, "ch1234-may.csv", filepath.Base(sum.Results[0].Path))

	left, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	var names []string
	for _, e := range left {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"error", "processed", "readme.csv", "notes.txt"}, names)
}

func TestScanAndIngest_Cancelled(t *testing.T) {
	h := newHarness(t)
	h.place(t, coFixture, "co1828.csv")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := h.ingester.ScanAndIngest(ctx, h.dir)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sum.Files)
	assert.True(t, exists(filepath.Join(h.dir, "co1828.csv")))
}

func TestScanAndIngest_MissingDir(t *testing.T) {
	h := newHarness(t)
	sum, err := h.ingester.ScanAndIngest(context.Background(), filepath.Join(h.dir, "nope"))
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Files)
}
