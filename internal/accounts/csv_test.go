package accounts

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artificers/ingest/internal/model"
)

func TestWriteCSV(t *testing.T) {
	created := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	backfilled := created.Add(time.Hour)
	accts := []model.Account{
		{ID: 1, Institution: "co", ExternalID: "1828", DisplayName: "1828", CreatedAt: created},
		{ID: 2, Institution: "teller", ExternalID: "acc_x1", DisplayName: "Checking, main", CreatedAt: created, BackfilledAt: &backfilled},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, accts))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, []string{"1", "co1828", "co", "1828", "1828", "2025-05-01T09:00:00Z", ""}, records[1])
	assert.Equal(t, "Checking, main", records[2][4])
	assert.Equal(t, "2025-05-01T10:00:00Z", records[2][6])
}

func TestWriteCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, "id,shorthand,institution,external_id,display_name,created_at,backfilled_at\n", buf.String())
}
