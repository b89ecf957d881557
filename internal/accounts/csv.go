package accounts

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/artificers/ingest/internal/model"
)

var csvHeader = []string{"id", "shorthand", "institution", "external_id", "display_name", "created_at", "backfilled_at"}

// WriteCSV writes an account listing.
func WriteCSV(w io.Writer, accounts []model.Account) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, acct := range accounts {
		if err := cw.Write(marshalAccount(acct)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func marshalAccount(a model.Account) []string {
	var backfilled string
	if a.BackfilledAt != nil {
		backfilled = a.BackfilledAt.UTC().Format(time.RFC3339)
	}
	return []string{
		strconv.FormatInt(a.ID, 10),
		a.Shorthand(),
		a.Institution,
		a.ExternalID,
		a.DisplayName,
		a.CreatedAt.UTC().Format(time.RFC3339),
		backfilled,
	}
}
