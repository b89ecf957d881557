package importer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/artificers/ingest/internal/model"
)

// ErrNoTransactions is returned for a file that yields no rows.
var ErrNoTransactions = errors.New("no transactions in file")

// ValidationError reports a malformed row.
type ValidationError struct {
	Row    int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validate checks the invariants every persisted transaction must satisfy.
func Validate(t model.Transaction) error {
	if strings.TrimSpace(t.AccountID) == "" {
		return &ValidationError{Field: "account_id", Reason: "is blank"}
	}
	if len(t.Amount.Currency) != 3 {
		return &ValidationError{Field: "currency", Reason: fmt.Sprintf("%q is not a 3-letter code", t.Amount.Currency)}
	}
	if strings.TrimSpace(t.Hash) == "" {
		return &ValidationError{Field: "hash", Reason: "is blank"}
	}
	return nil
}
