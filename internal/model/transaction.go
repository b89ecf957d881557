package model

import "time"

// Transaction sources.
const (
	SourceCSV = "csv"
)

// Transaction is the canonical, immutable form of one ledger movement.
// Identity for deduplication is (owning account, Hash).
type Transaction struct {
	AccountID  string // external account id the record was read for
	OccurredAt *time.Time
	PostedAt   *time.Time
	Amount     Money // negative = money out
	Merchant   *string
	Category   *string
	Type       *string
	Memo       *string
	Hash       string
	RawJSON    []byte // original row or payload, for audit
	Source     string
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
