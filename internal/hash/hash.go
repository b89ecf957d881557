// Package hash derives the deduplication keys stored in transactions.hash.
//
// CSV rows have no natural key, so they are fingerprinted by content. Provider
// transactions carry a stable provider id, which is used instead so that
// provider-side edits to a transaction do not produce a second row.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/artificers/ingest/internal/model"
)

// Fingerprint hashes (account id, amount cents, currency, occurred-at, merchant).
// Missing values hash as empty strings.
func Fingerprint(accountID string, amount model.Money, occurredAt *time.Time, merchant *string) string {
	occurred := ""
	if occurredAt != nil {
		occurred = occurredAt.UTC().Format(time.RFC3339Nano)
	}
	canonical := strings.Join([]string{
		accountID,
		strconv.FormatInt(amount.AmountCents, 10),
		amount.Currency,
		occurred,
		model.Deref(merchant),
	}, "|")
	return sum(canonical)
}

// ProviderFingerprint hashes the owning account key and the provider's transaction id.
func ProviderFingerprint(accountPK int64, providerID string) string {
	return sum(strconv.FormatInt(accountPK, 10) + ":" + providerID)
}

func sum(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
