package importer

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/artificers/ingest/internal/hash"
	"github.com/artificers/ingest/internal/mapping"
	"github.com/artificers/ingest/internal/model"
)

// rowBuilder accumulates one row. It is discarded once build is called.
type rowBuilder struct {
	accountID  string
	occurredAt *time.Time
	postedAt   *time.Time
	cents      int64
	currency   string
	merchant   string
	category   string
	txType     string
	memo       string
}

func newRowBuilder(accountID string) *rowBuilder {
	return &rowBuilder{accountID: accountID, currency: model.DefaultCurrency}
}

func (b *rowBuilder) build(rawJSON []byte) model.Transaction {
	amount := model.Money{AmountCents: b.cents, Currency: strings.ToUpper(b.currency)}
	merchant := model.StringPtr(b.merchant)
	return model.Transaction{
		AccountID:  b.accountID,
		OccurredAt: b.occurredAt,
		PostedAt:   b.postedAt,
		Amount:     amount,
		Merchant:   merchant,
		Category:   model.StringPtr(b.category),
		Type:       model.StringPtr(b.txType),
		Memo:       model.StringPtr(b.memo),
		Hash:       hash.Fingerprint(b.accountID, amount, b.occurredAt, merchant),
		RawJSON:    rawJSON,
		Source:     model.SourceCSV,
	}
}

type fieldHandler func(b *rowBuilder, column string, spec mapping.FieldSpec, value string) error

var handlers = map[mapping.Target]fieldHandler{
	mapping.TargetOccurredAt: func(b *rowBuilder, _ string, spec mapping.FieldSpec, v string) error {
		b.occurredAt = ParseTimestamp(v, spec.Format)
		return nil
	},
	mapping.TargetPostedAt: func(b *rowBuilder, _ string, spec mapping.FieldSpec, v string) error {
		b.postedAt = ParseTimestamp(v, spec.Format)
		return nil
	},
	mapping.TargetAmountCents: handleAmount,
	mapping.TargetCurrency: func(b *rowBuilder, _ string, _ mapping.FieldSpec, v string) error {
		if v != "" {
			b.currency = v
		}
		return nil
	},
	mapping.TargetMerchant: func(b *rowBuilder, _ string, _ mapping.FieldSpec, v string) error {
		b.merchant = v
		return nil
	},
	mapping.TargetCategory: func(b *rowBuilder, _ string, _ mapping.FieldSpec, v string) error {
		b.category = v
		return nil
	},
	mapping.TargetType: func(b *rowBuilder, _ string, _ mapping.FieldSpec, v string) error {
		b.txType = v
		return nil
	},
	mapping.TargetMemo: func(b *rowBuilder, _ string, _ mapping.FieldSpec, v string) error {
		b.memo = v
		return nil
	},
	// raw columns only appear in the raw JSON document
	mapping.TargetRaw: func(*rowBuilder, string, mapping.FieldSpec, string) error { return nil },
}

// handleAmount adds the cell to the running total, or subtracts it when the
// column is a debit column.
func handleAmount(b *rowBuilder, column string, spec mapping.FieldSpec, v string) error {
	if v == "" {
		return nil
	}
	var (
		cents int64
		err   error
	)
	switch spec.Type {
	case mapping.TypeInt:
		cents, err = parseIntCents(v)
	default:
		cents, err = parseCurrencyCents(v)
	}
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", v, err)
	}
	if isDebit(column) {
		b.cents -= cents
	} else {
		b.cents += cents
	}
	return nil
}

// isDebit reports whether a normalized header names a debit column, ignoring
// accents so "débit" counts.
func isDebit(column string) bool {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), column)
	if err != nil {
		folded = column
	}
	return strings.Contains(folded, "debit")
}
