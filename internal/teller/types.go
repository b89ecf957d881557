package teller

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/artificers/ingest/internal/hash"
	"github.com/artificers/ingest/internal/model"
)

// Account is a remote account.
type Account struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Subtype     string          `json:"subtype"`
	LastFour    string          `json:"last_four"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	Institution InstitutionInfo `json:"institution"`
}

// InstitutionInfo names the bank behind a remote account.
type InstitutionInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DisplayName is the account name, or its id when unnamed.
func (a Account) DisplayName() string {
	if strings.TrimSpace(a.Name) != "" {
		return a.Name
	}
	return a.ID
}

// Cents decodes an amount as integer cents. Integers are taken as cents;
// quoted decimals such as "-12.34" are taken as currency units.
type Cents int64

func (c *Cents) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*c = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("amount %q: %w", s, err)
		}
		*c = Cents(d.Shift(2).Round(0).IntPart())
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("amount %s: %w", b, err)
	}
	*c = Cents(n)
	return nil
}

// Amount is a signed amount with its currency.
type Amount struct {
	Value    Cents  `json:"value"`
	Currency string `json:"currency"`
}

// Details carries provider enrichment.
type Details struct {
	Class    string `json:"class"`
	Category string `json:"category"`
}

// Transaction is one remote transaction as returned by the API.
type Transaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Amount      Amount          `json:"amount"`
	Details     Details         `json:"details"`
	Cursor      string          `json:"cursor"`
	Raw         json.RawMessage `json:"-"`
}

// Page is one response of the transactions listing.
type Page struct {
	Transactions []Transaction
	NextCursor   string // cursor of the last element, blank when the page is empty
}

func decodePage(raws []json.RawMessage) (Page, error) {
	page := Page{Transactions: make([]Transaction, 0, len(raws))}
	for i, raw := range raws {
		var t Transaction
		if err := json.Unmarshal(raw, &t); err != nil {
			return Page{}, fmt.Errorf("element %d: %w", i, err)
		}
		t.Raw = append(json.RawMessage(nil), raw...)
		page.Transactions = append(page.Transactions, t)
	}
	if n := len(page.Transactions); n > 0 {
		page.NextCursor = page.Transactions[n-1].Cursor
	}
	return page, nil
}

// InvalidTransactionError rejects a remote transaction that cannot be stored.
type InvalidTransactionError struct {
	ID     string
	Reason string
}

func (e *InvalidTransactionError) Error() string {
	return fmt.Sprintf("transaction %q: %s", e.ID, e.Reason)
}

// Validate rejects a transaction without an id, or one whose currency is not
// a 3-letter code. A blank currency is allowed and defaults in ToModel.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return &InvalidTransactionError{ID: t.ID, Reason: "id is blank"}
	}
	if c := strings.TrimSpace(t.Amount.Currency); c != "" && !currencyCode(c) {
		return &InvalidTransactionError{ID: t.ID, Reason: fmt.Sprintf("currency %q is not a 3-letter code", c)}
	}
	return nil
}

func currencyCode(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// ToModel converts t for the stored account accountPK. The hash is keyed on
// the provider's transaction id, not on content.
func (t Transaction) ToModel(accountPK int64, externalID string) model.Transaction {
	currency := strings.ToUpper(strings.TrimSpace(t.Amount.Currency))
	if currency == "" {
		currency = model.DefaultCurrency
	}
	var occurred *time.Time
	if d, err := time.Parse(time.DateOnly, strings.TrimSpace(t.Date)); err == nil {
		occurred = &d
	}
	raw := t.Raw
	if len(raw) == 0 {
		raw, _ = json.Marshal(t)
	}
	return model.Transaction{
		AccountID:  externalID,
		OccurredAt: occurred,
		PostedAt:   occurred,
		Amount:     model.Money{AmountCents: int64(t.Amount.Value), Currency: currency},
		Merchant:   model.StringPtr(t.Description),
		Category:   model.StringPtr(t.Details.Category),
		Type:       model.StringPtr(t.Type),
		Memo:       model.StringPtr(t.Details.Class),
		Hash:       hash.ProviderFingerprint(accountPK, t.ID),
		RawJSON:    raw,
		Source:     Institution,
	}
}
