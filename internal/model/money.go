package model

import (
	"fmt"
	"strings"
)

// DefaultCurrency is assumed when a source does not state one.
const DefaultCurrency = "USD"

// Money is a signed amount in minor units (cents) of a three-letter currency.
type Money struct {
	AmountCents int64
	Currency    string
}

// NewMoney validates the currency code and returns a Money value.
func NewMoney(cents int64, currency string) (Money, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if len(code) != 3 {
		return Money{}, fmt.Errorf("currency must be a 3-letter code, got %q", currency)
	}
	return Money{AmountCents: cents, Currency: code}, nil
}

// String formats the amount as "-14.12 USD".
func (m Money) String() string {
	sign := ""
	cents := m.AmountCents
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, m.Currency)
}
