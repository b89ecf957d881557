package importer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/artificers/ingest/internal/mapping"
)

// DefaultDatePattern is used when a timestamp column has no explicit format.
const DefaultDatePattern = "MM/dd/yyyy"

// ParseTimestamp tries an RFC 3339 instant, then an ISO date at UTC midnight,
// then pattern (see mapping.Layout). Blank or unparseable values yield nil.
func ParseTimestamp(v, pattern string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		t = t.UTC()
		return &t
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return &t
	}
	if pattern == "" {
		pattern = DefaultDatePattern
	}
	layout, err := mapping.Layout(pattern)
	if err != nil {
		return nil
	}
	if t, err := time.Parse(layout, v); err == nil {
		t = t.UTC()
		return &t
	}
	return nil
}

// parseCurrencyCents reads a decimal amount such as "1,234.56", "$12.00" or
// "(4.10)" and rounds it half-up to whole cents.
func parseCurrencyCents(v string) (int64, error) {
	s := strings.TrimSpace(v)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer(",", "", "$", "", " ", "").Replace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if negative {
		d = d.Neg()
	}
	return d.Shift(2).Round(0).IntPart(), nil
}

func parseIntCents(v string) (int64, error) {
	s := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %w", err)
	}
	return n, nil
}
