package id

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrInvalidShorthand is returned for tokens that are not "<letters><4 digits>".
var ErrInvalidShorthand = errors.New("invalid account shorthand")

var (
	shorthandPattern = regexp.MustCompile(`^([a-z]+)(\d{4})$`)
	filePattern      = regexp.MustCompile(`^([a-z]+\d{4}).*\.csv$`)
)

// Shorthand is a parsed "<institution><external id>" token.
type Shorthand struct {
	Institution string
	ExternalID  string
}

// String returns the canonical lower-case token, e.g. "ch1234".
func (s Shorthand) String() string {
	return FormatShorthand(s.Institution, s.ExternalID)
}

// FormatShorthand joins an institution code and external id: ("co", "1828") -> "co1828".
func FormatShorthand(institution, externalID string) string {
	return strings.ToLower(institution) + externalID
}

// ParseShorthand parses "ch1234" into ("ch", "1234"). Matching is case-insensitive.
func ParseShorthand(s string) (Shorthand, error) {
	if strings.TrimSpace(s) == "" {
		return Shorthand{}, fmt.Errorf("%w: missing", ErrInvalidShorthand)
	}
	m := shorthandPattern.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return Shorthand{}, fmt.Errorf("%w: %q", ErrInvalidShorthand, s)
	}
	return Shorthand{Institution: m[1], ExternalID: m[2]}, nil
}

// ExtractShorthand returns the shorthand prefix of a CSV file name.
// "ch1234-april.csv" -> "ch1234". ok is false for names that do not follow the convention.
func ExtractShorthand(path string) (string, bool) {
	m := filePattern.FindStringSubmatch(strings.ToLower(filepath.Base(path)))
	if m == nil {
		return "", false
	}
	return m[1], true
}
