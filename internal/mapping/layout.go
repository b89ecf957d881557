package mapping

import (
	"fmt"
	"strings"
	"time"
)

var patternTokens = map[string]string{
	"yyyy": "2006",
	"yy":   "06",
	"MMMM": "January",
	"MMM":  "Jan",
	"MM":   "01",
	"M":    "1",
	"dd":   "02",
	"d":    "2",
	"EEEE": "Monday",
	"EEE":  "Mon",
	"HH":   "15",
	"hh":   "03",
	"h":    "3",
	"mm":   "04",
	"m":    "4",
	"ss":   "05",
	"s":    "5",
	"a":    "PM",
	"SSS":  "000",
	"z":    "MST",
	"Z":    "-0700",
	"XXX":  "Z07:00",
}

// goReference holds fragments only a Go layout contains.
var goReference = []string{"2006", "Jan", "Mon", "15:04", "MST", "Z07", "-0700"}

var layoutCheck = time.Date(2025, time.April, 30, 10, 0, 0, 0, time.UTC)

// Layout turns a date pattern into a Go time layout. Patterns already written
// as Go layouts pass through. Otherwise letter runs are translated
// (yyyy-MM-dd HH:mm:ss), text inside single quotes is literal and ''
// is a quote. Unknown letters and layouts that cannot carry a full
// date are errors.
func Layout(pattern string) (string, error) {
	if strings.TrimSpace(pattern) == "" {
		return "", fmt.Errorf("date pattern is blank")
	}
	layout := pattern
	if !isGoLayout(pattern) {
		var err error
		if layout, err = translate(pattern); err != nil {
			return "", err
		}
	}
	back, err := time.Parse(layout, layoutCheck.Format(layout))
	if err != nil {
		return "", fmt.Errorf("date pattern %q: %w", pattern, err)
	}
	if back.Year() != layoutCheck.Year() || back.Month() != layoutCheck.Month() || back.Day() != layoutCheck.Day() {
		return "", fmt.Errorf("date pattern %q must include year, month and day", pattern)
	}
	return layout, nil
}

func isGoLayout(pattern string) bool {
	bare := unquoted(pattern)
	for _, ref := range goReference {
		if strings.Contains(bare, ref) {
			return true
		}
	}
	return false
}

// unquoted drops quoted literals so they cannot be mistaken for layout text.
func unquoted(pattern string) string {
	var sb strings.Builder
	quoted := false
	for _, r := range pattern {
		if r == '\'' {
			quoted = !quoted
			continue
		}
		if !quoted {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func translate(pattern string) (string, error) {
	var sb strings.Builder
	rs := []rune(pattern)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case r == '\'':
			if i+1 < len(rs) && rs[i+1] == '\'' {
				sb.WriteRune('\'')
				i += 2
				continue
			}
			lit, next, ok := literal(rs, i+1)
			if !ok {
				return "", fmt.Errorf("date pattern %q: unterminated quote", pattern)
			}
			sb.WriteString(lit)
			i = next
		case isLetter(r):
			j := i
			for j < len(rs) && rs[j] == r {
				j++
			}
			run := string(rs[i:j])
			repl, ok := patternTokens[run]
			if !ok {
				return "", fmt.Errorf("date pattern %q: unsupported field %q", pattern, run)
			}
			sb.WriteString(repl)
			i = j
		default:
			sb.WriteRune(r)
			i++
		}
	}
	return sb.String(), nil
}

// literal reads quoted text starting at i up to the closing quote and
// returns it with the index just past that quote.
func literal(rs []rune, i int) (string, int, bool) {
	var sb strings.Builder
	for ; i < len(rs); i++ {
		if rs[i] != '\'' {
			sb.WriteRune(rs[i])
			continue
		}
		if i+1 < len(rs) && rs[i+1] == '\'' {
			sb.WriteRune('\'')
			i++
			continue
		}
		return sb.String(), i + 1, true
	}
	return "", i, false
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
