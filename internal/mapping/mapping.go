// Package mapping holds the declarative per-institution CSV mapping documents.
package mapping

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Target names the canonical field a CSV column feeds.
type Target string

const (
	TargetOccurredAt  Target = "occurred_at"
	TargetPostedAt    Target = "posted_at"
	TargetAmountCents Target = "amount_cents"
	TargetCurrency    Target = "currency"
	TargetMerchant    Target = "merchant"
	TargetCategory    Target = "category"
	TargetType        Target = "type"
	TargetMemo        Target = "memo"
	TargetRaw         Target = "raw"
)

// Amount and date kinds.
const (
	TypeCurrency  = "currency"  // decimal string such as "1,234.56"
	TypeInt       = "int"       // integer cents
	TypeTimestamp = "timestamp" // date or instant
)

var validTargets = map[Target]bool{
	TargetOccurredAt:  true,
	TargetPostedAt:    true,
	TargetAmountCents: true,
	TargetCurrency:    true,
	TargetMerchant:    true,
	TargetCategory:    true,
	TargetType:        true,
	TargetMemo:        true,
	TargetRaw:         true,
}

// FieldSpec binds one CSV column to a target.
type FieldSpec struct {
	Target Target `yaml:"target" json:"target"`
	Type   string `yaml:"type,omitempty" json:"type,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"` // explicit date pattern
}

// Mapping is one institution's column bindings, keyed by normalized header.
type Mapping struct {
	Institution string               `yaml:"institution" json:"institution"`
	Fields      map[string]FieldSpec `yaml:"fields" json:"fields"`
}

var (
	separatorRun = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

// NormalizeHeader lower-cases a header and collapses whitespace and punctuation
// into single underscores: " Card No. " -> "card_no". Letters outside ASCII
// are kept, so "Débit" -> "débit".
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = separatorRun.ReplaceAllString(strings.ToLower(h), "_")
	return strings.Trim(h, "_")
}

// Normalized returns a copy with lower-case institution and normalized field keys.
func (m Mapping) Normalized() Mapping {
	out := Mapping{
		Institution: strings.ToLower(strings.TrimSpace(m.Institution)),
		Fields:      make(map[string]FieldSpec, len(m.Fields)),
	}
	for k, spec := range m.Fields {
		spec.Target = Target(strings.ToLower(string(spec.Target)))
		spec.Type = strings.ToLower(spec.Type)
		out.Fields[NormalizeHeader(k)] = spec
	}
	return out
}

// Validate checks targets, amount types and date patterns.
func (m Mapping) Validate() error {
	if strings.TrimSpace(m.Institution) == "" {
		return fmt.Errorf("mapping: institution is required")
	}
	if len(m.Fields) == 0 {
		return fmt.Errorf("mapping %s: no fields", m.Institution)
	}
	keys := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		spec := m.Fields[k]
		if !validTargets[spec.Target] {
			return fmt.Errorf("mapping %s: field %q: unknown target %q", m.Institution, k, spec.Target)
		}
		if spec.Target == TargetAmountCents && spec.Type != TypeCurrency && spec.Type != TypeInt {
			return fmt.Errorf("mapping %s: field %q: amount type must be %q or %q, got %q",
				m.Institution, k, TypeCurrency, TypeInt, spec.Type)
		}
		if spec.Format != "" && (spec.Target == TargetOccurredAt || spec.Target == TargetPostedAt) {
			if _, err := Layout(spec.Format); err != nil {
				return fmt.Errorf("mapping %s: field %q: %w", m.Institution, k, err)
			}
		}
	}
	return nil
}
