// Package importer turns institution CSV exports into canonical transactions
// according to a mapping document.
package importer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/artificers/ingest/internal/mapping"
	"github.com/artificers/ingest/internal/model"
)

// Row is one parsed CSV record.
type Row struct {
	Transaction model.Transaction
	Raw         map[string]string // normalized header -> cell
}

// Engine applies one institution's mapping to CSV input.
type Engine struct {
	mapping mapping.Mapping
}

// NewEngine returns an engine for m. Field keys are normalized here so callers
// may pass documents straight from disk.
func NewEngine(m mapping.Mapping) *Engine {
	return &Engine{mapping: m.Normalized()}
}

// NormalizeHeader lower-cases h and collapses whitespace and punctuation runs
// into a single underscore.
func NormalizeHeader(h string) string {
	return mapping.NormalizeHeader(h)
}

type column struct {
	index  int
	name   string
	spec   mapping.FieldSpec
	mapped bool
}

// Read parses every data row of r. accountID is the external account number
// the rows belong to. The first invalid row aborts the read.
func (e *Engine) Read(r io.Reader, accountID string) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}

	cols := make([]column, len(header))
	for i, h := range header {
		name := NormalizeHeader(h)
		spec, ok := e.mapping.Fields[name]
		cols[i] = column{index: i, name: name, spec: spec, mapped: ok}
	}

	var rows []Row
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("reading CSV row %d: %w", line, err)
		}
		row, err := e.buildRow(cols, rec, accountID, line)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (e *Engine) buildRow(cols []column, rec []string, accountID string, line int) (Row, error) {
	b := newRowBuilder(accountID)
	raw := make(map[string]string, len(cols))
	order := make([]string, 0, len(cols))

	for _, c := range cols {
		var cell string
		if c.index < len(rec) {
			cell = strings.TrimSpace(rec[c.index])
		}
		if _, seen := raw[c.name]; !seen {
			order = append(order, c.name)
		}
		raw[c.name] = cell

		if !c.mapped {
			continue
		}
		handle, ok := handlers[c.spec.Target]
		if !ok {
			continue
		}
		if err := handle(b, c.name, c.spec, cell); err != nil {
			return Row{}, &ValidationError{Row: line, Field: c.name, Reason: err.Error()}
		}
	}

	rawJSON, err := encodeRaw(order, raw)
	if err != nil {
		return Row{}, fmt.Errorf("row %d: encoding raw columns: %w", line, err)
	}
	t := b.build(rawJSON)
	if err := Validate(t); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.Row = line
		}
		return Row{}, err
	}
	return Row{Transaction: t, Raw: raw}, nil
}

// encodeRaw writes a JSON object preserving column order.
func encodeRaw(order []string, raw map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range order {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(raw[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
