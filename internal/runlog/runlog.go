// Package runlog keeps a CSV audit trail of file ingestion outcomes.
package runlog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/artificers/ingest/internal/ingest"
)

// Entry is one row in the run log.
type Entry struct {
	Timestamp    time.Time
	RunID        string
	File         string
	Shorthand    string
	State        string
	Transactions int
	Error        string
}

// Header is the CSV header of the run log.
const Header = "timestamp,run_id,file,shorthand,state,transactions,error"

const (
	numFields       = 7
	colTimestamp    = 0
	colRunID        = 1
	colFile         = 2
	colShorthand    = 3
	colState        = 4
	colTransactions = 5
	colError        = 6
)

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTimestamp] = e.Timestamp.UTC().Format(time.RFC3339)
	row[colRunID] = e.RunID
	row[colFile] = e.File
	row[colShorthand] = e.Shorthand
	row[colState] = e.State
	row[colTransactions] = strconv.Itoa(e.Transactions)
	row[colError] = e.Error
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[colTimestamp])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}
	n, err := strconv.Atoi(record[colTransactions])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing transactions %q: %w", record[colTransactions], err)
	}

	return Entry{
		Timestamp:    ts,
		RunID:        record[colRunID],
		File:         record[colFile],
		Shorthand:    record[colShorthand],
		State:        record[colState],
		Transactions: n,
		Error:        record[colError],
	}, nil
}

// FromResult builds the entry for one ingest outcome.
func FromResult(res ingest.Result) Entry {
	e := Entry{
		Timestamp:    res.Finished,
		RunID:        res.RunID,
		File:         filepath.Base(res.Path),
		Shorthand:    res.Shorthand,
		State:        string(res.State),
		Transactions: res.Inserted,
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	return e
}

// Append writes entries to path, creating the file, its directory and the
// header if needed.
func Append(path string, entries []Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}

	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening run log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read returns all entries in path. A missing file yields no entries.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	defer f.Close()

	return readEntries(f)
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading run log CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// FileRecorder appends each ingest outcome to a run log file.
type FileRecorder struct {
	path string
	mu   sync.Mutex
}

// NewFileRecorder records into path.
func NewFileRecorder(path string) *FileRecorder {
	return &FileRecorder{path: path}
}

// Path is the log file location.
func (r *FileRecorder) Path() string { return r.path }

// Record appends res.
func (r *FileRecorder) Record(_ context.Context, res ingest.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Append(r.path, []Entry{FromResult(res)})
}
