package ingest

import "time"

// State is a file's position in the ingest state machine.
type State string

const (
	Discovered State = "discovered"
	Parsing    State = "parsing"
	Persisting State = "persisting"
	Processed  State = "processed"
	Error      State = "error"
	Skipped    State = "skipped"
)

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == Processed || s == Error || s == Skipped
}

// Result describes what happened to one file.
type Result struct {
	RunID       string
	Path        string
	Shorthand   string
	State       State
	Count       int
	Inserted    int
	Destination string
	Err         error
	Started     time.Time
	Finished    time.Time
}

func (r Result) skip() Result {
	r.State = Skipped
	return r
}

// Summary aggregates a directory scan.
type Summary struct {
	Files     int
	Processed int
	Failed    int
	Skipped   int
	Inserted  int
	Results   []Result
}

func (s *Summary) add(r Result) {
	s.Files++
	s.Results = append(s.Results, r)
	switch r.State {
	case Processed:
		s.Processed++
		s.Inserted += r.Inserted
	case Skipped:
		s.Skipped++
	default:
		s.Failed++
	}
}
