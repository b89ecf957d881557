package poller

import "time"

// Mode names the kind of run.
type Mode string

const (
	ModeBackfill Mode = "backfill"
	ModePoll     Mode = "poll"
)

// Report summarizes one run.
type Report struct {
	RunID     string    `json:"run_id"`
	Mode      Mode      `json:"mode"`
	Accounts  int       `json:"accounts"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Inserted  int       `json:"inserted"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
}
