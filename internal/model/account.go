package model

import "time"

// Account is a durable ledger account identified by (Institution, ExternalID).
// Institution and ExternalID never change after creation.
type Account struct {
	ID           int64
	Institution  string // short code, e.g. "ch"
	ExternalID   string // institution-scoped id, e.g. last four digits
	DisplayName  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	BackfilledAt *time.Time // set once the provider history has been drained
}

// Shorthand returns the "<institution><external id>" token, e.g. "ch1234".
func (a Account) Shorthand() string {
	return a.Institution + a.ExternalID
}

// PollCursor is the saved pagination position for one account.
// A nil Cursor means start of history.
type PollCursor struct {
	AccountID int64
	Cursor    *string
	UpdatedAt time.Time
}
