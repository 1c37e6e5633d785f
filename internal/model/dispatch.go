package model

import "time"

// DispatchRecord is one entry of the dispatch ledger.
type DispatchRecord struct {
	ID           string    `db:"id" json:"id"`
	RunID        string    `db:"run_id" json:"run_id"`
	Rule         string    `db:"rule" json:"rule"`
	URL          string    `db:"url" json:"url"`
	Mailbox      string    `db:"mailbox" json:"mailbox"`
	UID          uint32    `db:"uid" json:"uid"`
	MessageID    string    `db:"message_id" json:"message_id,omitempty"`
	StatusCode   int       `db:"status_code" json:"status_code,omitempty"`
	Digest       string    `db:"digest" json:"digest,omitempty"`
	Error        string    `db:"error" json:"error,omitempty"`
	DispatchedAt time.Time `db:"dispatched_at" json:"dispatched_at"`
}

// Succeeded reports whether the endpoint accepted the message.
func (r DispatchRecord) Succeeded() bool {
	return r.Error == ""
}
