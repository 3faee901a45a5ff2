package model

import "time"

// JournalEntry records one outcome of an endpoint mutation.
type JournalEntry struct {
	ID        string    `json:"id"`
	Op        string    `json:"op"` // add, remove, rollback, load
	Endpoint  string    `json:"endpoint,omitempty"`
	Result    string    `json:"result"` // ok or failed
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
