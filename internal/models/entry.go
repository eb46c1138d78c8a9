package models

import "time"

// Entry is the unit stored by the in-process cache layer.
type Entry struct {
	Data       []byte
	Expiration time.Time
}

// NewEntry creates a new Entry.
func NewEntry(data []byte, expiration time.Time) *Entry {
	return &Entry{Data: data, Expiration: expiration}
}

// IsExpired reports whether the entry is past its expiration at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return !e.Expiration.IsZero() && !now.Before(e.Expiration)
}
