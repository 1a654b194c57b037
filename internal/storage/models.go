package storage

import (
	"time"
)

// ConsumedItem is one entry of a user's confirmed-consumption list.
// This list is the durable source of truth the in-memory tracker
// reconciles against on startup.
type ConsumedItem struct {
	UserID     string
	ItemID     string
	ConsumedAt time.Time
}

// FeedbackRecord is a locally kept audit entry for feedback submitted
// to the remote backend.
type FeedbackRecord struct {
	ID           string
	UserID       string
	SuggestionID string
	Action       string // "accepted", "rejected", "hidden"
	Rating       int
	CreatedAt    time.Time
}
