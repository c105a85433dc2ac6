package notifier

import "time"

// Config controls the async delivery pipeline.
type Config struct {
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

type HistoryItem struct {
	At     time.Time `json:"at"`
	Target string    `json:"target"`
	Text   string    `json:"text"`
}

// Delivery outcomes, counted per target.
const (
	outcomeQueued  = "queued"
	outcomeSent    = "sent"
	outcomeDropped = "dropped"
	outcomeDeduped = "deduped"
	outcomeFailed  = "failed"
)
