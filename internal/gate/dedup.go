// Package gate decides whether an event or command may proceed.
package gate

import (
	"context"
	"strings"

	"streamhub/internal/storage"
)

// ChatscorePrefix marks chat-derived scoring events.
const ChatscorePrefix = "chatscore-"

func IsChatscore(typ string) bool { return strings.HasPrefix(typ, ChatscorePrefix) }

// EventLog is the read side of the store used for duplicate detection.
type EventLog interface {
	QueryRecentEvents(ctx context.Context, limit int) ([]storage.Occurrence, error)
}

// Dedup detects events that platforms deliver more than once.
type Dedup struct {
	log       EventLog
	scanLimit int
	// once holds types that count at most once per user ever.
	once map[string]struct{}
}

// NewDedup builds a dedup gate. scanLimit bounds the number of log rows
// examined; 0 scans every row.
func NewDedup(log EventLog, scanLimit int) *Dedup {
	if scanLimit < 0 {
		scanLimit = 0
	}
	return &Dedup{
		log:       log,
		scanLimit: scanLimit,
		once:      map[string]struct{}{"follow": {}},
	}
}

// IsDuplicate reports whether occ was already logged. Follow-class types
// match on type and user alone; others also need an equal count and a
// timestamp within one second.
func (d *Dedup) IsDuplicate(ctx context.Context, occ storage.Occurrence) (bool, error) {
	rows, err := d.log.QueryRecentEvents(ctx, d.scanLimit)
	if err != nil {
		return false, err
	}
	_, onceOnly := d.once[occ.Type]
	for _, r := range rows {
		if r.Type != occ.Type || r.UserID != occ.UserID {
			continue
		}
		if onceOnly {
			return true, nil
		}
		if r.Count == occ.Count && abs(r.Timestamp-occ.Timestamp) <= 1 {
			return true, nil
		}
	}
	return false, nil
}

// ChatscoreRepeat reports whether the most recent log row is the same
// chatscore type from the same user. It stops a viewer from farming a score
// with back-to-back messages.
func (d *Dedup) ChatscoreRepeat(ctx context.Context, typ, userID string) (bool, error) {
	rows, err := d.log.QueryRecentEvents(ctx, 1)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	return rows[0].Type == typ && rows[0].UserID == userID, nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
