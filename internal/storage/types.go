package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUnknownCounter = errors.New("unknown counter")
	ErrNegativeDelta  = errors.New("negative counter increment")
	ErrClosed         = errors.New("store closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory" (default when empty)
//   - "file": Path is the prefix for the .events.jsonl and .users.* files
//   - "sqlite": Path is the database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Counter names. They double as sqlite column names.
const (
	CounterMessages    = "message_count"
	CounterFirst       = "first_count"
	CounterSubs        = "sub_count"
	CounterGifts       = "gift_count"
	CounterGiftSubs    = "gift_subs"
	CounterRaids       = "raid_count"
	CounterRaidViewers = "raid_viewers"
)

// CounterNames lists every incrementable counter in column order.
var CounterNames = []string{
	CounterMessages,
	CounterFirst,
	CounterSubs,
	CounterGifts,
	CounterGiftSubs,
	CounterRaids,
	CounterRaidViewers,
}

func IsCounter(name string) bool {
	for _, c := range CounterNames {
		if c == name {
			return true
		}
	}
	return false
}

// Counters are the per-user aggregates. FollowDate is unix seconds and is
// set at most once; zero means not following.
type Counters struct {
	MessageCount int64 `json:"message_count"`
	FirstCount   int64 `json:"first_count"`
	SubCount     int64 `json:"sub_count"`
	GiftCount    int64 `json:"gift_count"`
	GiftSubs     int64 `json:"gift_subs"`
	RaidCount    int64 `json:"raid_count"`
	RaidViewers  int64 `json:"raid_viewers"`
	FollowDate   int64 `json:"follow_date,omitempty"`
}

func (c *Counters) ptr(name string) *int64 {
	switch name {
	case CounterMessages:
		return &c.MessageCount
	case CounterFirst:
		return &c.FirstCount
	case CounterSubs:
		return &c.SubCount
	case CounterGifts:
		return &c.GiftCount
	case CounterGiftSubs:
		return &c.GiftSubs
	case CounterRaids:
		return &c.RaidCount
	case CounterRaidViewers:
		return &c.RaidViewers
	}
	return nil
}

// Get returns the named counter.
func (c Counters) Get(name string) (int64, bool) {
	p := c.ptr(name)
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Apply adds u to c in place.
func (c *Counters) Apply(u CounterUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	for name, d := range u.Increments {
		*c.ptr(name) += d
	}
	if u.FollowDate != 0 && c.FollowDate == 0 {
		c.FollowDate = u.FollowDate
	}
	return nil
}

// CounterUpdate is an atomic change to one user's counters.
type CounterUpdate struct {
	Increments map[string]int64
	// FollowDate sets follow_date only if it is unset.
	FollowDate int64
}

func (u CounterUpdate) Validate() error {
	for name := range u.Increments {
		if !IsCounter(name) {
			return fmt.Errorf("%w: %s", ErrUnknownCounter, name)
		}
		if d := u.Increments[name]; d < 0 {
			return fmt.Errorf("%w: %s %d", ErrNegativeDelta, name, d)
		}
	}
	return nil
}

func (u CounterUpdate) IsZero() bool {
	return len(u.Increments) == 0 && u.FollowDate == 0
}

// UserRecord is a stored user.
type UserRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name,omitempty"`
	Color       string   `json:"color,omitempty"`
	Counters    Counters `json:"counters"`
}

// Occurrence is one persisted event log row. Timestamp is unix seconds.
type Occurrence struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Timestamp int64  `json:"ts"`
	Count     int64  `json:"count"`
}

// Stats aggregates counters across all users plus event log totals by type.
type Stats struct {
	Users     int64            `json:"users"`
	Followers int64            `json:"followers"`
	Totals    map[string]int64 `json:"totals"`
	Events    map[string]int64 `json:"events"`
}

// Store is the persistence API used by the event pipeline.
type Store interface {
	// EnsureUser creates the user or refreshes its name, display name and
	// color. Counters are never touched.
	EnsureUser(ctx context.Context, u UserRecord) error
	GetUser(ctx context.Context, id string) (UserRecord, bool, error)
	// FindUserByName matches Name case-insensitively.
	FindUserByName(ctx context.Context, name string) (UserRecord, bool, error)
	UpdateCounters(ctx context.Context, userID string, u CounterUpdate) error
	AppendEventLog(ctx context.Context, o Occurrence) error
	// QueryRecentEvents returns rows most recent first. limit <= 0 returns all.
	QueryRecentEvents(ctx context.Context, limit int) ([]Occurrence, error)
	QueryAggregateStats(ctx context.Context) (Stats, error)
	// TopUsers orders users by counter descending.
	TopUsers(ctx context.Context, counter string, limit int) ([]UserRecord, error)
	Close() error
}

func normName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
