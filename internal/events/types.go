// Package events runs the event pipeline: validate, broadcast, persist and
// render a chat line for every platform, chat or webhook event.
package events

import (
	"time"

	"streamhub/internal/identity"
)

// Well-known event types.
const (
	TypeFollow        = "follow"
	TypeSub           = "sub"
	TypeResub         = "resub"
	TypeSubGift       = "subgift"
	TypeCommunityGift = "communitygift"
	TypeRaid          = "raid"
	TypeCheer         = "cheer"
	TypeFirst         = "first"
	TypeRedemption    = "redemption"
	TypeAdBreak       = "adbreak"
	TypeShieldOn      = "shieldmodeon"
	TypeShieldOff     = "shieldmodeoff"
	TypeStreamOnline  = "streamonline"
	TypeStreamOffline = "streamoffline"
	TypeDonation      = "donation"
	TypeFocusStop     = "focusstop"
)

// RawEvent is an event as it arrives from a source.
type RawEvent struct {
	Type      string
	User      identity.Raw
	Count     int64
	Text      string
	Timestamp time.Time
	IsTest    bool
	// Sender is who triggered the event when it differs from User, e.g. the
	// gifter of a gifted sub or the operator of a test.
	Sender string
}

// Outcome reports what the pipeline did with an event.
type Outcome struct {
	Type       string `json:"type"`
	Rejected   string `json:"rejected,omitempty"` // reason, empty if accepted
	Broadcast  bool   `json:"broadcast"`
	Duplicate  bool   `json:"duplicate,omitempty"`
	Persisted  bool   `json:"persisted"`
	ChatText   string `json:"chatText,omitempty"`
	Delivered  int    `json:"delivered"`
	PayloadKey string `json:"payloadKey,omitempty"`
}
