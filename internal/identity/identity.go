// Package identity normalizes the many shapes a platform user arrives in
// into one canonical User.
package identity

import "strings"

// DefaultColor is used when no color is known for a user.
const DefaultColor = "#9146FF"

// User is the canonical user shape. ID is empty for users that were only
// seen by name; such users are never persisted.
type User struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
	IsMod       bool   `json:"isMod"`
	IsSub       bool   `json:"isSub"`
	IsVIP       bool   `json:"isVip"`
	IsFollower  bool   `json:"isFollower"`
	AvatarURL   string `json:"avatarUrl,omitempty"`

	// fallbackColor marks Color as the resolver default rather than a known one.
	fallbackColor bool
}

func (u *User) Persistable() bool { return u != nil && u.ID != "" }

// Label is the name shown to viewers.
func (u *User) Label() string {
	if u == nil {
		return ""
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Name
}

// Raw is any of Profile, ChatIdentity, Name or Canonical.
type Raw interface {
	isRaw()
}

// Profile is a rich platform profile, as returned by a user API.
type Profile struct {
	ID          string
	Login       string
	DisplayName string
	AvatarURL   string
}

// ChatIdentity is the session identity attached to a chat message. Badges
// are keyed by badge name (moderator, subscriber, vip, broadcaster, ...).
type ChatIdentity struct {
	ID          string
	Name        string
	DisplayName string
	Color       string
	Badges      map[string]int
}

// Name is a bare user name, typically typed by a viewer or an operator.
type Name string

// Canonical wraps an already normalized user.
type Canonical struct {
	User User
}

func (Profile) isRaw()      {}
func (ChatIdentity) isRaw() {}
func (Name) isRaw()         {}
func (Canonical) isRaw()    {}

func (c ChatIdentity) hasBadge(names ...string) bool {
	for _, n := range names {
		if _, ok := c.Badges[n]; ok {
			return true
		}
	}
	return false
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}
