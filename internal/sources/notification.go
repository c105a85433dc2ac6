package sources

import (
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"streamhub/internal/identity"
)

var ErrInvalidNotification = errors.New("invalid notification")

// NotificationRequest is a platform notification submitted over HTTP by a
// relay for a notification transport (EventSub and the like).
type NotificationRequest struct {
	Kind        string `json:"kind" validate:"required,oneof=follow sub resub subgift communitygift raid cheer redemption adbreak shieldmode streamonline streamoffline"`
	UserID      string `json:"userId" validate:"max=64"`
	User        string `json:"user" validate:"required_with=UserID,max=64"`
	DisplayName string `json:"displayName" validate:"max=64"`
	Count       int64  `json:"count" validate:"gte=0"`
	Text        string `json:"text" validate:"max=1000"`
	Sender      string `json:"sender" validate:"max=64"`
	Active      bool   `json:"active"`
	Time        string `json:"time" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// DecodeNotification parses and validates a JSON notification request.
func DecodeNotification(b []byte) (Notification, error) {
	var req NotificationRequest
	if err := json.Unmarshal(b, &req); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	req.Kind = strings.ToLower(strings.TrimSpace(req.Kind))
	if err := validate.Struct(req); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	return req.Notification(), nil
}

// Notification converts a validated request. Without user fields the
// notification carries no user; Platform then attributes it to the channel.
func (r NotificationRequest) Notification() Notification {
	n := Notification{
		Kind:   Kind(r.Kind),
		Count:  r.Count,
		Text:   r.Text,
		Sender: strings.TrimSpace(r.Sender),
		Active: r.Active,
	}
	id, login := strings.TrimSpace(r.UserID), strings.TrimSpace(r.User)
	switch {
	case id != "":
		n.User = identity.Profile{ID: id, Login: login, DisplayName: strings.TrimSpace(r.DisplayName)}
	case login != "":
		n.User = identity.Name(login)
	}
	if r.Time != "" {
		// validated above
		n.Time, _ = time.Parse(time.RFC3339, r.Time)
	}
	return n
}
