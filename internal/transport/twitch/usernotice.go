package twitch

import (
	"strconv"

	irc "github.com/gempir/go-twitch-irc/v4"

	"streamhub/internal/sources"
)

func param(m irc.UserNoticeMessage, key string) string {
	return m.MsgParams["msg-param-"+key]
}

func paramInt(m irc.UserNoticeMessage, key string, def int64) int64 {
	n, err := strconv.ParseInt(param(m, key), 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// FromUserNotice maps a USERNOTICE to a platform notification. Gifted subs
// that belong to a community gift are dropped; the community gift notice
// already accounts for them.
func FromUserNotice(m irc.UserNoticeMessage) (sources.Notification, bool) {
	n := sources.Notification{
		User: chatIdentity(m.User),
		Text: m.Message,
		Time: m.Time,
	}
	switch m.MsgID {
	case "sub":
		n.Kind = sources.KindSub
		n.Count = paramInt(m, "cumulative-months", 1)
	case "resub":
		n.Kind = sources.KindResub
		n.Count = paramInt(m, "cumulative-months", 1)
	case "subgift":
		if param(m, "community-gift-id") != "" {
			return n, false
		}
		n.Kind = sources.KindSubGift
		n.Count = 1
		n.Text = param(m, "recipient-display-name")
	case "submysterygift":
		n.Kind = sources.KindCommunityGift
		n.Count = paramInt(m, "mass-gift-count", 1)
	case "raid":
		n.Kind = sources.KindRaid
		n.Count = paramInt(m, "viewerCount", 0)
	default:
		return n, false
	}
	if m.User.ID == "" && m.User.Name == "" {
		return n, false
	}
	return n, true
}
