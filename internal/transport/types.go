// Package transport defines the contracts between the event pipeline and
// the chat platform or external announcement channels.
package transport

import (
	"context"
	"time"

	"streamhub/internal/identity"
)

// Message is one inbound chat message.
type Message struct {
	ID      string
	Channel string
	Text    string
	User    identity.ChatIdentity
	Time    time.Time
	// Bits is the cheer amount carried by the message, 0 if none.
	Bits int
	// FirstMessage is set when the platform flags the sender's first ever
	// message in the channel.
	FirstMessage bool
	Tags         map[string]string
}

// ChatSender renders text into the stream's chat.
type ChatSender interface {
	SendAction(ctx context.Context, text string) error
	SendAnnouncement(ctx context.Context, text string) error
	SendReply(ctx context.Context, to *Message, text string) error
}

// Announcer posts to an external channel (Discord, Telegram, ...).
type Announcer interface {
	Name() string
	Announce(ctx context.Context, text string) error
}

// Kind selects how a line is rendered in chat.
type Kind int

const (
	KindAction Kind = iota
	KindAnnouncement
	KindReply
)

func (k Kind) String() string {
	switch k {
	case KindAnnouncement:
		return "announcement"
	case KindReply:
		return "reply"
	default:
		return "action"
	}
}

// Line is one outbound chat line.
type Line struct {
	Kind    Kind
	Text    string
	ReplyTo *Message
}

// Deliver sends l through s according to its kind.
func Deliver(ctx context.Context, s ChatSender, l Line) error {
	switch l.Kind {
	case KindAnnouncement:
		return s.SendAnnouncement(ctx, l.Text)
	case KindReply:
		if l.ReplyTo != nil {
			return s.SendReply(ctx, l.ReplyTo, l.Text)
		}
		return s.SendAction(ctx, l.Text)
	default:
		return s.SendAction(ctx, l.Text)
	}
}
