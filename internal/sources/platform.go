// Package sources turns platform notifications, chat traffic and donation
// webhooks into pipeline events.
package sources

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"streamhub/internal/catalog"
	"streamhub/internal/events"
	"streamhub/internal/identity"
	"streamhub/internal/state"
	logx "streamhub/pkg/logx"
)

// Sink receives normalized events. *events.Processor implements it.
type Sink interface {
	Process(ctx context.Context, ev events.RawEvent) events.Outcome
}

// Kind is the notification kind as delivered by the platform.
type Kind string

const (
	KindFollow        Kind = "follow"
	KindSub           Kind = "sub"
	KindResub         Kind = "resub"
	KindSubGift       Kind = "subgift"
	KindCommunityGift Kind = "communitygift"
	KindRaid          Kind = "raid"
	KindCheer         Kind = "cheer"
	KindRedemption    Kind = "redemption"
	KindAdBreak       Kind = "adbreak"
	KindShieldMode    Kind = "shieldmode"
	KindStreamOnline  Kind = "streamonline"
	KindStreamOffline Kind = "streamoffline"
)

// Notification is a typed platform notification. Count carries the kind's
// number: months for resubs, gift amount, raid viewers, bits, or ad break
// seconds.
type Notification struct {
	Kind   Kind
	User   identity.Raw
	Count  int64
	Text   string
	Sender string
	// Active is the shield mode state.
	Active bool
	Time   time.Time
}

// ResubTier buckets cumulative months: <4, 4-11, 12-22, 23-34, >=35.
func ResubTier(months int64) int {
	switch {
	case months < 4:
		return 1
	case months < 12:
		return 2
	case months < 23:
		return 3
	case months < 35:
		return 4
	default:
		return 5
	}
}

// GiftTier buckets community gift amounts: <5, 5-9, 10-19, 20-49, 50-99,
// 100-199, >=200.
func GiftTier(amount int64) int {
	switch {
	case amount < 5:
		return 1
	case amount < 10:
		return 2
	case amount < 20:
		return 3
	case amount < 50:
		return 4
	case amount < 100:
		return 5
	case amount < 200:
		return 6
	default:
		return 7
	}
}

// Platform routes platform notifications into the pipeline.
type Platform struct {
	sink    Sink
	catalog events.Events
	stream  *state.Stream
	log     logx.Logger
	channel atomic.Pointer[string]
}

func NewPlatform(sink Sink, cat events.Events, stream *state.Stream, log logx.Logger) *Platform {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Platform{sink: sink, catalog: cat, stream: stream, log: log.Component("platform")}
	p.SetChannel("")
	return p
}

// SetChannel names the channel that user-less notifications such as stream
// online or ad breaks are attributed to.
func (p *Platform) SetChannel(name string) {
	name = strings.TrimSpace(name)
	p.channel.Store(&name)
}

// EventType maps a notification to its event type. Tiered kinds resolve to
// "<kind><tier>" when the catalog defines that entry, else to the bare kind.
func (p *Platform) EventType(n Notification) string {
	switch n.Kind {
	case KindResub:
		return p.tiered(string(KindResub), ResubTier(n.Count))
	case KindCommunityGift:
		return p.tiered(string(KindCommunityGift), GiftTier(n.Count))
	case KindShieldMode:
		if n.Active {
			return events.TypeShieldOn
		}
		return events.TypeShieldOff
	default:
		return string(n.Kind)
	}
}

func (p *Platform) tiered(base string, tier int) string {
	typ := base + strconv.Itoa(tier)
	var ev *catalog.Events
	if p.catalog != nil {
		ev = p.catalog.Events()
	}
	if _, ok := ev.Get(typ); ok {
		return typ
	}
	return base
}

// Handle normalizes n and runs it through the pipeline. Stream online and
// offline also flip the stream state first.
func (p *Platform) Handle(ctx context.Context, n Notification) events.Outcome {
	switch n.Kind {
	case KindStreamOnline:
		if p.stream != nil {
			p.stream.SetLive(true)
		}
	case KindStreamOffline:
		if p.stream != nil {
			p.stream.SetLive(false)
		}
	}
	user := n.User
	if user == nil {
		if ch := *p.channel.Load(); ch != "" {
			user = identity.Name(ch)
		}
	}
	ev := events.RawEvent{
		Type:      p.EventType(n),
		User:      user,
		Count:     n.Count,
		Text:      strings.TrimSpace(n.Text),
		Timestamp: n.Time,
		Sender:    n.Sender,
	}
	p.log.Debug("platform notification", logx.String("kind", string(n.Kind)), logx.String("type", ev.Type), logx.Int64("count", n.Count))
	return p.sink.Process(ctx, ev)
}
