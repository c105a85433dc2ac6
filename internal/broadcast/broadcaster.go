// Package broadcast fans payloads out to live overlay clients and routes
// rendered text to chat and external announcement channels.
package broadcast

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"streamhub/internal/metrics"
	"streamhub/internal/state"
	logx "streamhub/pkg/logx"
)

// Outbound renders text outside the overlay. *notifier.Service implements it.
type Outbound interface {
	SendAction(ctx context.Context, text string) error
	SendAnnouncement(ctx context.Context, text string) error
	Announce(ctx context.Context, text string) error
}

// Broadcaster builds payloads and delivers them best effort, at most once.
type Broadcaster struct {
	hub *Hub
	out Outbound
	log logx.Logger
}

func New(hub *Hub, out Outbound, log logx.Logger) *Broadcaster {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Broadcaster{hub: hub, out: out, log: log.Component("broadcast")}
}

func (b *Broadcaster) Hub() *Hub { return b.hub }

// MaybeSend encodes one payload with a fresh key and offers it to every
// client. Clients that are closed or backed up are skipped. It returns the
// payload and the number of clients that accepted it.
func (b *Broadcaster) MaybeSend(ctx context.Context, in Input) (Payload, int) {
	p := in.payload(uuid.NewString())
	delivered := 0
	if b.hub != nil {
		msg, err := json.Marshal(p)
		if err != nil {
			b.log.Error("payload encode failed", logx.String("type", p.Type), logx.Err(err))
		} else {
			delivered = b.hub.Offer(msg)
			metrics.Broadcasts.Inc()
			metrics.BroadcastDeliveries.Add(float64(delivered))
		}
	}
	if in.Chat != "" {
		b.Say(ctx, in.Chat, in.Announcement, in.External)
	}
	return p, delivered
}

// Say renders text in chat as an announcement or an action, and to the
// external channels when external is set. Errors are logged.
func (b *Broadcaster) Say(ctx context.Context, text string, announcement, external bool) {
	if b.out == nil || text == "" {
		return
	}
	var err error
	if announcement {
		err = b.out.SendAnnouncement(ctx, text)
	} else {
		err = b.out.SendAction(ctx, text)
	}
	if err != nil {
		b.log.Warn("chat send failed", logx.Err(err))
	}
	if external {
		if err := b.out.Announce(ctx, text); err != nil {
			b.log.Warn("external announce failed", logx.Err(err))
		}
	}
}

// PushState sends the suppression snapshot to every client.
func (b *Broadcaster) PushState(ctx context.Context, snap state.Snapshot) {
	b.MaybeSend(ctx, Input{Type: TypeState, State: &snap})
}

// StateTo sends the suppression snapshot to a single client.
func (b *Broadcaster) StateTo(c *Client, snap state.Snapshot) {
	p := Input{Type: TypeState, State: &snap}.payload(uuid.NewString())
	msg, err := json.Marshal(p)
	if err != nil {
		return
	}
	c.Send(msg)
}
