package sources

import (
	"context"
	"strings"
	"sync"

	"streamhub/internal/events"
	"streamhub/internal/identity"
	"streamhub/internal/state"
	"streamhub/internal/storage"
	"streamhub/internal/transport"
	logx "streamhub/pkg/logx"
)

// Chat-derived event types.
const (
	// TypeNewChatter is the sender's first message ever in the channel, as
	// flagged by the platform.
	TypeNewChatter = "newchatter"
)

// CommandRunner receives chat lines that start with "!".
type CommandRunner interface {
	Process(ctx context.Context, text string, msg *transport.Message, user identity.Raw)
}

// Chat derives events from chat messages, keeps per-user message counters
// and hands commands to the dispatcher.
type Chat struct {
	sink     Sink
	commands CommandRunner
	store    storage.Store
	catalog  events.Events
	stream   *state.Stream
	log      logx.Logger

	// firstMu guards the session for which "first" was already awarded.
	firstMu      sync.Mutex
	firstSession uint64
	firstAwarded bool
}

type ChatDeps struct {
	Sink     Sink
	Commands CommandRunner
	Store    storage.Store
	Catalog  events.Events
	Stream   *state.Stream
	Log      logx.Logger
}

func NewChat(d ChatDeps) *Chat {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Chat{
		sink:     d.Sink,
		commands: d.Commands,
		store:    d.Store,
		catalog:  d.Catalog,
		stream:   d.Stream,
		log:      log.Component("chat"),
	}
}

// HandleMessage processes one chat message. Derived events, in order:
// first (first message of a live stream), newchatter, cheer and at most one
// chatscore match. Commands are dispatched last.
func (c *Chat) HandleMessage(ctx context.Context, msg *transport.Message) {
	if msg == nil {
		return
	}
	user := msg.User
	text := strings.TrimSpace(msg.Text)
	c.countMessage(ctx, user)

	base := events.RawEvent{User: user, Text: text, Timestamp: msg.Time}

	if c.claimFirst() {
		ev := base
		ev.Type = events.TypeFirst
		c.sink.Process(ctx, ev)
	}
	if msg.FirstMessage {
		ev := base
		ev.Type = TypeNewChatter
		c.sink.Process(ctx, ev)
	}
	if msg.Bits > 0 {
		ev := base
		ev.Type = events.TypeCheer
		ev.Count = int64(msg.Bits)
		c.sink.Process(ctx, ev)
	}
	if c.catalog != nil && text != "" && !strings.HasPrefix(text, "!") {
		if typ, ok := c.catalog.Events().MatchChatscore(text); ok {
			ev := base
			ev.Type = typ
			c.sink.Process(ctx, ev)
		}
	}
	if strings.HasPrefix(text, "!") && c.commands != nil {
		c.commands.Process(ctx, text, msg, user)
	}
}

// claimFirst reports whether this is the first message since the stream
// went live. Offline chat never claims it.
func (c *Chat) claimFirst() bool {
	if c.stream == nil || !c.stream.Live() {
		return false
	}
	session := c.stream.Session()
	c.firstMu.Lock()
	defer c.firstMu.Unlock()
	if c.firstAwarded && c.firstSession == session {
		return false
	}
	c.firstSession = session
	c.firstAwarded = true
	return true
}

func (c *Chat) countMessage(ctx context.Context, u identity.ChatIdentity) {
	if c.store == nil || u.ID == "" {
		return
	}
	rec := storage.UserRecord{
		ID:          u.ID,
		Name:        strings.ToLower(u.Name),
		DisplayName: u.DisplayName,
		Color:       u.Color,
	}
	if err := c.store.EnsureUser(ctx, rec); err != nil {
		c.log.Warn("user upsert failed", logx.String("user", rec.Name), logx.Err(err))
		return
	}
	err := c.store.UpdateCounters(ctx, u.ID, storage.CounterUpdate{
		Increments: map[string]int64{storage.CounterMessages: 1},
	})
	if err != nil {
		c.log.Warn("message count failed", logx.String("user", rec.Name), logx.Err(err))
	}
}
