package events

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"streamhub/internal/broadcast"
	"streamhub/internal/catalog"
	"streamhub/internal/gate"
	"streamhub/internal/identity"
	"streamhub/internal/metrics"
	"streamhub/internal/state"
	"streamhub/internal/storage"
	"streamhub/internal/transport"
	logx "streamhub/pkg/logx"
)

// Rejection reasons.
const (
	RejectUnknownType     = "unknown_type"
	RejectNoIdentity      = "no_identity"
	RejectKillSwitch      = "killswitch"
	RejectFocus           = "focus"
	RejectChatscoreRepeat = "chatscore_repeat"
)

// Broadcaster is the fan-out side used by the pipeline.
type Broadcaster interface {
	MaybeSend(ctx context.Context, in broadcast.Input) (broadcast.Payload, int)
	Say(ctx context.Context, text string, announcement, external bool)
}

// CommandRunner receives events flagged as commands.
type CommandRunner interface {
	Process(ctx context.Context, text string, msg *transport.Message, user identity.Raw)
}

// Events is the catalog view the processor needs.
type Events interface {
	Events() *catalog.Events
}

// Deps are the collaborators of a Processor.
type Deps struct {
	Catalog     Events
	Resolver    *identity.Resolver
	Suppression *state.Suppression
	Dedup       *gate.Dedup
	Store       storage.Store
	Broadcaster Broadcaster
	Log         logx.Logger
}

// Processor validates, broadcasts, persists and announces events. Every
// call runs independently; shared state lives in the collaborators.
type Processor struct {
	catalog     Events
	resolver    *identity.Resolver
	suppression *state.Suppression
	dedup       *gate.Dedup
	store       storage.Store
	broadcaster Broadcaster
	log         logx.Logger

	commands atomic.Pointer[commandsHolder]
	lang     atomic.Pointer[string]
	owner    atomic.Pointer[owner]
	now      func() time.Time

	rngMu sync.Mutex
	rng   catalog.IntN
}

type commandsHolder struct{ r CommandRunner }

type owner struct{ name, id string }

func NewProcessor(d Deps) *Processor {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Processor{
		catalog:     d.Catalog,
		resolver:    d.Resolver,
		suppression: d.Suppression,
		dedup:       d.Dedup,
		store:       d.Store,
		broadcaster: d.Broadcaster,
		log:         log.Component("events"),
		now:         time.Now,
		rng:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}
	if p.resolver == nil {
		p.resolver = identity.NewResolver(d.Store)
	}
	p.SetLanguage(catalog.DefaultLanguage)
	p.SetOwner("", "")
	return p
}

// SetCommands wires the command dispatcher for events flagged isCommand.
func (p *Processor) SetCommands(r CommandRunner) {
	p.commands.Store(&commandsHolder{r: r})
}

func (p *Processor) SetLanguage(lang string) {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		lang = catalog.DefaultLanguage
	}
	p.lang.Store(&lang)
}

func (p *Processor) Language() string { return *p.lang.Load() }

// SetOwner sets the channel owner. Owner events pass the kill switch, and
// the owner is the default user for test and focusstop events.
func (p *Processor) SetOwner(name, id string) {
	p.owner.Store(&owner{name: strings.TrimSpace(name), id: strings.TrimSpace(id)})
}

func (p *Processor) isOwner(u *identity.User) bool {
	o := p.owner.Load()
	if u == nil {
		return false
	}
	if o.id != "" && u.ID == o.id {
		return true
	}
	return o.name != "" && strings.EqualFold(u.Name, o.name)
}

// SetRand replaces the RNG used for template variants and test counts.
func (p *Processor) SetRand(r catalog.IntN) {
	p.rngMu.Lock()
	p.rng = r
	p.rngMu.Unlock()
}

func (p *Processor) intN(n int) int {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.IntN(n)
}

// lockedRand adapts the processor RNG for PickVariant.
type lockedRand struct{ p *Processor }

func (l lockedRand) IntN(n int) int { return l.p.intN(n) }

// Process runs the pipeline for ev. Failures are logged, never returned.
func (p *Processor) Process(ctx context.Context, ev RawEvent) Outcome {
	typ := strings.ToLower(strings.TrimSpace(ev.Type))
	out := Outcome{Type: typ}
	log := p.log.With(logx.String("type", typ))

	entry, ok := p.catalog.Events().Get(typ)
	if !ok {
		log.Debug("no catalog entry; ignoring")
		return p.reject(out, RejectUnknownType)
	}
	user, err := p.resolver.Resolve(ctx, ev.User)
	if err != nil {
		log.Debug("event without identity", logx.Err(err))
		return p.reject(out, RejectNoIdentity)
	}
	if p.suppression != nil {
		if p.suppression.KillSwitch() && !p.isOwner(user) {
			return p.reject(out, RejectKillSwitch)
		}
		if entry.DisableOnFocus && p.suppression.Focused() {
			return p.reject(out, RejectFocus)
		}
	}
	if gate.IsChatscore(typ) && user.Persistable() && p.dedup != nil {
		repeat, err := p.dedup.ChatscoreRepeat(ctx, typ, user.ID)
		if err != nil {
			log.Warn("chatscore check failed", logx.Err(err))
		} else if repeat {
			return p.reject(out, RejectChatscoreRepeat)
		}
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = p.now()
	}
	lang := p.Language()

	payload, delivered := p.broadcaster.MaybeSend(ctx, broadcast.Input{
		Type:        typ,
		User:        user,
		Text:        ev.Text,
		Count:       ev.Count,
		Media:       entry.Media,
		Extra:       entry.Extra.Get(lang),
		OBSCommands: entry.OBSCommands,
		SaveEvent:   entry.SaveEvent,
	})
	out.Broadcast = true
	out.Delivered = delivered
	out.PayloadKey = payload.Key
	metrics.EventsProcessed.WithLabelValues(typ).Inc()

	if entry.IsCommand {
		if h := p.commands.Load(); h != nil && h.r != nil {
			text := "!" + typ
			if t := strings.TrimSpace(ev.Text); t != "" {
				text += " " + t
			}
			h.r.Process(ctx, text, nil, identity.Canonical{User: *user})
		}
	}

	if entry.SaveEvent && !ev.IsTest && user.Persistable() && p.store != nil {
		occ := storage.Occurrence{Type: typ, UserID: user.ID, Timestamp: ts.Unix(), Count: ev.Count}
		dup, err := p.persist(ctx, entry, user, occ)
		if err != nil {
			log.Warn("persist failed", logx.String("user", user.Name), logx.Err(err))
		}
		if dup {
			out.Duplicate = true
			metrics.EventsDuplicate.WithLabelValues(typ).Inc()
			log.Debug("duplicate event; not persisted", logx.String("user", user.Name))
			return out
		}
		out.Persisted = err == nil
	}

	tpl := catalog.PickVariant(entry.Message, lang, lockedRand{p})
	if tpl != "" {
		out.ChatText = Render(tpl, Vars{User: user.Label(), Count: ev.Count, Sender: ev.Sender, Text: ev.Text})
		p.broadcaster.Say(ctx, out.ChatText, entry.IsAnnouncement, entry.External)
	}
	return out
}

func (p *Processor) reject(out Outcome, reason string) Outcome {
	out.Rejected = reason
	metrics.EventsRejected.WithLabelValues(reason).Inc()
	return out
}

// persist reports whether occ was a duplicate. A failed dedup lookup is
// treated as not a duplicate.
func (p *Processor) persist(ctx context.Context, entry *catalog.EventEntry, user *identity.User, occ storage.Occurrence) (bool, error) {
	if p.dedup != nil {
		dup, err := p.dedup.IsDuplicate(ctx, occ)
		if err != nil {
			p.log.Warn("dedup lookup failed", logx.Err(err))
		} else if dup {
			return true, nil
		}
	}
	if err := p.store.EnsureUser(ctx, user.Record()); err != nil {
		return false, err
	}
	if err := p.store.AppendEventLog(ctx, occ); err != nil {
		return false, err
	}
	metrics.EventsPersisted.WithLabelValues(occ.Type).Inc()
	if u := counterUpdate(occ.Type, entry, occ); !u.IsZero() {
		if err := p.store.UpdateCounters(ctx, user.ID, u); err != nil && !errors.Is(err, storage.ErrUserNotFound) {
			return false, err
		}
	}
	return false, nil
}

// Vars are the placeholder values for a chat template.
type Vars struct {
	User   string
	Count  int64
	Sender string
	Text   string
	Param  string
}

// Render substitutes [user], [count], [sender], [text] and [param].
// [sender] falls back to the user.
func Render(tpl string, v Vars) string {
	if tpl == "" {
		return ""
	}
	sender := v.Sender
	if sender == "" {
		sender = v.User
	}
	return strings.NewReplacer(
		"[user]", v.User,
		"[count]", strconv.FormatInt(v.Count, 10),
		"[sender]", sender,
		"[text]", v.Text,
		"[param]", v.Param,
	).Replace(tpl)
}

// EndFocus disarms focus mode and, if it was armed, runs the focusstop
// event for who. A nil who stands for the channel owner.
func (p *Processor) EndFocus(ctx context.Context, who identity.Raw) bool {
	if p.suppression == nil || !p.suppression.DisarmFocus() {
		return false
	}
	p.FocusStopped(ctx, who)
	return true
}

// FocusStopped runs the focusstop event after focus mode ended on its own.
func (p *Processor) FocusStopped(ctx context.Context, who identity.Raw) Outcome {
	if who == nil {
		who = identity.Name(p.owner.Load().name)
	}
	return p.Process(ctx, RawEvent{Type: TypeFocusStop, User: who, Timestamp: p.now()})
}
