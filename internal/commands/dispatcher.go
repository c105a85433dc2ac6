// Package commands resolves chat commands against the command catalog,
// gates them and runs their handlers.
package commands

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"streamhub/internal/broadcast"
	"streamhub/internal/catalog"
	"streamhub/internal/events"
	"streamhub/internal/gate"
	"streamhub/internal/identity"
	"streamhub/internal/metrics"
	"streamhub/internal/state"
	"streamhub/internal/transport"
	logx "streamhub/pkg/logx"
)

// Rejection reasons, in gate order.
const (
	RejectUnknown    = "unknown"
	RejectFocus      = "focus"
	RejectOffline    = "offline"
	RejectPermission = "permission"
	RejectCooldown   = "cooldown"
	RejectIdentity   = "identity"
)

// Context is passed to handlers.
type Context struct {
	Name     string
	Entry    *catalog.CommandEntry
	Sender   *identity.User
	IsOwner  bool
	Param    string // first argument, without a leading @
	Text     string // everything after the command word
	Template string
	Message  *transport.Message
	Live     bool
	Logger   logx.Logger
}

// Result reports what the dispatcher did with one invocation.
type Result struct {
	Name     string `json:"name"`
	Rejected string `json:"rejected,omitempty"`
	Reply    string `json:"reply,omitempty"`
}

type Commands interface {
	Commands() *catalog.Commands
}

type Deps struct {
	Catalog     Commands
	Resolver    *identity.Resolver
	Suppression *state.Suppression
	Stream      *state.Stream
	Cooldowns   *gate.Cooldowns
	Broadcaster events.Broadcaster
	Log         logx.Logger
}

type owner struct {
	name string
	id   string
}

// Dispatcher resolves and runs commands. Handlers are registered by name;
// catalog entries point at them through their handler field.
type Dispatcher struct {
	catalog     Commands
	resolver    *identity.Resolver
	suppression *state.Suppression
	stream      *state.Stream
	cooldowns   *gate.Cooldowns
	broadcaster events.Broadcaster
	log         logx.Logger
	now         func() time.Time

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	mw       []Middleware

	owner atomic.Pointer[owner]
	lang  atomic.Pointer[string]

	rngMu sync.Mutex
	rng   catalog.IntN
}

func NewDispatcher(d Deps) *Dispatcher {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.Component("commands")
	if d.Cooldowns == nil {
		d.Cooldowns = gate.NewCooldowns()
	}
	if d.Resolver == nil {
		d.Resolver = identity.NewResolver(nil)
	}
	disp := &Dispatcher{
		catalog:     d.Catalog,
		resolver:    d.Resolver,
		suppression: d.Suppression,
		stream:      d.Stream,
		cooldowns:   d.Cooldowns,
		broadcaster: d.Broadcaster,
		log:         log,
		now:         time.Now,
		handlers:    map[string]HandlerFunc{},
		rng:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0xc0de)),
		mw: []Middleware{
			MWPanicRecover(log),
			MWRequestLog(log),
			MWTimeout(10 * time.Second),
		},
	}
	disp.SetOwner("", "")
	disp.SetLanguage(catalog.DefaultLanguage)
	return disp
}

// Handle registers h under name, replacing any previous handler.
func (d *Dispatcher) Handle(name string, h HandlerFunc) {
	d.mu.Lock()
	d.handlers[strings.ToLower(name)] = h
	d.mu.Unlock()
}

func (d *Dispatcher) handler(name string) (HandlerFunc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[name]
	return h, ok
}

// SetOwner sets the channel owner. The owner bypasses the kill switch and
// mod-only restrictions.
func (d *Dispatcher) SetOwner(name, id string) {
	d.owner.Store(&owner{name: strings.ToLower(strings.TrimSpace(name)), id: strings.TrimSpace(id)})
}

// SetRand replaces the RNG used to pick template variants.
func (d *Dispatcher) SetRand(r catalog.IntN) {
	d.rngMu.Lock()
	d.rng = r
	d.rngMu.Unlock()
}

// IntN draws from the dispatcher RNG; it satisfies catalog.IntN.
func (d *Dispatcher) IntN(n int) int {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return d.rng.IntN(n)
}

func (d *Dispatcher) SetLanguage(lang string) {
	if lang == "" {
		lang = catalog.DefaultLanguage
	}
	d.lang.Store(&lang)
}

func (d *Dispatcher) isOwner(u *identity.User) bool {
	o := d.owner.Load()
	if u == nil {
		return false
	}
	if o.id != "" && u.ID == o.id {
		return true
	}
	return o.name != "" && strings.EqualFold(u.Name, o.name)
}

// Parse splits "!name rest..." into the lower-cased name and the rest.
func Parse(text string) (name, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "!") {
		return "", "", false
	}
	text = text[1:]
	name, rest, _ = strings.Cut(text, " ")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(rest), true
}

// Process handles a chat line. Lines that are not commands are ignored.
func (d *Dispatcher) Process(ctx context.Context, text string, msg *transport.Message, user identity.Raw) {
	d.Dispatch(ctx, text, msg, user)
}

// Invoke runs a command as the channel owner, e.g. from the HTTP surface or
// a timer.
func (d *Dispatcher) Invoke(ctx context.Context, name, args string) Result {
	o := d.owner.Load()
	u := identity.User{ID: o.id, Name: o.name, DisplayName: o.name, IsMod: true}
	text := "!" + strings.TrimPrefix(strings.TrimSpace(name), "!")
	if args = strings.TrimSpace(args); args != "" {
		text += " " + args
	}
	return d.Dispatch(ctx, text, nil, identity.Canonical{User: u})
}

// Dispatch resolves and gates one command line and runs it if accepted.
// Gates apply in order: exists, focus, offline, permission, cooldown.
func (d *Dispatcher) Dispatch(ctx context.Context, text string, msg *transport.Message, raw identity.Raw) Result {
	word, rest, ok := Parse(text)
	if !ok {
		return Result{}
	}
	name, entry, ok := d.catalog.Commands().Resolve(word)
	if !ok {
		return Result{Name: word, Rejected: RejectUnknown}
	}
	res := Result{Name: name}
	log := d.log.With(logx.String("cmd", name))

	if entry.DisableOnFocus && d.suppression != nil && d.suppression.Focused() {
		return d.reject(res, RejectFocus, log)
	}
	live := d.stream == nil || d.stream.Live()
	if entry.DisableIfOffline && !live {
		return d.reject(res, RejectOffline, log)
	}

	sender, err := d.resolver.Resolve(ctx, raw)
	if err != nil {
		return d.reject(res, RejectIdentity, log)
	}
	isOwner := d.isOwner(sender)
	if !isOwner {
		if d.suppression != nil && d.suppression.KillSwitch() {
			return d.reject(res, RejectPermission, log)
		}
		if entry.OnlyMods && !sender.IsMod {
			return d.reject(res, RejectPermission, log)
		}
	}
	if !d.cooldowns.Allow(name, time.Duration(entry.Cooldown)*time.Second, d.now()) {
		return d.reject(res, RejectCooldown, log)
	}
	metrics.CommandsFired.WithLabelValues(name).Inc()

	param, _, _ := strings.Cut(rest, " ")
	param = strings.TrimPrefix(param, "@")

	if d.broadcaster != nil {
		d.broadcaster.MaybeSend(ctx, broadcast.Input{
			Type:    broadcast.TypeCommand,
			Command: name,
			User:    sender,
			Text:    rest,
			Media:   entry.Media,
		})
	}

	lang := *d.lang.Load()
	c := &Context{
		Name:     name,
		Entry:    entry,
		Sender:   sender,
		IsOwner:  isOwner,
		Param:    param,
		Text:     rest,
		Template: catalog.PickVariant(entry.Message, lang, d),
		Message:  msg,
		Live:     live,
		Logger:   log,
	}

	reply := c.Template
	if h, ok := d.handler(entry.Handler); ok {
		out, err := Chain(h, d.mw...)(ctx, c)
		if err != nil {
			// Already logged by the middleware; the template is not sent on failure.
			reply = ""
		} else if out != "" {
			reply = out
		}
	}
	if reply == "" {
		return res
	}

	target := param
	if target == "" {
		target = sender.Label()
	}
	res.Reply = events.Render(reply, events.Vars{
		User:   target,
		Sender: sender.Label(),
		Param:  param,
		Text:   rest,
	})
	if d.broadcaster != nil {
		d.broadcaster.Say(ctx, res.Reply, false, false)
	}
	return res
}

func (d *Dispatcher) reject(res Result, reason string, log logx.Logger) Result {
	res.Rejected = reason
	metrics.CommandsRejected.WithLabelValues(reason).Inc()
	log.Debug("command rejected", logx.String("reason", reason))
	return res
}
