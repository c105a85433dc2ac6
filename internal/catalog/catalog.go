// Package catalog holds the event and command definitions. Each catalog is
// an immutable snapshot swapped atomically on reload; readers never see a
// partially loaded catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"

	"streamhub/internal/config"
	"streamhub/internal/eventbus"
	"streamhub/internal/gate"
	logx "streamhub/pkg/logx"
)

var ErrAliasConflict = errors.New("catalog: alias used by more than one command")

// Events is an immutable event catalog snapshot.
type Events struct {
	entries   map[string]*EventEntry
	chatscore []string
}

func (e *Events) Get(typ string) (*EventEntry, bool) {
	if e == nil {
		return nil, false
	}
	v, ok := e.entries[typ]
	return v, ok
}

// Types lists event types in sorted order.
func (e *Events) Types() []string {
	if e == nil {
		return nil
	}
	keys := lo.Keys(e.entries)
	sort.Strings(keys)
	return keys
}

// MatchChatscore returns the first chatscore type (sorted by name) whose
// pattern matches text.
func (e *Events) MatchChatscore(text string) (string, bool) {
	if e == nil {
		return "", false
	}
	for _, typ := range e.chatscore {
		if e.entries[typ].Matches(text) {
			return typ, true
		}
	}
	return "", false
}

func (e *Events) Entries() map[string]*EventEntry {
	if e == nil {
		return nil
	}
	return e.entries
}

// Commands is an immutable command catalog snapshot.
type Commands struct {
	entries map[string]*CommandEntry
	names   []string
}

// Resolve finds a command by canonical name, then by alias.
func (c *Commands) Resolve(name string) (string, *CommandEntry, bool) {
	if c == nil {
		return "", nil, false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if e, ok := c.entries[name]; ok {
		return name, e, true
	}
	for _, n := range c.names {
		e := c.entries[n]
		if lo.Contains(e.Aliases, name) {
			return n, e, true
		}
	}
	return "", nil, false
}

func (c *Commands) Names() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.names...)
}

func (c *Commands) Entries() map[string]*CommandEntry {
	if c == nil {
		return nil
	}
	return c.entries
}

// NewEvents validates raw and builds a snapshot.
func NewEvents(raw map[string]*EventEntry) (*Events, error) {
	ev := &Events{entries: make(map[string]*EventEntry, len(raw))}
	for typ, e := range raw {
		typ = strings.ToLower(strings.TrimSpace(typ))
		if typ == "" || e == nil {
			continue
		}
		if gate.IsChatscore(typ) {
			if strings.TrimSpace(e.Match) == "" {
				return nil, fmt.Errorf("event %q: match is required", typ)
			}
			re, err := regexp.Compile(e.Match)
			if err != nil {
				return nil, fmt.Errorf("event %q: %w", typ, err)
			}
			e.match = re
			ev.chatscore = append(ev.chatscore, typ)
		}
		ev.entries[typ] = e
	}
	sort.Strings(ev.chatscore)
	return ev, nil
}

// NewCommands validates raw and builds a snapshot. Alias sets must be
// pairwise disjoint.
func NewCommands(raw map[string]*CommandEntry) (*Commands, error) {
	c := &Commands{entries: make(map[string]*CommandEntry, len(raw))}
	owner := map[string]string{}
	for name, e := range raw {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || e == nil {
			continue
		}
		e.Aliases = lo.Uniq(lo.FilterMap(e.Aliases, func(a string, _ int) (string, bool) {
			a = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(a), "!"))
			return a, a != ""
		}))
		if strings.TrimSpace(e.Handler) == "" {
			e.Handler = name
		}
		if e.Cooldown < 0 {
			return nil, fmt.Errorf("command %q: cooldown must be >= 0", name)
		}
		c.entries[name] = e
	}
	c.names = lo.Keys(c.entries)
	sort.Strings(c.names)
	for _, name := range c.names {
		for _, a := range c.entries[name].Aliases {
			if prev, ok := owner[a]; ok {
				return nil, fmt.Errorf("%w: %q in %q and %q", ErrAliasConflict, a, prev, name)
			}
			owner[a] = name
		}
	}
	return c, nil
}

// Catalog loads both catalogs from disk and serves the current snapshots.
type Catalog struct {
	eventsPath   string
	commandsPath string
	bus          eventbus.Bus
	log          logx.Logger

	events   atomic.Pointer[Events]
	commands atomic.Pointer[Commands]
	reloadMu sync.Mutex
}

// Load reads both files. Either path may be empty for an empty catalog.
func Load(eventsPath, commandsPath string, bus eventbus.Bus, log logx.Logger) (*Catalog, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Catalog{
		eventsPath:   eventsPath,
		commandsPath: commandsPath,
		bus:          bus,
		log:          log.Component("catalog"),
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewStatic serves fixed snapshots and never reloads.
func NewStatic(ev *Events, cmds *Commands) *Catalog {
	c := &Catalog{log: logx.Nop()}
	if ev == nil {
		ev, _ = NewEvents(nil)
	}
	if cmds == nil {
		cmds, _ = NewCommands(nil)
	}
	c.events.Store(ev)
	c.commands.Store(cmds)
	return c
}

func (c *Catalog) Events() *Events     { return c.events.Load() }
func (c *Catalog) Commands() *Commands { return c.commands.Load() }

// Reload re-reads both files. If either fails validation, neither snapshot
// changes.
func (c *Catalog) Reload() error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	rawEv := map[string]*EventEntry{}
	if c.eventsPath != "" {
		if err := config.DecodeFile(c.eventsPath, &rawEv); err != nil {
			return fmt.Errorf("load events: %w", err)
		}
	}
	rawCmd := map[string]*CommandEntry{}
	if c.commandsPath != "" {
		if err := config.DecodeFile(c.commandsPath, &rawCmd); err != nil {
			return fmt.Errorf("load commands: %w", err)
		}
	}
	ev, err := NewEvents(rawEv)
	if err != nil {
		return err
	}
	cmds, err := NewCommands(rawCmd)
	if err != nil {
		return err
	}
	c.events.Store(ev)
	c.commands.Store(cmds)
	c.log.Info("catalog loaded", logx.Int("events", len(ev.entries)), logx.Int("commands", len(cmds.entries)))
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: eventbus.TopicCatalogReload})
	}
	return nil
}

// Watch reloads on file changes until ctx is done. A failed reload keeps the
// previous snapshots.
func (c *Catalog) Watch(ctx context.Context) error {
	paths := lo.Uniq(lo.Compact([]string{c.eventsPath, c.commandsPath}))
	if len(paths) == 0 {
		<-ctx.Done()
		return nil
	}
	onChange := func() {
		if err := c.Reload(); err != nil {
			c.log.Warn("catalog reload rejected; keeping previous", logx.Err(err))
		}
	}
	var wg sync.WaitGroup
	for _, p := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_ = config.WatchFile(ctx, p, c.log, onChange)
		}(p)
	}
	wg.Wait()
	return nil
}
