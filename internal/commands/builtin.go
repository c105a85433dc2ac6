package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"streamhub/internal/events"
	"streamhub/internal/identity"
	"streamhub/internal/state"
	"streamhub/internal/storage"
)

// Builtins are the handlers that ship with the hub. Each still needs a
// command catalog entry to be reachable.
type Builtins struct {
	Processor   *events.Processor
	Suppression *state.Suppression
	Store       storage.Store
	// Reload re-reads the catalogs.
	Reload func() error
}

// Register installs every builtin handler on d.
func (b Builtins) Register(d *Dispatcher) {
	d.Handle("killswitch", b.killswitch)
	d.Handle("focus", b.focus)
	d.Handle("test", b.test)
	d.Handle("stats", b.stats)
	d.Handle("top", b.top)
	d.Handle("reload", b.reload)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func (b Builtins) killswitch(_ context.Context, c *Context) (string, error) {
	var on bool
	switch strings.ToLower(c.Param) {
	case "on":
		b.Suppression.SetKillSwitch(true)
		on = true
	case "off":
		b.Suppression.SetKillSwitch(false)
	default:
		on = b.Suppression.ToggleKillSwitch()
	}
	if c.Template != "" {
		return strings.ReplaceAll(c.Template, "[state]", onOff(on)), nil
	}
	return "Kill switch " + onOff(on), nil
}

// focus takes minutes or "off".
func (b Builtins) focus(ctx context.Context, c *Context) (string, error) {
	p := strings.ToLower(c.Param)
	if p == "off" || p == "stop" {
		if b.Processor != nil {
			b.Processor.EndFocus(ctx, identity.Canonical{User: *c.Sender})
		} else {
			b.Suppression.DisarmFocus()
		}
		return "Focus mode off", nil
	}
	if p == "" {
		if d := b.Suppression.FocusRemaining(); d > 0 {
			return fmt.Sprintf("Focus mode: %s left", d.Round(time.Second)), nil
		}
		return "Focus mode off", nil
	}
	minutes, err := strconv.Atoi(p)
	if err != nil || minutes <= 0 {
		return "Usage: !focus <minutes|off>", nil
	}
	b.Suppression.ArmFocus(time.Duration(minutes) * time.Minute)
	if c.Template != "" {
		return strings.ReplaceAll(c.Template, "[minutes]", strconv.Itoa(minutes)), nil
	}
	return fmt.Sprintf("Focus mode for %d minutes", minutes), nil
}

func (b Builtins) test(ctx context.Context, c *Context) (string, error) {
	if b.Processor == nil {
		return "", errors.New("processor not wired")
	}
	if strings.TrimSpace(c.Text) == "" {
		return "Usage: !test <event> [user] [count]", nil
	}
	out, err := b.Processor.ProcessTest(ctx, c.Text)
	if err != nil {
		return "", err
	}
	if out.Rejected != "" {
		return fmt.Sprintf("Test %s rejected: %s", out.Type, out.Rejected), nil
	}
	// The event renders its own chat line.
	return "", nil
}

func (b Builtins) stats(ctx context.Context, c *Context) (string, error) {
	var (
		rec storage.UserRecord
		ok  bool
		err error
	)
	if c.Param != "" {
		rec, ok, err = b.Store.FindUserByName(ctx, c.Param)
	} else if c.Sender.Persistable() {
		rec, ok, err = b.Store.GetUser(ctx, c.Sender.ID)
	}
	if err != nil {
		return "", err
	}
	name := lo.Ternary(c.Param != "", c.Param, c.Sender.Label())
	if !ok {
		return fmt.Sprintf("No stats for %s yet", name), nil
	}
	if rec.DisplayName != "" {
		name = rec.DisplayName
	}
	cn := rec.Counters
	parts := []string{
		fmt.Sprintf("%d messages", cn.MessageCount),
		fmt.Sprintf("%d subs", cn.SubCount),
		fmt.Sprintf("%d gifted", cn.GiftSubs),
		fmt.Sprintf("%d raids", cn.RaidCount),
	}
	if cn.FollowDate != 0 {
		parts = append(parts, "following since "+time.Unix(cn.FollowDate, 0).UTC().Format("2006-01-02"))
	}
	return name + ": " + strings.Join(parts, ", "), nil
}

var counterAliases = map[string]string{
	"":         storage.CounterMessages,
	"messages": storage.CounterMessages,
	"chat":     storage.CounterMessages,
	"first":    storage.CounterFirst,
	"subs":     storage.CounterSubs,
	"gifts":    storage.CounterGiftSubs,
	"raids":    storage.CounterRaids,
	"viewers":  storage.CounterRaidViewers,
}

func (b Builtins) top(ctx context.Context, c *Context) (string, error) {
	p := strings.ToLower(c.Param)
	counter, ok := counterAliases[p]
	if !ok {
		if !storage.IsCounter(p) {
			keys := lo.Keys(lo.OmitByKeys(counterAliases, []string{""}))
			sort.Strings(keys)
			return "Usage: !top <" + strings.Join(keys, "|") + ">", nil
		}
		counter = p
	}
	users, err := b.Store.TopUsers(ctx, counter, 5)
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "Nobody on the board yet", nil
	}
	entries := lo.Map(users, func(u storage.UserRecord, i int) string {
		v, _ := u.Counters.Get(counter)
		label := lo.Ternary(u.DisplayName != "", u.DisplayName, u.Name)
		return fmt.Sprintf("%d. %s (%d)", i+1, label, v)
	})
	return "Top " + counter + ": " + strings.Join(entries, ", "), nil
}

func (b Builtins) reload(_ context.Context, _ *Context) (string, error) {
	if b.Reload == nil {
		return "", errors.New("reload not wired")
	}
	if err := b.Reload(); err != nil {
		return "Reload failed: " + err.Error(), nil
	}
	return "Catalog reloaded", nil
}
