package commands

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"streamhub/internal/broadcast"
	"streamhub/internal/catalog"
	"streamhub/internal/events"
	"streamhub/internal/gate"
	"streamhub/internal/identity"
	"streamhub/internal/state"
	"streamhub/internal/storage"
	logx "streamhub/pkg/logx"
)

type fakeBroadcaster struct {
	mu     sync.Mutex
	inputs []broadcast.Input
	says   []string
}

func (f *fakeBroadcaster) MaybeSend(_ context.Context, in broadcast.Input) (broadcast.Payload, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	return broadcast.Payload{Type: in.Type}, 0
}

func (f *fakeBroadcaster) Say(_ context.Context, text string, _, _ bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.says = append(f.says, text)
}

func (f *fakeBroadcaster) Says() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.says...)
}

type fixture struct {
	d      *Dispatcher
	sup    *state.Suppression
	stream *state.Stream
	bc     *fakeBroadcaster
	st     storage.Store
	proc   *events.Processor
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cmds, err := catalog.NewCommands(map[string]*catalog.CommandEntry{
		"hug":        {Aliases: []string{"cuddle"}, Cooldown: 10, Message: catalog.Template{"en": {"[sender] hugs [user]"}}},
		"modonly":    {OnlyMods: true, Message: catalog.Template{"en": {"ok"}}},
		"quiet":      {DisableOnFocus: true, Message: catalog.Template{"en": {"shh"}}},
		"uptime":     {DisableIfOffline: true, Message: catalog.Template{"en": {"live!"}}},
		"boom":       {Message: catalog.Template{"en": {"never"}}},
		"dice":       {Handler: "roll", Message: catalog.Template{"en": {"fallback"}}},
		"killswitch": {OnlyMods: true},
		"focus":      {OnlyMods: true},
		"test":       {OnlyMods: true},
		"stats":      {},
		"top":        {},
		"reload":     {OnlyMods: true},
		"hype":       {Message: catalog.Template{"en": {"HYPE [text]"}}},
		"fortune":    {Message: catalog.Template{"en": {"rain", "sun", "snow"}}},
	})
	require.NoError(t, err)
	ev, err := catalog.NewEvents(map[string]*catalog.EventEntry{
		"raid":      {SaveEvent: true, Message: catalog.Template{"en": {"[user] raid [count]"}}},
		"focusstop": {Message: catalog.Template{"en": {"focus over"}}},
	})
	require.NoError(t, err)
	cat := catalog.NewStatic(ev, cmds)

	st := storage.NewMemory()
	sup := state.NewSuppression(nil, logx.Nop())
	stream := state.NewStream(nil)
	bc := &fakeBroadcaster{}
	resolver := identity.NewResolver(st)

	proc := events.NewProcessor(events.Deps{
		Catalog:     cat,
		Resolver:    resolver,
		Suppression: sup,
		Dedup:       gate.NewDedup(st, 0),
		Store:       st,
		Broadcaster: bc,
	})
	d := NewDispatcher(Deps{
		Catalog:     cat,
		Resolver:    resolver,
		Suppression: sup,
		Stream:      stream,
		Broadcaster: bc,
	})
	proc.SetCommands(d)
	d.SetOwner("streamer", "1")

	f := &fixture{d: d, sup: sup, stream: stream, bc: bc, st: st, proc: proc, clock: time.Unix(1000, 0)}
	d.now = func() time.Time { return f.clock }

	d.Handle("boom", func(context.Context, *Context) (string, error) { panic("kaboom") })
	d.Handle("roll", func(_ context.Context, c *Context) (string, error) { return "rolled for [sender]", nil })
	Builtins{Processor: proc, Suppression: sup, Store: st, Reload: func() error { return errors.New("disk gone") }}.Register(d)
	return f
}

func viewer(name string) identity.Raw {
	return identity.ChatIdentity{ID: "v-" + name, Name: name, DisplayName: name}
}

func mod(name string) identity.Raw {
	return identity.ChatIdentity{ID: "m-" + name, Name: name, DisplayName: name, Badges: map[string]int{"moderator": 1}}
}

func ownerIdent() identity.Raw {
	return identity.ChatIdentity{ID: "1", Name: "streamer", DisplayName: "Streamer"}
}

func TestParse(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in, name, rest string
		ok             bool
	}{
		{"!Hug @bob now", "hug", "@bob now", true},
		{"  !lurk", "lurk", "", true},
		{"hello !hug", "", "", false},
		{"!", "", "", false},
	}
	for _, tc := range cases {
		name, rest, ok := Parse(tc.in)
		require.Equal(t, tc.ok, ok, tc.in)
		require.Equal(t, tc.name, name, tc.in)
		require.Equal(t, tc.rest, rest, tc.in)
	}
}

func TestAliasAndTemplate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	res := f.d.Dispatch(context.Background(), "!cuddle @bob", nil, viewer("alice"))
	require.Empty(t, res.Rejected)
	require.Equal(t, "hug", res.Name)
	require.Equal(t, "alice hugs bob", res.Reply)
	require.Equal(t, []string{"alice hugs bob"}, f.bc.Says())
	require.Equal(t, broadcast.TypeCommand, f.bc.inputs[0].Type)
	require.Equal(t, "hug", f.bc.inputs[0].Command)
}

type fixedRand int

func (r fixedRand) IntN(n int) int { return int(r) % n }

func TestSetRandPicksVariant(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.d.SetRand(fixedRand(2))
	res := f.d.Dispatch(context.Background(), "!fortune", nil, viewer("alice"))
	require.Empty(t, res.Rejected)
	require.Equal(t, "snow", res.Reply)

	f.d.SetRand(fixedRand(1))
	res = f.d.Dispatch(context.Background(), "!fortune", nil, viewer("bob"))
	require.Equal(t, "sun", res.Reply)
}

func TestCooldownChargedOnAttempt(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	require.Empty(t, f.d.Dispatch(ctx, "!hug", nil, viewer("a")).Rejected)
	f.clock = f.clock.Add(9 * time.Second)
	require.Equal(t, RejectCooldown, f.d.Dispatch(ctx, "!hug", nil, viewer("b")).Rejected)
	f.clock = f.clock.Add(time.Second)
	require.Empty(t, f.d.Dispatch(ctx, "!hug", nil, viewer("c")).Rejected)
}

func TestGateOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.Equal(t, RejectUnknown, f.d.Dispatch(ctx, "!nope", nil, viewer("a")).Rejected)

	require.Equal(t, RejectPermission, f.d.Dispatch(ctx, "!modonly", nil, viewer("a")).Rejected)
	require.Empty(t, f.d.Dispatch(ctx, "!modonly", nil, mod("m")).Rejected)
	require.Empty(t, f.d.Dispatch(ctx, "!modonly", nil, ownerIdent()).Rejected)

	require.Equal(t, RejectOffline, f.d.Dispatch(ctx, "!uptime", nil, ownerIdent()).Rejected)
	f.stream.SetLive(true)
	require.Empty(t, f.d.Dispatch(ctx, "!uptime", nil, viewer("a")).Rejected)

	f.sup.ArmFocus(time.Hour)
	defer f.sup.DisarmFocus()
	// Focus is checked before permission, so even the owner is refused.
	require.Equal(t, RejectFocus, f.d.Dispatch(ctx, "!quiet", nil, ownerIdent()).Rejected)
}

func TestKillSwitchAllowsOnlyOwner(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.sup.SetKillSwitch(true)
	require.Equal(t, RejectPermission, f.d.Dispatch(ctx, "!hype", nil, mod("m")).Rejected)
	require.Equal(t, RejectPermission, f.d.Dispatch(ctx, "!hype", nil, viewer("v")).Rejected)
	require.Empty(t, f.d.Dispatch(ctx, "!hype", nil, ownerIdent()).Rejected)

	res := f.d.Dispatch(ctx, "!killswitch off", nil, ownerIdent())
	require.Equal(t, "Kill switch off", res.Reply)
	require.False(t, f.sup.KillSwitch())
}

func TestHandlerOverridesTemplate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	res := f.d.Dispatch(context.Background(), "!dice", nil, viewer("zed"))
	require.Equal(t, "rolled for zed", res.Reply)
}

func TestPanickingHandlerIsContained(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	res := f.d.Dispatch(context.Background(), "!boom", nil, viewer("a"))
	require.Empty(t, res.Rejected)
	require.Empty(t, res.Reply)
	require.Empty(t, f.bc.Says())
}

func TestInvokeActsAsOwner(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.sup.SetKillSwitch(true)
	res := f.d.Invoke(context.Background(), "hype", "now")
	require.Empty(t, res.Rejected)
	require.Equal(t, "HYPE now", res.Reply)
}

func TestFocusBuiltin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.Equal(t, "Focus mode for 5 minutes", f.d.Dispatch(ctx, "!focus 5", nil, mod("m")).Reply)
	require.True(t, f.sup.Focused())
	require.Equal(t, "Focus mode off", f.d.Dispatch(ctx, "!focus off", nil, mod("m")).Reply)
	require.False(t, f.sup.Focused())
	require.Contains(t, f.bc.Says(), "focus over")
	require.Equal(t, "Usage: !focus <minutes|off>", f.d.Dispatch(ctx, "!focus soon", nil, mod("m")).Reply)
}

func TestTestBuiltinRunsEventPipeline(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.d.Dispatch(context.Background(), "!test raid bob 12", nil, mod("m"))
	require.Contains(t, f.bc.Says(), "bob raid 12")
	rows, err := f.st.QueryRecentEvents(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestStatsAndTop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.st.EnsureUser(ctx, storage.UserRecord{ID: "v-amy", Name: "amy", DisplayName: "Amy"}))
	require.NoError(t, f.st.EnsureUser(ctx, storage.UserRecord{ID: "v-ben", Name: "ben"}))
	require.NoError(t, f.st.UpdateCounters(ctx, "v-amy", storage.CounterUpdate{Increments: map[string]int64{storage.CounterMessages: 7}}))
	require.NoError(t, f.st.UpdateCounters(ctx, "v-ben", storage.CounterUpdate{Increments: map[string]int64{storage.CounterMessages: 3}}))

	require.Equal(t, "Amy: 7 messages, 0 subs, 0 gifted, 0 raids", f.d.Dispatch(ctx, "!stats", nil, viewer("amy")).Reply)
	require.Equal(t, "ben: 3 messages, 0 subs, 0 gifted, 0 raids", f.d.Dispatch(ctx, "!stats ben", nil, viewer("amy")).Reply)
	require.Equal(t, "No stats for nobody yet", f.d.Dispatch(ctx, "!stats nobody", nil, viewer("amy")).Reply)
	require.Equal(t, "Top message_count: 1. Amy (7), 2. ben (3)", f.d.Dispatch(ctx, "!top", nil, viewer("amy")).Reply)
}

func TestReloadBuiltinReportsFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.Equal(t, "Reload failed: disk gone", f.d.Dispatch(context.Background(), "!reload", nil, ownerIdent()).Reply)
}
