package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"streamhub/internal/broadcast"
	"streamhub/internal/catalog"
	"streamhub/internal/gate"
	"streamhub/internal/identity"
	"streamhub/internal/state"
	"streamhub/internal/storage"
	"streamhub/internal/transport"
	logx "streamhub/pkg/logx"
)

type said struct {
	text         string
	announcement bool
	external     bool
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	inputs []broadcast.Input
	says   []said
}

func (f *fakeBroadcaster) MaybeSend(_ context.Context, in broadcast.Input) (broadcast.Payload, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	return broadcast.Payload{Key: "k", Type: in.Type}, 1
}

func (f *fakeBroadcaster) Say(_ context.Context, text string, announcement, external bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.says = append(f.says, said{text, announcement, external})
}

type fakeRunner struct {
	mu    sync.Mutex
	texts []string
	users []identity.Raw
}

func (f *fakeRunner) Process(_ context.Context, text string, _ *transport.Message, user identity.Raw) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.users = append(f.users, user)
}

type fixedRand struct{ n int }

func (f fixedRand) IntN(n int) int {
	if f.n >= n {
		return n - 1
	}
	return f.n
}

type fixture struct {
	p      *Processor
	st     storage.Store
	sup    *state.Suppression
	bc     *fakeBroadcaster
	runner *fakeRunner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ev, err := catalog.NewEvents(map[string]*catalog.EventEntry{
		"follow": {SaveEvent: true, Message: catalog.Template{"en": {"[user] followed"}}},
		"sub":    {SaveEvent: true, Message: catalog.Template{"en": {"[user] subscribed"}}, IsAnnouncement: true},
		"raid":   {SaveEvent: true, External: true, Message: catalog.Template{"en": {"[user] raids with [count]"}}},
		"cheer":  {SaveEvent: true, DisableOnFocus: true, Message: catalog.Template{"en": {"[user] cheered [count]"}}},
		"hype":   {IsCommand: true},
		"silent": {SaveEvent: true},
		"subgift": {
			SaveEvent: true,
			Message:   catalog.Template{"en": {"[sender] gifted [user] a sub"}},
		},
		"chatscore-gg": {SaveEvent: true, Match: "gg"},
	})
	require.NoError(t, err)

	st := storage.NewMemory()
	sup := state.NewSuppression(nil, logx.Nop())
	bc := &fakeBroadcaster{}
	runner := &fakeRunner{}
	p := NewProcessor(Deps{
		Catalog:     catalog.NewStatic(ev, nil),
		Resolver:    identity.NewResolver(st),
		Suppression: sup,
		Dedup:       gate.NewDedup(st, 0),
		Store:       st,
		Broadcaster: bc,
		Log:         logx.Nop(),
	})
	p.SetCommands(runner)
	p.SetOwner("streamer", "1000")
	return &fixture{p: p, st: st, sup: sup, bc: bc, runner: runner}
}

func chatUser(id, name string) identity.Raw {
	return identity.ChatIdentity{ID: id, Name: name, DisplayName: name}
}

func TestProcessPersistsAndAnnounces(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	out := f.p.Process(ctx, RawEvent{Type: "Raid", User: chatUser("1", "alice"), Count: 42, Timestamp: time.Unix(100, 0)})
	require.Empty(t, out.Rejected)
	require.True(t, out.Broadcast)
	require.True(t, out.Persisted)
	require.Equal(t, "alice raids with 42", out.ChatText)
	require.Equal(t, []said{{"alice raids with 42", false, true}}, f.bc.says)

	u, ok, err := f.st.GetUser(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, u.Counters.RaidCount)
	require.EqualValues(t, 42, u.Counters.RaidViewers)
}

func TestDuplicateBroadcastsButSkipsPersistAndChat(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first := f.p.Process(ctx, RawEvent{Type: "cheer", User: chatUser("1", "alice"), Count: 100, Timestamp: time.Unix(100, 0)})
	again := f.p.Process(ctx, RawEvent{Type: "cheer", User: chatUser("1", "alice"), Count: 100, Timestamp: time.Unix(101, 0)})
	later := f.p.Process(ctx, RawEvent{Type: "cheer", User: chatUser("1", "alice"), Count: 100, Timestamp: time.Unix(103, 0)})

	require.True(t, first.Persisted)
	require.True(t, again.Broadcast)
	require.True(t, again.Duplicate)
	require.False(t, again.Persisted)
	require.Empty(t, again.ChatText)
	require.True(t, later.Persisted)

	rows, err := f.st.QueryRecentEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Len(t, f.bc.inputs, 3)
	require.Len(t, f.bc.says, 2)
}

func TestFollowDateSetOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.p.Process(ctx, RawEvent{Type: "follow", User: chatUser("1", "alice"), Timestamp: time.Unix(100, 0)})
	out := f.p.Process(ctx, RawEvent{Type: "follow", User: chatUser("1", "alice"), Timestamp: time.Unix(5000, 0)})
	require.True(t, out.Duplicate)

	u, _, err := f.st.GetUser(ctx, "1")
	require.NoError(t, err)
	require.EqualValues(t, 100, u.Counters.FollowDate)
}

func TestCounterAggregation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		out := f.p.Process(ctx, RawEvent{Type: "sub", User: chatUser("2", "bob"), Timestamp: time.Unix(int64(100+10*i), 0)})
		require.True(t, out.Persisted)
	}
	u, _, err := f.st.GetUser(ctx, "2")
	require.NoError(t, err)
	require.EqualValues(t, 3, u.Counters.SubCount)
	require.Equal(t, said{"bob subscribed", true, false}, f.bc.says[0])
}

func TestSuppressionPrecedence(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.sup.ArmFocus(time.Hour)
	defer f.sup.DisarmFocus()
	require.Equal(t, RejectFocus, f.p.Process(ctx, RawEvent{Type: "cheer", User: chatUser("1", "a"), Count: 1}).Rejected)
	require.Empty(t, f.p.Process(ctx, RawEvent{Type: "follow", User: chatUser("1", "a")}).Rejected)

	f.sup.SetKillSwitch(true)
	require.Equal(t, RejectKillSwitch, f.p.Process(ctx, RawEvent{Type: "cheer", User: chatUser("1", "a"), Count: 1}).Rejected)
	require.Equal(t, RejectKillSwitch, f.p.Process(ctx, RawEvent{Type: "sub", User: chatUser("1", "a")}).Rejected)

	// the owner passes the kill switch, matched by id or by name
	require.Empty(t, f.p.Process(ctx, RawEvent{Type: "sub", User: chatUser("1000", "renamed")}).Rejected)
	require.Empty(t, f.p.Process(ctx, RawEvent{Type: "sub", User: chatUser("99", "Streamer"), Timestamp: time.Unix(500, 0)}).Rejected)
	// focus still applies to the owner
	require.Equal(t, RejectFocus, f.p.Process(ctx, RawEvent{Type: "cheer", User: chatUser("1000", "streamer"), Count: 1}).Rejected)
}

func TestRejections(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	require.Equal(t, RejectUnknownType, f.p.Process(ctx, RawEvent{Type: "nope", User: identity.Name("x")}).Rejected)
	require.Equal(t, RejectNoIdentity, f.p.Process(ctx, RawEvent{Type: "follow"}).Rejected)
	require.Empty(t, f.bc.inputs)
}

func TestUnidentifiedUserIsNotPersisted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	out := f.p.Process(context.Background(), RawEvent{Type: "follow", User: identity.Name("ghost")})
	require.True(t, out.Broadcast)
	require.False(t, out.Persisted)
	require.Equal(t, "ghost followed", out.ChatText)
}

func TestFallbackColorIsNotStored(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	out := f.p.Process(ctx, RawEvent{Type: "follow", User: chatUser("7", "gus"), Timestamp: time.Unix(100, 0)})
	require.True(t, out.Persisted)
	u, ok, err := f.st.GetUser(ctx, "7")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, u.Color)

	red := identity.ChatIdentity{ID: "8", Name: "hal", DisplayName: "hal", Color: "#FF0000"}
	require.True(t, f.p.Process(ctx, RawEvent{Type: "follow", User: red, Timestamp: time.Unix(200, 0)}).Persisted)
	u, _, err = f.st.GetUser(ctx, "8")
	require.NoError(t, err)
	require.Equal(t, "#FF0000", u.Color)
}

func TestChatscoreRepeatRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	require.True(t, f.p.Process(ctx, RawEvent{Type: "chatscore-gg", User: chatUser("1", "a"), Timestamp: time.Unix(1, 0)}).Persisted)
	require.Equal(t, RejectChatscoreRepeat, f.p.Process(ctx, RawEvent{Type: "chatscore-gg", User: chatUser("1", "a"), Timestamp: time.Unix(50, 0)}).Rejected)
	require.True(t, f.p.Process(ctx, RawEvent{Type: "chatscore-gg", User: chatUser("2", "b"), Timestamp: time.Unix(60, 0)}).Persisted)
}

func TestCommandReentry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.p.Process(context.Background(), RawEvent{Type: "hype", User: chatUser("1", "alice"), Text: "  go go  "})
	require.Equal(t, []string{"!hype go go"}, f.runner.texts)
	c, ok := f.runner.users[0].(identity.Canonical)
	require.True(t, ok)
	require.Equal(t, "alice", c.User.Name)
}

func TestSenderPlaceholder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	out := f.p.Process(context.Background(), RawEvent{Type: "subgift", User: chatUser("3", "carol"), Sender: "dave", Count: 1})
	require.Equal(t, "dave gifted carol a sub", out.ChatText)
}

func TestProcessTest(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.p.SetRand(fixedRand{n: 9})
	ctx := context.Background()

	ev, err := f.p.ParseTest("raid")
	require.NoError(t, err)
	require.Equal(t, identity.Name("streamer"), ev.User)
	require.EqualValues(t, 10, ev.Count)
	require.True(t, ev.IsTest)

	ev, err = f.p.ParseTest("cheer @bob 250 nice stream")
	require.NoError(t, err)
	require.Equal(t, identity.Name("bob"), ev.User)
	require.EqualValues(t, 250, ev.Count)
	require.Equal(t, "nice stream", ev.Text)

	out, err := f.p.ProcessTest(ctx, "sub alice")
	require.NoError(t, err)
	require.True(t, out.Broadcast)
	require.False(t, out.Persisted)
	require.Equal(t, "alice subscribed", out.ChatText)

	_, err = f.p.ProcessTest(ctx, "   ")
	require.ErrorIs(t, err, ErrEmptyTest)
}

func TestRender(t *testing.T) {
	t.Parallel()
	got := Render("[user] x[count] by [sender]: [text]", Vars{User: "A", Count: 3, Text: "hi"})
	require.Equal(t, "A x3 by A: hi", got)
}
