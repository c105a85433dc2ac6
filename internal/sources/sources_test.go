package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"streamhub/internal/catalog"
	"streamhub/internal/events"
	"streamhub/internal/identity"
	"streamhub/internal/state"
	"streamhub/internal/storage"
	"streamhub/internal/transport"
	logx "streamhub/pkg/logx"
)

type recordSink struct {
	mu  sync.Mutex
	evs []events.RawEvent
}

func (s *recordSink) Process(_ context.Context, ev events.RawEvent) events.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evs = append(s.evs, ev)
	return events.Outcome{Type: ev.Type}
}

func (s *recordSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.evs))
	for _, ev := range s.evs {
		out = append(out, ev.Type)
	}
	return out
}

type recordCommands struct{ texts []string }

func (r *recordCommands) Process(_ context.Context, text string, _ *transport.Message, _ identity.Raw) {
	r.texts = append(r.texts, text)
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	ev, err := catalog.NewEvents(map[string]*catalog.EventEntry{
		"resub":           {},
		"resub4":          {},
		"resub5":          {},
		"communitygift":   {},
		"communitygift3":  {},
		"chatscore-hype":  {Match: `(?i)\bhype\b`},
		"chatscore-pog":   {Match: `(?i)pog`},
		"first":           {},
		"cheer":           {},
		"follow":          {},
		"streamonline":    {},
		"streamoffline":   {},
		"shieldmodeon":    {},
		"shieldmodeoff":   {},
		"donation":        {},
		"tip":             {},
		"chatscore-never": {Match: `^$never`},
	})
	require.NoError(t, err)
	cmds, err := catalog.NewCommands(nil)
	require.NoError(t, err)
	return catalog.NewStatic(ev, cmds)
}

func TestResubTier(t *testing.T) {
	cases := map[int64]int{0: 1, 3: 1, 4: 2, 11: 2, 12: 3, 22: 3, 23: 4, 34: 4, 35: 5, 120: 5}
	for months, want := range cases {
		require.Equal(t, want, ResubTier(months), "months=%d", months)
	}
}

func TestGiftTier(t *testing.T) {
	cases := map[int64]int{1: 1, 4: 1, 5: 2, 9: 2, 10: 3, 19: 3, 20: 4, 49: 4, 50: 5, 99: 5, 100: 6, 199: 6, 200: 7}
	for amount, want := range cases {
		require.Equal(t, want, GiftTier(amount), "amount=%d", amount)
	}
}

func TestPlatformEventType(t *testing.T) {
	p := NewPlatform(&recordSink{}, testCatalog(t), state.NewStream(nil), logx.Nop())

	require.Equal(t, "resub4", p.EventType(Notification{Kind: KindResub, Count: 23}))
	require.Equal(t, "resub4", p.EventType(Notification{Kind: KindResub, Count: 34}))
	require.Equal(t, "resub5", p.EventType(Notification{Kind: KindResub, Count: 35}))
	// no resub2 entry: falls back to the base type
	require.Equal(t, "resub", p.EventType(Notification{Kind: KindResub, Count: 6}))
	require.Equal(t, "communitygift3", p.EventType(Notification{Kind: KindCommunityGift, Count: 10}))
	require.Equal(t, "communitygift", p.EventType(Notification{Kind: KindCommunityGift, Count: 4}))
	require.Equal(t, "shieldmodeon", p.EventType(Notification{Kind: KindShieldMode, Active: true}))
	require.Equal(t, "shieldmodeoff", p.EventType(Notification{Kind: KindShieldMode}))
	require.Equal(t, "follow", p.EventType(Notification{Kind: KindFollow}))
}

func TestPlatformStreamState(t *testing.T) {
	sink := &recordSink{}
	stream := state.NewStream(nil)
	p := NewPlatform(sink, testCatalog(t), stream, logx.Nop())
	ctx := context.Background()

	p.Handle(ctx, Notification{Kind: KindStreamOnline, User: identity.Name("streamer")})
	require.True(t, stream.Live())
	require.Equal(t, uint64(1), stream.Session())

	p.Handle(ctx, Notification{Kind: KindStreamOffline, User: identity.Name("streamer")})
	require.False(t, stream.Live())
	require.Equal(t, []string{"streamonline", "streamoffline"}, sink.types())
}

func TestChatDerivedEvents(t *testing.T) {
	sink := &recordSink{}
	cmds := &recordCommands{}
	st := storage.NewMemory()
	stream := state.NewStream(nil)
	c := NewChat(ChatDeps{Sink: sink, Commands: cmds, Store: st, Catalog: testCatalog(t), Stream: stream})
	ctx := context.Background()

	amy := identity.ChatIdentity{ID: "10", Name: "Amy", DisplayName: "Amy"}
	msg := func(text string) *transport.Message {
		return &transport.Message{Text: text, User: amy, Time: time.Now()}
	}

	// offline: no first, chatscore still counts
	c.HandleMessage(ctx, msg("so much hype"))
	require.Equal(t, []string{"chatscore-hype"}, sink.types())

	stream.SetLive(true)
	c.HandleMessage(ctx, msg("hello"))
	c.HandleMessage(ctx, msg("hello again"))
	require.Equal(t, []string{"chatscore-hype", "first"}, sink.types())

	// one chatscore per message even when several match
	c.HandleMessage(ctx, msg("hype pog"))
	require.Equal(t, "chatscore-hype", sink.types()[2])
	require.Len(t, sink.types(), 3)

	cheer := msg("cheer100 nice")
	cheer.Bits = 100
	cheer.FirstMessage = true
	c.HandleMessage(ctx, cheer)
	require.Equal(t, []string{TypeNewChatter, "cheer"}, sink.types()[3:])
	require.Equal(t, int64(100), sink.evs[4].Count)

	c.HandleMessage(ctx, msg("!hype pog"))
	require.Equal(t, []string{"!hype pog"}, cmds.texts)
	require.Len(t, sink.types(), 5)

	rec, _, err := st.GetUser(ctx, "10")
	require.NoError(t, err)
	require.Equal(t, int64(6), rec.Counters.MessageCount)

	// a new stream session awards first again
	stream.SetLive(false)
	stream.SetLive(true)
	c.HandleMessage(ctx, msg("back"))
	require.Equal(t, "first", sink.types()[5])
}

func TestWebhookDecode(t *testing.T) {
	w := NewWebhook("secret", "Jo Example", map[string]string{"Tip": "tip"})

	ev, err := w.Decode([]byte(`{"type":"tip","from_name":" Dana ","amount":"4.60","message":"gg","verification_token":"secret"}`))
	require.NoError(t, err)
	require.Equal(t, "tip", ev.Type)
	require.Equal(t, identity.Name("Dana"), ev.User)
	require.Equal(t, int64(5), ev.Count)
	require.Equal(t, "gg", ev.Text)
	require.False(t, ev.IsTest)

	ev, err = w.Decode([]byte(`{"type":"Subscription","from_name":"jo example","amount":"3","verification_token":"secret"}`))
	require.NoError(t, err)
	require.Equal(t, events.TypeDonation, ev.Type)
	require.True(t, ev.IsTest)

	_, err = w.Decode([]byte(`{"type":"tip","from_name":"Dana","amount":"1","verification_token":"nope"}`))
	require.ErrorIs(t, err, ErrBadToken)

	for _, body := range []string{``, `{`, `{"type":"tip","amount":"1"}`, `{"type":"tip","from_name":"x","amount":"lots"}`} {
		_, err = w.Decode([]byte(body))
		require.ErrorIs(t, err, ErrInvalidPayload, body)
	}
}

func TestWebhookDecodeForm(t *testing.T) {
	w := NewWebhook("", "", nil)
	form := url.Values{"data": {`{"type":"Donation","from_name":"Eve","amount":"10.00","currency":"USD"}`}}
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	ev, err := w.DecodeRequest(req)
	require.NoError(t, err)
	require.Equal(t, events.TypeDonation, ev.Type)
	require.Equal(t, int64(10), ev.Count)
	require.Equal(t, "Eve", ev.Sender)
}

func TestDecodeNotification(t *testing.T) {
	t.Parallel()
	n, err := DecodeNotification([]byte(`{"kind":" Raid ","userId":"5","user":"ann","displayName":"Ann","count":12,"time":"2026-01-02T03:04:05Z"}`))
	require.NoError(t, err)
	require.Equal(t, KindRaid, n.Kind)
	require.EqualValues(t, 12, n.Count)
	require.Equal(t, identity.Profile{ID: "5", Login: "ann", DisplayName: "Ann"}, n.User)
	require.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), n.Time.UTC())

	n, err = DecodeNotification([]byte(`{"kind":"shieldmode","user":"mod","active":true}`))
	require.NoError(t, err)
	require.Equal(t, identity.Name("mod"), n.User)
	require.True(t, n.Active)

	for _, body := range []string{`{}`, `{"kind":"raid","count":-3}`, `{"kind":"follow","userId":"1"}`, `nope`} {
		_, err := DecodeNotification([]byte(body))
		require.ErrorIs(t, err, ErrInvalidNotification, body)
	}
}

func TestPlatformAttributesUserlessToChannel(t *testing.T) {
	t.Parallel()
	sink := &recordSink{}
	p := NewPlatform(sink, testCatalog(t), nil, logx.Nop())
	p.Handle(context.Background(), Notification{Kind: KindAdBreak, Count: 90})
	require.Nil(t, sink.evs[0].User)

	p.SetChannel("streamer")
	p.Handle(context.Background(), Notification{Kind: KindAdBreak, Count: 90})
	require.Equal(t, identity.Name("streamer"), sink.evs[1].User)
}
