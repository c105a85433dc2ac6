package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"streamhub/internal/broadcast"
	"streamhub/internal/catalog"
	"streamhub/internal/commands"
	"streamhub/internal/events"
	"streamhub/internal/identity"
	"streamhub/internal/notifier"
	"streamhub/internal/sources"
	"streamhub/internal/state"
	"streamhub/internal/storage"
	logx "streamhub/pkg/logx"
)

type fakePipeline struct {
	mu        sync.Mutex
	processed []events.RawEvent
	tests     []string
	ended     int
	supp      *state.Suppression
}

func (f *fakePipeline) Process(_ context.Context, ev events.RawEvent) events.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, ev)
	return events.Outcome{Type: ev.Type, Broadcast: true}
}

func (f *fakePipeline) ProcessTest(_ context.Context, text string) (events.Outcome, error) {
	if text == "" {
		return events.Outcome{}, events.ErrEmptyTest
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tests = append(f.tests, text)
	return events.Outcome{Type: "test"}, nil
}

func (f *fakePipeline) EndFocus(context.Context, identity.Raw) bool {
	f.mu.Lock()
	f.ended++
	f.mu.Unlock()
	return f.supp.DisarmFocus()
}

type fakeInvoker struct{ calls []string }

func (f *fakeInvoker) Invoke(_ context.Context, name, args string) commands.Result {
	f.calls = append(f.calls, name+":"+args)
	if name != "hype" {
		return commands.Result{Name: name, Rejected: commands.RejectUnknown}
	}
	return commands.Result{Name: name, Reply: "HYPE " + args}
}

type fakeOutbox []notifier.HistoryItem

func (f fakeOutbox) Snapshot() []notifier.HistoryItem {
	return append([]notifier.HistoryItem(nil), f...)
}

type fixture struct {
	srv      *httptest.Server
	pipeline *fakePipeline
	invoker  *fakeInvoker
	supp     *state.Suppression
	store    storage.Store
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ev, err := catalog.NewEvents(map[string]*catalog.EventEntry{"follow": {SaveEvent: true}})
	require.NoError(t, err)
	cmds, err := catalog.NewCommands(map[string]*catalog.CommandEntry{"hype": {}})
	require.NoError(t, err)

	supp := state.NewSuppression(nil, logx.Nop())
	f := &fixture{
		pipeline: &fakePipeline{supp: supp},
		invoker:  &fakeInvoker{},
		supp:     supp,
		store:    storage.NewMemory(),
	}
	s := New(cfg, Deps{
		Catalog:     catalog.NewStatic(ev, cmds),
		Store:       f.store,
		Pipeline:    f.pipeline,
		Commands:    f.invoker,
		Suppression: supp,
		Stream:      state.NewStream(nil),
		Hub:         broadcast.NewHub(logx.Nop()),
		Webhook:     sources.NewWebhook("tok", "Jo Example", nil),
		Outbox: fakeOutbox{
			{Target: "chat.action", Text: "one"},
			{Target: "discord", Text: "two"},
			{Target: "chat.action", Text: "three"},
		},
		Log: logx.Nop(),
	})
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) post(t *testing.T, path, body string, header map[string]string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (f *fixture) api(t *testing.T, body string) (int, map[string]any) {
	return f.post(t, "/api", body, nil)
}

func TestMalformedRequests(t *testing.T) {
	f := newFixture(t, Config{})
	for _, body := range []string{``, `{`, `{"data":1}`, `[]`} {
		code, _ := f.api(t, body)
		require.Equal(t, http.StatusBadRequest, code, body)
	}
	code, _ := f.api(t, `{"request":"nope"}`)
	require.Equal(t, http.StatusNotFound, code)
	code, _ = f.api(t, `{"request":"events","data":{"limit":"x"}}`)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestStateKillSwitchFocus(t *testing.T) {
	f := newFixture(t, Config{})

	code, out := f.api(t, `{"request":"state"}`)
	require.Equal(t, http.StatusOK, code)
	data := out["data"].(map[string]any)
	require.Equal(t, false, data["killSwitch"])
	require.Equal(t, false, data["live"])
	require.EqualValues(t, 0, data["clients"])

	_, out = f.api(t, `{"request":"killswitch"}`)
	require.Equal(t, true, out["data"].(map[string]any)["killSwitch"])
	_, out = f.api(t, `{"request":"killswitch","data":{"on":true}}`)
	require.Equal(t, true, out["data"].(map[string]any)["killSwitch"])
	require.True(t, f.supp.KillSwitch())
	f.api(t, `{"request":"killswitch","data":{"on":false}}`)
	require.False(t, f.supp.KillSwitch())

	_, out = f.api(t, `{"request":"focus","data":{"minutes":5}}`)
	require.Equal(t, true, out["data"].(map[string]any)["focus"])
	require.True(t, f.supp.Focused())

	_, out = f.api(t, `{"request":"focus","data":{"minutes":0}}`)
	require.Equal(t, false, out["data"].(map[string]any)["focus"])
	require.Equal(t, 1, f.pipeline.ended)

	code, _ = f.api(t, `{"request":"focus","data":{"minutes":-1}}`)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestCatalogStatsEvents(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.store.EnsureUser(ctx, storage.UserRecord{ID: "1", Name: "amy"}))
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, f.store.AppendEventLog(ctx, storage.Occurrence{Type: "follow", UserID: "1", Timestamp: i}))
	}

	_, out := f.api(t, `{"request":"catalog"}`)
	require.Contains(t, out["data"], "follow")
	_, out = f.api(t, `{"request":"commands"}`)
	require.Contains(t, out["data"], "hype")

	_, out = f.api(t, `{"request":"stats"}`)
	require.EqualValues(t, 1, out["data"].(map[string]any)["users"])

	_, out = f.api(t, `{"request":"events","data":{"limit":2}}`)
	rows := out["data"].([]any)
	require.Len(t, rows, 2)
	require.EqualValues(t, 3, rows[0].(map[string]any)["ts"])
}

func TestCommandAndTest(t *testing.T) {
	f := newFixture(t, Config{})

	code, out := f.api(t, `{"request":"command-hype","data":{"args":"now"}}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "HYPE now", out["data"].(map[string]any)["reply"])

	code, _ = f.api(t, `{"request":"command-missing"}`)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, []string{"hype:now", "missing:"}, f.invoker.calls)

	code, _ = f.api(t, `{"request":"test","data":{"text":"follow bob"}}`)
	require.Equal(t, http.StatusOK, code)
	code, _ = f.api(t, `{"request":"test","data":"raid bob 5"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []string{"follow bob", "raid bob 5"}, f.pipeline.tests)

	code, _ = f.api(t, `{"request":"test"}`)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestAPIToken(t *testing.T) {
	f := newFixture(t, Config{APIToken: "s3cret"})
	code, _ := f.api(t, `{"request":"state"}`)
	require.Equal(t, http.StatusUnauthorized, code)
	code, _ = f.post(t, "/api", `{"request":"state"}`, map[string]string{"Authorization": "Bearer wrong"})
	require.Equal(t, http.StatusUnauthorized, code)
	code, _ = f.post(t, "/api", `{"request":"state"}`, map[string]string{"Authorization": "Bearer s3cret"})
	require.Equal(t, http.StatusOK, code)
}

func TestWebhook(t *testing.T) {
	f := newFixture(t, Config{})

	code, out := f.post(t, "/webhook", `{"type":"Donation","from_name":"Eve","amount":"5","verification_token":"tok"}`, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "donation", out["data"].(map[string]any)["type"])

	code, _ = f.post(t, "/webhook", `{"type":"Donation","from_name":"Eve","amount":"5","verification_token":"bad"}`, nil)
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = f.post(t, "/webhook", `{"type":"Donation"}`, nil)
	require.Equal(t, http.StatusBadRequest, code)

	require.Len(t, f.pipeline.processed, 1)
	require.Equal(t, identity.Name("Eve"), f.pipeline.processed[0].User)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, Config{})
	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestOutboxNewestFirst(t *testing.T) {
	f := newFixture(t, Config{})
	code, body := f.api(t, `{"request":"outbox","data":{"limit":2}}`)
	require.Equal(t, http.StatusOK, code)
	items := body["data"].([]any)
	require.Len(t, items, 2)
	require.Equal(t, "three", items[0].(map[string]any)["text"])
	require.Equal(t, "discord", items[1].(map[string]any)["target"])

	code, body = f.api(t, `{"request":"outbox"}`)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["data"].([]any), 3)
}
