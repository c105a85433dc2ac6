package httpapi

import (
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"streamhub/internal/commands"
	"streamhub/internal/events"
	"streamhub/internal/metrics"
	"streamhub/internal/notifier"
	"streamhub/internal/sources"
	"streamhub/internal/state"
	logx "streamhub/pkg/logx"
)

const (
	maxBody           = 1 << 20
	defaultEventLimit = 50
)

// errStatus carries an HTTP status out of a request handler.
type errStatus int

func (e errStatus) Error() string { return http.StatusText(int(e)) }

const (
	errBadRequest errStatus = http.StatusBadRequest
	errNotFound   errStatus = http.StatusNotFound
)

type apiRequest struct {
	Request string          `json:"request"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type apiResponse struct {
	Data any `json:"data"`
}

type stateView struct {
	state.Snapshot
	Live      bool       `json:"live"`
	LiveSince *time.Time `json:"liveSince,omitempty"`
	Clients   int        `json:"clients"`
}

type requestFunc func(r *http.Request, data json.RawMessage) (any, error)

func (s *Server) requests() map[string]requestFunc {
	return map[string]requestFunc{
		"catalog":    s.reqCatalog,
		"commands":   s.reqCommands,
		"stats":      s.reqStats,
		"events":     s.reqEvents,
		"state":      s.reqState,
		"test":       s.reqTest,
		"killswitch": s.reqKillSwitch,
		"focus":      s.reqFocus,
		"notify":     s.reqNotify,
		"outbox":     s.reqOutbox,
	}
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	var req apiRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil || json.Unmarshal(body, &req) != nil || strings.TrimSpace(req.Request) == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	name := strings.ToLower(strings.TrimSpace(req.Request))

	var fn requestFunc
	if cmd, ok := strings.CutPrefix(name, "command-"); ok {
		fn = func(r *http.Request, data json.RawMessage) (any, error) { return s.reqCommand(r, cmd, data) }
	} else if fn, ok = s.requests()[name]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	out, err := fn(r, req.Data)
	if err != nil {
		status := http.StatusInternalServerError
		var es errStatus
		if errors.As(err, &es) {
			status = int(es)
		} else {
			s.log.Warn("api request failed", logx.String("request", name), logx.Err(err))
		}
		w.WriteHeader(status)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// decodeData unmarshals optional request data; absent data leaves v as is.
func decodeData(data json.RawMessage, v any) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errBadRequest
	}
	return nil
}

func (s *Server) reqCatalog(_ *http.Request, _ json.RawMessage) (any, error) {
	return s.d.Catalog.Events().Entries(), nil
}

func (s *Server) reqCommands(_ *http.Request, _ json.RawMessage) (any, error) {
	return s.d.Catalog.Commands().Entries(), nil
}

func (s *Server) reqStats(r *http.Request, _ json.RawMessage) (any, error) {
	return s.d.Store.QueryAggregateStats(r.Context())
}

func (s *Server) reqEvents(r *http.Request, data json.RawMessage) (any, error) {
	in := struct {
		Limit int `json:"limit"`
	}{Limit: defaultEventLimit}
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	return s.d.Store.QueryRecentEvents(r.Context(), in.Limit)
}

func (s *Server) stateView() stateView {
	v := stateView{Snapshot: s.d.Suppression.Snapshot()}
	if s.d.Stream != nil {
		v.Live = s.d.Stream.Live()
		if since := s.d.Stream.Since(); !since.IsZero() {
			v.LiveSince = &since
		}
	}
	if s.d.Hub != nil {
		v.Clients = s.d.Hub.Len()
	}
	return v
}

func (s *Server) reqState(_ *http.Request, _ json.RawMessage) (any, error) {
	return s.stateView(), nil
}

func (s *Server) reqCommand(r *http.Request, name string, data json.RawMessage) (any, error) {
	var in struct {
		Args string `json:"args"`
	}
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	res := s.d.Commands.Invoke(r.Context(), name, in.Args)
	if res.Rejected == commands.RejectUnknown {
		return nil, errNotFound
	}
	return res, nil
}

func (s *Server) reqTest(r *http.Request, data json.RawMessage) (any, error) {
	var in struct {
		Text string `json:"text"`
	}
	if err := decodeData(data, &in); err != nil {
		// a bare string is accepted too
		if json.Unmarshal(data, &in.Text) != nil {
			return nil, errBadRequest
		}
	}
	out, err := s.d.Pipeline.ProcessTest(r.Context(), in.Text)
	if errors.Is(err, events.ErrEmptyTest) {
		return nil, errBadRequest
	}
	return out, err
}

func (s *Server) reqKillSwitch(_ *http.Request, data json.RawMessage) (any, error) {
	var in struct {
		On *bool `json:"on"`
	}
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	if in.On != nil {
		s.d.Suppression.SetKillSwitch(*in.On)
	} else {
		s.d.Suppression.ToggleKillSwitch()
	}
	return s.stateView(), nil
}

func (s *Server) reqFocus(r *http.Request, data json.RawMessage) (any, error) {
	var in struct {
		Minutes int `json:"minutes"`
	}
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	switch {
	case in.Minutes < 0:
		return nil, errBadRequest
	case in.Minutes == 0:
		s.d.Pipeline.EndFocus(r.Context(), nil)
	default:
		s.d.Suppression.ArmFocus(time.Duration(in.Minutes) * time.Minute)
	}
	return s.stateView(), nil
}

// reqNotify submits a platform notification, for example from an EventSub
// relay: {"kind":"streamonline"} or {"kind":"follow","userId":"1","user":"ann"}.
func (s *Server) reqNotify(r *http.Request, data json.RawMessage) (any, error) {
	if s.d.Platform == nil {
		return nil, errNotFound
	}
	n, err := sources.DecodeNotification(data)
	if err != nil {
		s.log.Debug("notification rejected", logx.Err(err))
		return nil, errBadRequest
	}
	return s.d.Platform.Handle(r.Context(), n), nil
}

// reqOutbox returns the most recent deliveries, newest first.
func (s *Server) reqOutbox(_ *http.Request, data json.RawMessage) (any, error) {
	in := struct {
		Limit int `json:"limit"`
	}{Limit: defaultEventLimit}
	if err := decodeData(data, &in); err != nil {
		return nil, err
	}
	if s.d.Outbox == nil {
		return []notifier.HistoryItem{}, nil
	}
	items := s.d.Outbox.Snapshot()
	slices.Reverse(items)
	if in.Limit > 0 && len(items) > in.Limit {
		items = items[:in.Limit]
	}
	return items, nil
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.d.Webhook == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	ev, err := s.d.Webhook.DecodeRequest(r)
	switch {
	case errors.Is(err, sources.ErrBadToken):
		metrics.WebhooksReceived.WithLabelValues("unauthorized").Inc()
		w.WriteHeader(http.StatusUnauthorized)
		return
	case err != nil:
		metrics.WebhooksReceived.WithLabelValues("invalid").Inc()
		s.log.Debug("webhook rejected", logx.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	out := s.d.Pipeline.Process(r.Context(), ev)
	if out.Rejected != "" {
		metrics.WebhooksReceived.WithLabelValues("ignored").Inc()
	} else {
		metrics.WebhooksReceived.WithLabelValues("accepted").Inc()
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: out})
}
