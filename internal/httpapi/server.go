// Package httpapi serves the control API, the live-client websocket, the
// donation webhook and the metrics endpoint.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

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

type Config struct {
	// RequestsPerMinute limits /api and /webhook per client IP; 0 disables.
	RequestsPerMinute int
	// APIToken, when set, is required as a bearer token on /api.
	APIToken    string
	CORSOrigins []string
	// Pprof mounts net/http/pprof under /debug.
	Pprof bool
}

type Catalog interface {
	Events() *catalog.Events
	Commands() *catalog.Commands
}

type Pipeline interface {
	Process(ctx context.Context, ev events.RawEvent) events.Outcome
	ProcessTest(ctx context.Context, text string) (events.Outcome, error)
	EndFocus(ctx context.Context, who identity.Raw) bool
}

type Invoker interface {
	Invoke(ctx context.Context, name, args string) commands.Result
}

// Notifications accepts typed platform notifications. *sources.Platform
// implements it.
type Notifications interface {
	Handle(ctx context.Context, n sources.Notification) events.Outcome
}

// Outbox lists recently delivered chat lines and announcements.
// *notifier.Service implements it.
type Outbox interface {
	Snapshot() []notifier.HistoryItem
}

// Hub serves websocket upgrades for live clients.
type Hub interface {
	http.Handler
	Len() int
}

type Deps struct {
	Catalog     Catalog
	Store       storage.Store
	Pipeline    Pipeline
	Commands    Invoker
	Suppression *state.Suppression
	Stream      *state.Stream
	Hub         Hub
	Webhook     *sources.Webhook
	Platform    Notifications
	Outbox      Outbox
	Metrics     http.Handler
	Log         logx.Logger
}

type Server struct {
	cfg Config
	d   Deps
	log logx.Logger
	mux chi.Router
}

func New(cfg Config, d Deps) *Server {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, d: d, log: log.Component("http")}
	s.mux = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLog)

	limit := func(next http.Handler) http.Handler { return next }
	if s.cfg.RequestsPerMinute > 0 {
		limit = httprate.LimitByIP(s.cfg.RequestsPerMinute, time.Minute)
	}

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         300,
		}))
		r.Use(limit)
		r.Use(s.auth)
		r.Post("/api", s.handleAPI)
	})
	r.With(limit).Post("/webhook", s.handleWebhook)
	if s.d.Hub != nil {
		r.Handle("/ws", s.d.Hub)
	}
	if s.d.Metrics != nil {
		r.Handle("/metrics", s.d.Metrics)
	}
	if s.cfg.Pprof {
		r.With(s.auth).Mount("/debug", chimiddleware.Profiler())
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func (s *Server) auth(next http.Handler) http.Handler {
	if s.cfg.APIToken == "" {
		return next
	}
	want := []byte(s.cfg.APIToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
		)
	})
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info("http listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
	}
	return nil
}
