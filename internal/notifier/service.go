package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"streamhub/internal/metrics"
	rtsup "streamhub/internal/runtime/supervisor"
	"streamhub/internal/transport"
	logx "streamhub/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	line transport.Line
	// announcer is set for external announcements; line.Kind is ignored then.
	announcer transport.Announcer
	key       string
}

func (j job) target() string {
	if j.announcer != nil {
		return j.announcer.Name()
	}
	return "chat." + j.line.Kind.String()
}

// Service implements an async delivery pipeline:
// queue + worker pool + rate limit + retry + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log        logx.Logger
	chat       transport.ChatSender
	announcers []transport.Announcer

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

var _ transport.ChatSender = (*Service)(nil)

func New(cfg Config, chat transport.ChatSender, announcers []transport.Announcer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		chat:       chat,
		announcers: announcers,
		log:        log.Component("notifier"),
		dedup:      map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		// Twitch allows 20 messages per 30s for regular accounts.
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}

	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Announcers lists the configured external channels.
func (s *Service) Announcers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.announcers))
	for _, a := range s.announcers {
		out = append(out, a.Name())
	}
	return out
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	// Start is idempotent.
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// Delivery failures are best-effort and never take down the app.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("notifier worker exited unexpectedly")
		})
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// Wait for in-flight enqueues, then close the queue so workers drain.
		s.sendWG.Wait()
		close(q)
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

func (s *Service) SendAction(ctx context.Context, text string) error {
	return s.enqueue(ctx, job{line: transport.Line{Kind: transport.KindAction, Text: text}})
}

func (s *Service) SendAnnouncement(ctx context.Context, text string) error {
	return s.enqueue(ctx, job{line: transport.Line{Kind: transport.KindAnnouncement, Text: text}})
}

func (s *Service) SendReply(ctx context.Context, to *transport.Message, text string) error {
	return s.enqueue(ctx, job{line: transport.Line{Kind: transport.KindReply, Text: text, ReplyTo: to}})
}

// Announce queues text for every external announcer.
func (s *Service) Announce(ctx context.Context, text string) error {
	s.mu.Lock()
	anns := append([]transport.Announcer(nil), s.announcers...)
	s.mu.Unlock()
	var errs []error
	for _, a := range anns {
		if err := s.enqueue(ctx, job{line: transport.Line{Text: text}, announcer: a}); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) enqueue(ctx context.Context, j job) error {
	if j.line.Text == "" {
		return nil
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	dedupWindow := s.cfg.DedupWindow
	dedupMax := s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	j.key = dedupKey(j)
	if dedupWindow > 0 && !s.dedupAllow(j.key, dedupWindow, dedupMax) {
		s.count(outcomeDeduped, j)
		return nil
	}

	select {
	case q <- j:
		s.count(outcomeQueued, j)
		return nil
	default:
		s.count(outcomeDropped, j)
		return ErrQueueFull
	}
}

func (s *Service) count(outcome string, j job) {
	metrics.NotifierDeliveries.WithLabelValues(j.target(), outcome).Inc()
}

// Snapshot returns recently delivered lines, oldest first. It backs the
// "outbox" API request.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(j job) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Target: j.target(), Text: j.line.Text})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, chat transport.ChatSender, j job) error {
	if j.announcer != nil {
		return j.announcer.Announce(ctx, j.line.Text)
	}
	if chat == nil {
		return nil
	}
	return transport.Deliver(ctx, chat, j.line)
}

func (s *Service) sendWithRetry(runCtx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	chat := s.chat
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// External announcers have their own limits; only chat is throttled.
		if lim != nil && j.announcer == nil {
			if err := lim.Wait(runCtx); err != nil {
				return
			}
		}

		callCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
		err := s.deliver(callCtx, chat, j)
		cancel()
		if err == nil {
			s.appendHistory(j)
			s.count(outcomeSent, j)
			return
		}
		lastErr = err
		s.log.Debug("delivery failed", logx.String("target", j.target()), logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		delay := retryDelay(cfg, attempt)
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-runCtx.Done():
			t.Stop()
			return
		}
	}

	if lastErr != nil {
		s.log.Warn("delivery gave up", logx.String("target", j.target()), logx.Err(lastErr))
		s.count(outcomeFailed, j)
	}
}

func dedupKey(j job) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(j.target()))
	_, _ = h.Write([]byte("|"))
	if j.line.ReplyTo != nil {
		_, _ = h.Write([]byte(j.line.ReplyTo.ID))
		_, _ = h.Write([]byte("|"))
	}
	_, _ = h.Write([]byte(j.line.Text))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(key string, window time.Duration, max int) bool {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)

	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	// Remove entries with earliest expiry until within cap.
	for max > 0 && len(s.dedup) > max {
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, t := range s.dedup {
			if !set || t.Before(minT) {
				minKey, minT, set = k, t, true
			}
		}
		delete(s.dedup, minKey)
	}
	return true
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the next attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
