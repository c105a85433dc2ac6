// Package scheduler fires configured commands on cron or interval
// schedules through the command dispatcher.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"streamhub/internal/commands"
	logx "streamhub/pkg/logx"
)

// Invoker runs a command as the channel owner.
type Invoker interface {
	Invoke(ctx context.Context, name, args string) commands.Result
}

// Timer is one scheduled command. Command is "name [args...]", with or
// without a leading "!".
type Timer struct {
	Name    string
	Spec    string
	Command string
}

type entry struct {
	timer Timer
	id    cron.EntryID
	last  time.Time
	fired uint64
}

// Service owns the cron runner. Apply swaps the timer set at any time.
type Service struct {
	inv    Invoker
	log    logx.Logger
	parser cron.Parser
	loc    *time.Location

	mu      sync.Mutex
	ctx     context.Context
	c       *cron.Cron
	entries map[string]*entry
}

func New(inv Invoker, loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		inv: inv,
		log: log.Component("scheduler"),
		// SecondOptional accepts both 5 and 6 field specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:     loc,
		entries: map[string]*entry{},
	}
}

func (s *Service) schedule(spec string) (cron.Schedule, error) {
	p, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	if p.Kind == SpecInterval {
		return cron.Every(p.Every), nil
	}
	return s.parser.Parse(p.Cron)
}

// Validate checks every timer without registering anything.
func (s *Service) Validate(timers []Timer) error {
	seen := map[string]bool{}
	for _, t := range timers {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("timer name required")
		}
		if seen[name] {
			return fmt.Errorf("duplicate timer %q", name)
		}
		seen[name] = true
		if cmd, _ := splitCommand(t.Command); cmd == "" {
			return fmt.Errorf("timer %q: command required", name)
		}
		if _, err := s.schedule(t.Spec); err != nil {
			return fmt.Errorf("timer %q: %w", name, err)
		}
	}
	return nil
}

// Apply replaces the registered timers. Invalid timers are logged and
// skipped; the rest are registered.
func (s *Service) Apply(timers []Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		for _, e := range s.entries {
			s.c.Remove(e.id)
		}
	}
	s.entries = map[string]*entry{}
	for _, t := range timers {
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			continue
		}
		if _, dup := s.entries[t.Name]; dup {
			s.log.Warn("duplicate timer skipped", logx.String("timer", t.Name))
			continue
		}
		s.entries[t.Name] = &entry{timer: t}
	}
	if s.c != nil {
		s.registerLocked()
	}
}

func (s *Service) registerLocked() {
	for name, e := range s.entries {
		sched, err := s.schedule(e.timer.Spec)
		if err != nil {
			s.log.Warn("invalid timer schedule", logx.String("timer", name), logx.String("spec", e.timer.Spec), logx.Err(err))
			continue
		}
		e.id = s.c.Schedule(sched, cron.FuncJob(func() { s.fire(name) }))
	}
}

// Start begins triggering. Jobs run with ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc), cron.WithChain(cron.Recover(cronLogger{s.log})))
	s.registerLocked()
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("timers", len(s.entries)), logx.String("tz", s.loc.String()))
}

// Stop halts triggering and waits for running jobs or ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Fire runs a timer's command immediately.
func (s *Service) Fire(name string) (commands.Result, bool) {
	return s.fire(name)
}

func (s *Service) fire(name string) (commands.Result, bool) {
	s.mu.Lock()
	e, ok := s.entries[name]
	ctx := s.ctx
	if ok {
		e.last = time.Now()
		e.fired++
	}
	s.mu.Unlock()
	if !ok {
		return commands.Result{}, false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cmd, args := splitCommand(e.timer.Command)
	res := s.inv.Invoke(ctx, cmd, args)
	if res.Rejected != "" {
		s.log.Debug("timer command rejected", logx.String("timer", name), logx.String("command", cmd), logx.String("reason", res.Rejected))
	} else {
		s.log.Debug("timer fired", logx.String("timer", name), logx.String("command", cmd))
	}
	return res, true
}

// Status is a timer's runtime view.
type Status struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Command string    `json:"command"`
	Next    time.Time `json:"next,omitempty"`
	Last    time.Time `json:"last,omitempty"`
	Fired   uint64    `json:"fired"`
}

func (s *Service) Snapshot() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.entries))
	for name, e := range s.entries {
		st := Status{Name: name, Spec: e.timer.Spec, Command: e.timer.Command, Last: e.last, Fired: e.fired}
		if s.c != nil && e.id != 0 {
			st.Next = s.c.Entry(e.id).Next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func splitCommand(s string) (name, args string) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "!")
	name, args, _ = strings.Cut(s, " ")
	return strings.ToLower(name), strings.TrimSpace(args)
}

// cronLogger adapts logx to cron.Logger for the recover chain.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug(msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error(msg, logx.Err(err), logx.Any("kv", kv))
}
