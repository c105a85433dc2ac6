// Package state holds process-wide switches that gate the event pipeline.
package state

import (
	"sync"
	"time"

	"streamhub/internal/eventbus"
	logx "streamhub/pkg/logx"
)

// Snapshot is a point-in-time view of the suppression state.
type Snapshot struct {
	KillSwitch     bool      `json:"killSwitch"`
	Focus          bool      `json:"focus"`
	FocusUntil     time.Time `json:"focusUntil,omitempty"`
	FocusRemaining int64     `json:"focusRemaining"` // seconds
}

// Suppression owns the kill switch and the focus timer. At most one focus
// timer is active; re-arming supersedes the previous one.
type Suppression struct {
	bus eventbus.Bus
	log logx.Logger
	now func() time.Time

	mu       sync.Mutex
	kill     bool
	timer    *time.Timer
	gen      uint64
	until    time.Time
	onExpire func()
}

func NewSuppression(bus eventbus.Bus, log logx.Logger) *Suppression {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Suppression{
		bus: bus,
		log: log.Component("suppression"),
		now: time.Now,
	}
}

// OnFocusExpired sets the hook called (outside the lock) when a focus timer
// runs out. It is not called by DisarmFocus.
func (s *Suppression) OnFocusExpired(fn func()) {
	s.mu.Lock()
	s.onExpire = fn
	s.mu.Unlock()
}

func (s *Suppression) KillSwitch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kill
}

// SetKillSwitch reports whether the state changed.
func (s *Suppression) SetKillSwitch(on bool) bool {
	s.mu.Lock()
	changed := s.kill != on
	s.kill = on
	s.mu.Unlock()
	if changed {
		s.log.Info("kill switch changed", logx.Bool("on", on))
		s.publish(eventbus.TopicKillSwitch)
	}
	return changed
}

// ToggleKillSwitch flips the kill switch and returns the new value.
func (s *Suppression) ToggleKillSwitch() bool {
	s.mu.Lock()
	s.kill = !s.kill
	on := s.kill
	s.mu.Unlock()
	s.log.Info("kill switch changed", logx.Bool("on", on))
	s.publish(eventbus.TopicKillSwitch)
	return on
}

// ArmFocus starts focus mode for d, cancelling any running timer.
func (s *Suppression) ArmFocus(d time.Duration) {
	if d <= 0 {
		s.DisarmFocus()
		return
	}
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.until = s.now().Add(d)
	s.timer = time.AfterFunc(d, func() { s.expire(gen) })
	s.mu.Unlock()

	s.log.Info("focus armed", logx.Duration("for", d))
	s.publish(eventbus.TopicFocusArmed)
}

// DisarmFocus stops focus mode. It reports whether a timer was running.
func (s *Suppression) DisarmFocus() bool {
	s.mu.Lock()
	armed := s.timer != nil
	if armed {
		s.timer.Stop()
		s.timer = nil
		s.until = time.Time{}
		s.gen++
	}
	s.mu.Unlock()
	if armed {
		s.log.Info("focus disarmed")
		s.publish(eventbus.TopicFocusDisarmed)
	}
	return armed
}

func (s *Suppression) expire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.timer == nil {
		// Superseded by a re-arm or a disarm.
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.until = time.Time{}
	hook := s.onExpire
	s.mu.Unlock()

	s.log.Info("focus expired")
	s.publish(eventbus.TopicFocusDisarmed)
	if hook != nil {
		hook()
	}
}

func (s *Suppression) Focused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *Suppression) FocusRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingLocked()
}

func (s *Suppression) remainingLocked() time.Duration {
	if s.timer == nil {
		return 0
	}
	if d := s.until.Sub(s.now()); d > 0 {
		return d
	}
	return 0
}

func (s *Suppression) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		KillSwitch:     s.kill,
		Focus:          s.timer != nil,
		FocusUntil:     s.until,
		FocusRemaining: int64(s.remainingLocked().Round(time.Second) / time.Second),
	}
}

func (s *Suppression) publish(topic string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: topic, Data: s.Snapshot()})
}
