package state

import (
	"sync"
	"time"

	"streamhub/internal/eventbus"
)

// Stream tracks whether the channel is live. It starts offline.
type Stream struct {
	bus eventbus.Bus

	mu    sync.RWMutex
	live  bool
	since time.Time
	// session increments on every offline->live transition.
	session uint64
}

func NewStream(bus eventbus.Bus) *Stream {
	return &Stream{bus: bus}
}

// SetLive reports whether the state changed.
func (s *Stream) SetLive(live bool) bool {
	s.mu.Lock()
	if s.live == live {
		s.mu.Unlock()
		return false
	}
	s.live = live
	s.since = time.Now()
	if live {
		s.session++
	}
	s.mu.Unlock()
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TopicStreamLive, Data: live})
	}
	return true
}

func (s *Stream) Live() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// Since is when the current state began; zero if it never changed.
func (s *Stream) Since() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.since
}

// Session identifies the current broadcast. Chat uses it to reset
// per-stream first-message tracking.
func (s *Stream) Session() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}
