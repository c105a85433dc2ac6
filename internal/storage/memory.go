package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memStore struct {
	mu     sync.RWMutex
	users  map[string]*UserRecord
	events []Occurrence
	closed bool
}

// NewMemory returns a process-local store.
func NewMemory() Store {
	return newMemStore()
}

func newMemStore() *memStore {
	return &memStore{users: map[string]*UserRecord{}}
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memStore) EnsureUser(ctx context.Context, u UserRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.ensureLocked(u)
	return nil
}

func (s *memStore) ensureLocked(u UserRecord) *UserRecord {
	id := strings.TrimSpace(u.ID)
	if id == "" {
		return nil
	}
	cur, ok := s.users[id]
	if !ok {
		cur = &UserRecord{ID: id}
		s.users[id] = cur
	}
	if u.Name != "" {
		cur.Name = u.Name
	}
	if u.DisplayName != "" {
		cur.DisplayName = u.DisplayName
	}
	if u.Color != "" {
		cur.Color = u.Color
	}
	return cur
}

func (s *memStore) GetUser(ctx context.Context, id string) (UserRecord, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return UserRecord{}, false, ErrClosed
	}
	u, ok := s.users[id]
	if !ok {
		return UserRecord{}, false, nil
	}
	return *u, true, nil
}

func (s *memStore) FindUserByName(ctx context.Context, name string) (UserRecord, bool, error) {
	_ = ctx
	want := normName(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return UserRecord{}, false, ErrClosed
	}
	for _, u := range s.users {
		if normName(u.Name) == want {
			return *u, true, nil
		}
	}
	return UserRecord{}, false, nil
}

func (s *memStore) UpdateCounters(ctx context.Context, userID string, u CounterUpdate) error {
	_ = ctx
	if err := u.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	cur, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	return cur.Counters.Apply(u)
}

func (s *memStore) AppendEventLog(ctx context.Context, o Occurrence) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.events = append(s.events, o)
	return nil
}

func (s *memStore) QueryRecentEvents(ctx context.Context, limit int) ([]Occurrence, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	n := len(s.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Occurrence, 0, n)
	for i := len(s.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

func (s *memStore) QueryAggregateStats(ctx context.Context) (Stats, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Stats{}, ErrClosed
	}
	st := Stats{Totals: map[string]int64{}, Events: map[string]int64{}}
	for _, name := range CounterNames {
		st.Totals[name] = 0
	}
	for _, u := range s.users {
		st.Users++
		if u.Counters.FollowDate != 0 {
			st.Followers++
		}
		for _, name := range CounterNames {
			v, _ := u.Counters.Get(name)
			st.Totals[name] += v
		}
	}
	for _, e := range s.events {
		st.Events[e.Type]++
	}
	return st, nil
}

func (s *memStore) TopUsers(ctx context.Context, counter string, limit int) ([]UserRecord, error) {
	_ = ctx
	if !IsCounter(counter) {
		return nil, ErrUnknownCounter
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]UserRecord, 0, len(s.users))
	for _, u := range s.users {
		if v, _ := u.Counters.Get(counter); v > 0 {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := out[i].Counters.Get(counter)
		b, _ := out[j].Counters.Get(counter)
		if a != b {
			return a > b
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
