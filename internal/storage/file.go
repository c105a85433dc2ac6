package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "streamhub/pkg/logx"
)

// fileStore keeps everything in memory and persists to plain files.
//
// Files:
//   - <prefix>.events.jsonl         (append-only event log)
//   - <prefix>.users.snapshot.json  (periodic snapshot)
//   - <prefix>.users.journal.jsonl  (append-only user journal, full records)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	*memStore

	log logx.Logger

	// wmu serializes file writes. It is always taken before memStore.mu.
	wmu sync.Mutex

	eventsFile   *os.File
	snapshotPath string
	journalFile  *os.File
	userWrites   int
	compactEvery int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	eventsPath := prefix + ".events.jsonl"
	snapPath := prefix + ".users.snapshot.json"
	journalPath := prefix + ".users.journal.jsonl"

	mem := newMemStore()
	if err := loadUserSnapshot(snapPath, mem.users); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("user snapshot unreadable; starting from journal", logx.Err(err))
	}
	if err := replayUserJournal(journalPath, mem.users); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	events, err := readEventLog(eventsPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	mem.events = events

	ef, err := os.OpenFile(eventsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = ef.Close()
		return nil, err
	}

	log.Debug("file store opened",
		logx.String("prefix", prefix),
		logx.Int("users", len(mem.users)),
		logx.Int("events", len(events)),
	)
	return &fileStore{
		memStore:     mem,
		log:          log,
		eventsFile:   ef,
		snapshotPath: snapPath,
		journalFile:  jf,
		compactEvery: 500,
	}, nil
}

func (s *fileStore) Close() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = s.memStore.Close()
	var err1, err2 error
	if s.journalFile != nil {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("user compact on close failed", logx.Err(err))
		}
		err1 = s.journalFile.Close()
		s.journalFile = nil
	}
	if s.eventsFile != nil {
		err2 = s.eventsFile.Close()
		s.eventsFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) EnsureUser(ctx context.Context, u UserRecord) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.memStore.EnsureUser(ctx, u); err != nil {
		return err
	}
	return s.journalUserLocked(u.ID)
}

func (s *fileStore) UpdateCounters(ctx context.Context, userID string, u CounterUpdate) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.memStore.UpdateCounters(ctx, userID, u); err != nil {
		return err
	}
	return s.journalUserLocked(userID)
}

func (s *fileStore) AppendEventLog(ctx context.Context, o Occurrence) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.eventsFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.eventsFile).Encode(o); err != nil {
		return err
	}
	return s.memStore.AppendEventLog(ctx, o)
}

func (s *fileStore) journalUserLocked(id string) error {
	if s.journalFile == nil {
		return ErrClosed
	}
	rec, ok, err := s.memStore.GetUser(context.Background(), strings.TrimSpace(id))
	if err != nil || !ok {
		return err
	}
	if err := json.NewEncoder(s.journalFile).Encode(rec); err != nil {
		return err
	}
	s.userWrites++
	if s.userWrites%s.compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("user compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	s.memStore.mu.RLock()
	snap := make(map[string]UserRecord, len(s.memStore.users))
	for k, v := range s.memStore.users {
		snap[k] = *v
	}
	s.memStore.mu.RUnlock()

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadUserSnapshot(path string, out map[string]*UserRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]UserRecord
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		v := v
		out[k] = &v
	}
	return nil
}

func replayUserJournal(path string, out map[string]*UserRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var r UserRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.ID == "" {
			continue
		}
		out[r.ID] = &r
	}
	return sc.Err()
}

func readEventLog(path string) ([]Occurrence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []Occurrence
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var o Occurrence
		if err := json.Unmarshal(sc.Bytes(), &o); err != nil {
			// A torn final line after a crash is skipped.
			continue
		}
		out = append(out, o)
	}
	return out, sc.Err()
}
