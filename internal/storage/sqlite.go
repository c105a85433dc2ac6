package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "streamhub/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const userColumns = `id, name, COALESCE(display_name, ''), COALESCE(color, ''),
	message_count, first_count, sub_count, gift_count, gift_subs, raid_count, raid_viewers, follow_date`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writes; counter updates stay atomic.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) EnsureUser(ctx context.Context, u UserRecord) error {
	id := strings.TrimSpace(u.ID)
	if id == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, name, display_name, color) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE users.name END,
		   display_name = COALESCE(excluded.display_name, users.display_name),
		   color = COALESCE(excluded.color, users.color)`,
		id, u.Name, nullStr(u.DisplayName), nullStr(u.Color),
	)
	return err
}

func (s *sqliteStore) GetUser(ctx context.Context, id string) (UserRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUserRow(row)
}

func (s *sqliteStore) FindUserByName(ctx context.Context, name string) (UserRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE name = ? COLLATE NOCASE LIMIT 1`,
		strings.TrimSpace(name))
	return scanUserRow(row)
}

func (s *sqliteStore) UpdateCounters(ctx context.Context, userID string, u CounterUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if u.IsZero() {
		return nil
	}
	sets := make([]string, 0, len(u.Increments)+1)
	args := make([]any, 0, len(u.Increments)+2)
	// Iterate CounterNames for a stable statement; names are whitelisted columns.
	for _, name := range CounterNames {
		d, ok := u.Increments[name]
		if !ok {
			continue
		}
		sets = append(sets, name+" = "+name+" + ?")
		args = append(args, d)
	}
	if u.FollowDate != 0 {
		sets = append(sets, "follow_date = CASE WHEN follow_date = 0 THEN ? ELSE follow_date END")
		args = append(args, u.FollowDate)
	}
	args = append(args, userID)

	res, err := s.db.ExecContext(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *sqliteStore) AppendEventLog(ctx context.Context, o Occurrence) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_log(type, user_id, ts, count) VALUES(?,?,?,?)`,
		o.Type, o.UserID, o.Timestamp, o.Count,
	)
	return err
}

func (s *sqliteStore) QueryRecentEvents(ctx context.Context, limit int) ([]Occurrence, error) {
	q := `SELECT type, user_id, ts, count FROM event_log ORDER BY id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Occurrence
	for rows.Next() {
		var o Occurrence
		if err := rows.Scan(&o.Type, &o.UserID, &o.Timestamp, &o.Count); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *sqliteStore) QueryAggregateStats(ctx context.Context) (Stats, error) {
	st := Stats{Totals: map[string]int64{}, Events: map[string]int64{}}
	sums := make([]string, 0, len(CounterNames))
	for _, name := range CounterNames {
		sums = append(sums, "COALESCE(SUM("+name+"), 0)")
	}
	vals := make([]int64, len(CounterNames))
	dest := []any{&st.Users, &st.Followers}
	for i := range vals {
		dest = append(dest, &vals[i])
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN follow_date <> 0 THEN 1 ELSE 0 END), 0), `+
			strings.Join(sums, ", ")+` FROM users`).Scan(dest...)
	if err != nil {
		return Stats{}, err
	}
	for i, name := range CounterNames {
		st.Totals[name] = vals[i]
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM event_log GROUP BY type`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return Stats{}, err
		}
		st.Events[typ] = n
	}
	return st, rows.Err()
}

func (s *sqliteStore) TopUsers(ctx context.Context, counter string, limit int) ([]UserRecord, error) {
	if !IsCounter(counter) {
		return nil, ErrUnknownCounter
	}
	q := `SELECT ` + userColumns + ` FROM users WHERE ` + counter + ` > 0 ORDER BY ` + counter + ` DESC, name ASC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserRecord
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (UserRecord, error) {
	var u UserRecord
	c := &u.Counters
	err := r.Scan(&u.ID, &u.Name, &u.DisplayName, &u.Color,
		&c.MessageCount, &c.FirstCount, &c.SubCount, &c.GiftCount, &c.GiftSubs,
		&c.RaidCount, &c.RaidViewers, &c.FollowDate)
	return u, err
}

func scanUserRow(row *sql.Row) (UserRecord, bool, error) {
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, false, nil
	}
	if err != nil {
		return UserRecord{}, false, err
	}
	return u, true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
