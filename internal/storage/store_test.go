package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	logx "streamhub/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, cfg := range []Config{
		{Driver: "memory"},
		{Driver: "file", Path: filepath.Join(dir, "file", "hub.db")},
		{Driver: "sqlite", Path: filepath.Join(dir, "sqlite", "hub.db")},
	} {
		st, err := Open(cfg, logx.Nop())
		require.NoError(t, err, cfg.Driver)
		t.Cleanup(func() { _ = st.Close() })
		out[cfg.Driver] = st
	}
	return out
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.EnsureUser(ctx, UserRecord{ID: "1", Name: "alice", DisplayName: "Alice", Color: "#FF0000"}))
			require.NoError(t, st.EnsureUser(ctx, UserRecord{ID: "2", Name: "bob"}))

			// Refreshing a user keeps the existing color when none is given.
			require.NoError(t, st.EnsureUser(ctx, UserRecord{ID: "1", Name: "alice"}))
			u, ok, err := st.GetUser(ctx, "1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "#FF0000", u.Color)

			found, ok, err := st.FindUserByName(ctx, "ALICE")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "1", found.ID)

			_, ok, err = st.FindUserByName(ctx, "nobody")
			require.NoError(t, err)
			require.False(t, ok)

			for i := 0; i < 3; i++ {
				require.NoError(t, st.UpdateCounters(ctx, "1", CounterUpdate{Increments: map[string]int64{CounterMessages: 1}}))
			}
			require.NoError(t, st.UpdateCounters(ctx, "1", CounterUpdate{FollowDate: 100}))
			require.NoError(t, st.UpdateCounters(ctx, "1", CounterUpdate{FollowDate: 200}))
			require.NoError(t, st.UpdateCounters(ctx, "2", CounterUpdate{Increments: map[string]int64{CounterMessages: 5}}))

			u, _, err = st.GetUser(ctx, "1")
			require.NoError(t, err)
			require.EqualValues(t, 3, u.Counters.MessageCount)
			require.EqualValues(t, 100, u.Counters.FollowDate)

			require.ErrorIs(t, st.UpdateCounters(ctx, "missing", CounterUpdate{Increments: map[string]int64{CounterMessages: 1}}), ErrUserNotFound)
			require.ErrorIs(t, st.UpdateCounters(ctx, "1", CounterUpdate{Increments: map[string]int64{"bogus": 1}}), ErrUnknownCounter)
			require.ErrorIs(t, st.UpdateCounters(ctx, "1", CounterUpdate{Increments: map[string]int64{CounterMessages: -2}}), ErrNegativeDelta)
			u, _, err = st.GetUser(ctx, "1")
			require.NoError(t, err)
			require.EqualValues(t, 3, u.Counters.MessageCount)

			require.NoError(t, st.AppendEventLog(ctx, Occurrence{Type: "follow", UserID: "1", Timestamp: 10}))
			require.NoError(t, st.AppendEventLog(ctx, Occurrence{Type: "cheer", UserID: "2", Timestamp: 11, Count: 100}))
			require.NoError(t, st.AppendEventLog(ctx, Occurrence{Type: "cheer", UserID: "1", Timestamp: 12, Count: 50}))

			recent, err := st.QueryRecentEvents(ctx, 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			require.EqualValues(t, 12, recent[0].Timestamp)
			require.EqualValues(t, 11, recent[1].Timestamp)

			all, err := st.QueryRecentEvents(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)

			stats, err := st.QueryAggregateStats(ctx)
			require.NoError(t, err)
			require.EqualValues(t, 2, stats.Users)
			require.EqualValues(t, 1, stats.Followers)
			require.EqualValues(t, 8, stats.Totals[CounterMessages])
			require.EqualValues(t, 2, stats.Events["cheer"])

			top, err := st.TopUsers(ctx, CounterMessages, 1)
			require.NoError(t, err)
			require.Len(t, top, 1)
			require.Equal(t, "bob", top[0].Name)
		})
	}
}

func TestFileStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hub.db")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.EnsureUser(ctx, UserRecord{ID: "7", Name: "carol"}))
	require.NoError(t, st.UpdateCounters(ctx, "7", CounterUpdate{Increments: map[string]int64{CounterRaids: 1, CounterRaidViewers: 42}}))
	require.NoError(t, st.AppendEventLog(ctx, Occurrence{Type: "raid", UserID: "7", Timestamp: 5, Count: 42}))
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	u, ok, err := st.GetUser(ctx, "7")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 42, u.Counters.RaidViewers)

	ev, err := st.QueryRecentEvents(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []Occurrence{{Type: "raid", UserID: "7", Timestamp: 5, Count: 42}}, ev)
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)
}
