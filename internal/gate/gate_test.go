package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"streamhub/internal/storage"
)

func TestDedupTimestampWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cases := []struct {
		name  string
		delta int64
		count int64
		dup   bool
	}{
		{"same second", 0, 5, true},
		{"plus one", 1, 5, true},
		{"minus one", -1, 5, true},
		{"plus two", 2, 5, false},
		{"minus two", -2, 5, false},
		{"different count", 0, 6, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			st := storage.NewMemory()
			require.NoError(t, st.AppendEventLog(ctx, storage.Occurrence{Type: "cheer", UserID: "1", Timestamp: 100, Count: 5}))
			d := NewDedup(st, 0)
			dup, err := d.IsDuplicate(ctx, storage.Occurrence{Type: "cheer", UserID: "1", Timestamp: 100 + tc.delta, Count: tc.count})
			require.NoError(t, err)
			require.Equal(t, tc.dup, dup)
		})
	}
}

func TestDedupFollowIgnoresTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	require.NoError(t, st.AppendEventLog(ctx, storage.Occurrence{Type: "follow", UserID: "1", Timestamp: 100}))
	d := NewDedup(st, 0)

	dup, err := d.IsDuplicate(ctx, storage.Occurrence{Type: "follow", UserID: "1", Timestamp: 999999})
	require.NoError(t, err)
	require.True(t, dup)

	dup, err = d.IsDuplicate(ctx, storage.Occurrence{Type: "follow", UserID: "2", Timestamp: 100})
	require.NoError(t, err)
	require.False(t, dup)
}

func TestDedupScanLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	require.NoError(t, st.AppendEventLog(ctx, storage.Occurrence{Type: "follow", UserID: "1", Timestamp: 1}))
	require.NoError(t, st.AppendEventLog(ctx, storage.Occurrence{Type: "cheer", UserID: "2", Timestamp: 2}))

	dup, err := NewDedup(st, 1).IsDuplicate(ctx, storage.Occurrence{Type: "follow", UserID: "1"})
	require.NoError(t, err)
	require.False(t, dup)

	dup, err = NewDedup(st, 0).IsDuplicate(ctx, storage.Occurrence{Type: "follow", UserID: "1"})
	require.NoError(t, err)
	require.True(t, dup)
}

func TestChatscoreRepeat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	d := NewDedup(st, 0)

	rep, err := d.ChatscoreRepeat(ctx, "chatscore-gg", "1")
	require.NoError(t, err)
	require.False(t, rep)

	require.NoError(t, st.AppendEventLog(ctx, storage.Occurrence{Type: "chatscore-gg", UserID: "1"}))
	rep, _ = d.ChatscoreRepeat(ctx, "chatscore-gg", "1")
	require.True(t, rep)

	require.NoError(t, st.AppendEventLog(ctx, storage.Occurrence{Type: "chatscore-gg", UserID: "2"}))
	rep, _ = d.ChatscoreRepeat(ctx, "chatscore-gg", "1")
	require.False(t, rep)
	require.True(t, IsChatscore("chatscore-gg"))
	require.False(t, IsChatscore("cheer"))
}

func TestCooldownMonotonic(t *testing.T) {
	t.Parallel()
	c := NewCooldowns()
	t0 := time.Unix(1000, 0)
	cd := 10 * time.Second

	require.True(t, c.Allow("hug", cd, t0))
	require.False(t, c.Allow("hug", cd, t0.Add(9*time.Second)))
	require.Equal(t, time.Second, c.Remaining("hug", t0.Add(9*time.Second)))
	require.True(t, c.Allow("hug", cd, t0.Add(10*time.Second)))
	require.False(t, c.Allow("hug", cd, t0.Add(15*time.Second)))

	require.True(t, c.Allow("other", 0, t0))
	require.True(t, c.Allow("other", 0, t0))
}

func TestCooldownPrunesElapsed(t *testing.T) {
	t.Parallel()
	c := NewCooldowns()
	t0 := time.Unix(0, 0)
	require.True(t, c.Allow("a", time.Second, t0))
	require.True(t, c.Allow("b", time.Second, t0.Add(5*time.Second)))
	require.Equal(t, 1, c.Len())
}
