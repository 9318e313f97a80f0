package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, span time.Duration) Store {
	t.Helper()
	db, err := NewDB(DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { CloseDB(db) })
	return NewStore(db, nil, span)
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNewDB(t *testing.T) {
	t.Run("rejects unknown driver", func(t *testing.T) {
		_, err := NewDB("mysql", "x")
		assert.Error(t, err)
	})

	t.Run("migrations are idempotent", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "twice.db")
		db, err := NewDB(DriverSQLite, path)
		require.NoError(t, err)
		CloseDB(db)

		db, err = NewDB(DriverSQLite, path)
		require.NoError(t, err)
		CloseDB(db)
	})
}

func TestExtractDBNameFromPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"storage.db", "storage.db"},
		{"file:storage.db?_pragma=busy_timeout(5000)", "storage.db"},
		{"file:my%20db.db", "my db.db"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractDBNameFromPath(tt.in))
	}
}

func TestStore_Users(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 0)

	t.Run("get missing user returns nil", func(t *testing.T) {
		u, err := store.GetUserByID(ctx, 999)
		require.NoError(t, err)
		assert.Nil(t, u)
	})

	t.Run("get or create backfills missing name", func(t *testing.T) {
		created, err := store.GetOrCreateUser(ctx, "+15550001", "")
		require.NoError(t, err)
		assert.Equal(t, "", created.DisplayName())

		again, err := store.GetOrCreateUser(ctx, "+15550001", "Asha")
		require.NoError(t, err)
		assert.Equal(t, created.ID, again.ID)
		assert.Equal(t, "Asha", again.DisplayName())

		kept, err := store.GetOrCreateUser(ctx, "+15550001", "Someone Else")
		require.NoError(t, err)
		assert.Equal(t, "Asha", kept.DisplayName())

		byID, err := store.GetUserByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "+15550001", byID.PhoneNumber)
		assert.Equal(t, "Asha", byID.DisplayName())
	})

	t.Run("upsert skips existing phone numbers", func(t *testing.T) {
		n, err := store.UpsertUsers(ctx, []User{
			{PhoneNumber: "+15550001"},
			{PhoneNumber: "+15550002"},
			{PhoneNumber: "+15550003"},
			{PhoneNumber: "  "},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestStore_Partitions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 24*time.Hour)
	user, err := store.GetOrCreateUser(ctx, "+15550100", "Ravi")
	require.NoError(t, err)

	save := func(group, at, content string) *Message {
		m := &Message{GroupID: group, UserID: user.ID, Content: content, Timestamp: ts(at)}
		require.NoError(t, store.SaveMessage(ctx, m))
		return m
	}

	// The seed partition starts at the epoch, so the first message opens msgtable_2.
	first := save("g1", "2024-01-01T10:00:00Z", "first")
	save("g1", "2024-01-01T12:00:00.5Z", "second")
	save("g2", "2024-01-01T13:00:00Z", "other group")
	rotated := save("g1", "2024-01-05T09:00:00Z", "after the span")
	save("g1", "2024-01-05T10:00:00Z", "same new partition")

	parts, err := store.ListPartitions(ctx)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, "msgtable_1", parts[0].TableName)
	assert.Equal(t, "msgtable_2", parts[1].TableName)
	assert.Equal(t, "msgtable_3", parts[2].TableName)
	assert.True(t, parts[1].StartDate.Equal(first.Timestamp))
	assert.True(t, parts[2].StartDate.Equal(rotated.Timestamp))

	t.Run("resolve partition by timestamp", func(t *testing.T) {
		p, err := store.ResolvePartition(ctx, time.Unix(0, 0))
		require.NoError(t, err)
		assert.Equal(t, "msgtable_1", p.TableName)

		p, err = store.ResolvePartition(ctx, ts("2024-01-02T00:00:00Z"))
		require.NoError(t, err)
		assert.Equal(t, "msgtable_2", p.TableName)

		p, err = store.ResolvePartition(ctx, ts("2024-01-05T09:00:00Z"))
		require.NoError(t, err)
		assert.Equal(t, "msgtable_3", p.TableName)
	})

	t.Run("next partition", func(t *testing.T) {
		next, err := store.NextPartition(ctx, &parts[1])
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, "msgtable_3", next.TableName)

		none, err := store.NextPartition(ctx, &parts[2])
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("messages after cursor are strictly later and ordered", func(t *testing.T) {
		msgs, err := store.GetMessagesAfter(ctx, "msgtable_2", "g1", ts("2024-01-01T10:00:00Z"), 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "second", msgs[0].Content)
		assert.True(t, msgs[0].Timestamp.Equal(ts("2024-01-01T12:00:00.5Z")))

		msgs, err = store.GetMessagesAfter(ctx, "msgtable_2", "g1", time.Unix(0, 0), 1)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "first", msgs[0].Content)

		msgs, err = store.GetMessagesAfter(ctx, "msgtable_1", "g1", time.Unix(0, 0), 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("backfilled old message lands in the covering partition", func(t *testing.T) {
		save("g1", "2023-06-01T00:00:00Z", "old history")
		msgs, err := store.GetMessagesAfter(ctx, "msgtable_1", "g1", time.Unix(0, 0), 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "old history", msgs[0].Content)
	})

	t.Run("messages at a timestamp after an id", func(t *testing.T) {
		first := save("g1", "2024-01-06T08:00:00Z", "tie one")
		second := save("g1", "2024-01-06T08:00:00Z", "tie two")

		msgs, err := store.GetMessagesAt(ctx, "msgtable_3", "g1", first.Timestamp, first.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, second.ID, msgs[0].ID)

		msgs, err = store.GetMessagesAt(ctx, "msgtable_3", "g1", first.Timestamp, 0)
		require.NoError(t, err)
		assert.Len(t, msgs, 2)

		_, err = store.GetMessagesAt(ctx, "users", "g1", first.Timestamp, 0)
		assert.Error(t, err)
	})

	t.Run("rejects unknown partition names", func(t *testing.T) {
		_, err := store.GetMessagesAfter(ctx, "users; DROP TABLE users", "g1", time.Time{}, 10)
		assert.Error(t, err)
	})

	t.Run("groups span partitions", func(t *testing.T) {
		groups, err := store.ListGroups(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"g1", "g2"}, groups)
	})
}

func TestStore_Snapshots(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 0)

	latest, err := store.GetLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	first := &Snapshot{
		AnalysisData:        `{"A":{}}`,
		AnalysisPeriodStart: ts("2024-01-01T00:00:00Z"),
		AnalysisPeriodEnd:   ts("2024-01-01T01:00:00Z"),
	}
	require.NoError(t, store.AppendSnapshot(ctx, first))
	assert.NotZero(t, first.ID)

	t.Run("stale parent conflicts", func(t *testing.T) {
		stale := &Snapshot{AnalysisData: `{}`, AnalysisPeriodStart: time.Now(), AnalysisPeriodEnd: time.Now()}
		err := store.AppendSnapshot(ctx, stale)
		assert.True(t, errors.Is(err, ErrSnapshotConflict))
	})

	t.Run("latest parent appends", func(t *testing.T) {
		second := &Snapshot{
			ParentID:            first.ID,
			AnalysisData:        `{"A":{},"B":{}}`,
			AnalysisPeriodStart: ts("2024-01-01T01:00:00Z"),
			AnalysisPeriodEnd:   ts("2024-01-01T02:00:00Z"),
		}
		require.NoError(t, store.AppendSnapshot(ctx, second))

		latest, err := store.GetLatestSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, second.ID, latest.ID)
		assert.Equal(t, first.ID, latest.ParentID)
		assert.Equal(t, `{"A":{},"B":{}}`, latest.AnalysisData)
		assert.True(t, latest.AnalysisPeriodEnd.Equal(ts("2024-01-01T02:00:00Z")))
	})
}

func TestStore_Cursors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 0)

	c, err := store.GetLatestCursor(ctx, "g1")
	require.NoError(t, err)
	assert.Nil(t, c)

	require.NoError(t, store.InsertCursor(ctx, &SyncCursor{GroupID: "g1", LastSyncTimestamp: ts("2024-01-01T00:00:00Z")}))
	require.NoError(t, store.InsertCursor(ctx, &SyncCursor{GroupID: "g1", LastSyncTimestamp: ts("2024-01-02T00:00:00Z")}))
	require.NoError(t, store.InsertCursor(ctx, &SyncCursor{GroupID: "g2", LastSyncTimestamp: ts("2024-01-03T00:00:00Z")}))

	t.Run("latest row wins", func(t *testing.T) {
		c, err := store.GetLatestCursor(ctx, "g1")
		require.NoError(t, err)
		assert.True(t, c.LastSyncTimestamp.Equal(ts("2024-01-02T00:00:00Z")))
	})

	t.Run("regression is rejected", func(t *testing.T) {
		err := store.InsertCursor(ctx, &SyncCursor{GroupID: "g1", LastSyncTimestamp: ts("2023-12-31T00:00:00Z")})
		assert.True(t, errors.Is(err, ErrCursorRegression))
	})

	t.Run("equal timestamp is allowed", func(t *testing.T) {
		err := store.InsertCursor(ctx, &SyncCursor{GroupID: "g1", LastSyncTimestamp: ts("2024-01-02T00:00:00Z")})
		assert.NoError(t, err)
	})

	t.Run("list returns one cursor per group", func(t *testing.T) {
		cursors, err := store.ListCursors(ctx)
		require.NoError(t, err)
		require.Len(t, cursors, 2)
		assert.Equal(t, "g1", cursors[0].GroupID)
		assert.Equal(t, "g2", cursors[1].GroupID)
	})
}

func TestStore_RunSQLMaintenance(t *testing.T) {
	store := newTestStore(t, 0)
	assert.NoError(t, store.RunSQLMaintenance(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, store.RunSQLMaintenance(ctx))
}
