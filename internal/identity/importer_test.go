package identity

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/bizcircle/internal/database"
	apperrors "github.com/edgard/bizcircle/internal/errors"
	"github.com/edgard/bizcircle/internal/logger"
)

func newTestStore(t *testing.T) database.Store {
	t.Helper()
	db, err := database.NewDB(database.DriverSQLite, filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	return database.NewStore(db, logger.Discard(), 0)
}

func TestImportUsers(t *testing.T) {
	t.Parallel()

	t.Run("inserts in batches and skips duplicates", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t)
		ctx := context.Background()
		_, err := store.GetOrCreateUser(ctx, "+10000000003", "Existing")
		require.NoError(t, err)

		var sb strings.Builder
		sb.WriteString("phone_number,name\n")
		for i := range 120 {
			fmt.Fprintf(&sb, "+1%010d,User %d\n", i, i)
		}
		sb.WriteString(",no phone\n")

		result, err := NewImporter(store, logger.Discard()).ImportUsers(ctx, strings.NewReader(sb.String()))
		require.NoError(t, err)
		assert.Equal(t, 121, result.Rows)
		assert.Equal(t, 119, result.Imported)
		assert.Equal(t, 2, result.Skipped)

		user, err := store.GetOrCreateUser(ctx, "+10000000003", "")
		require.NoError(t, err)
		assert.Equal(t, "Existing", user.DisplayName())
	})

	t.Run("name column is optional", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t)

		result, err := NewImporter(store, logger.Discard()).ImportUsers(context.Background(), strings.NewReader("phone_number\n+1555\n"))
		require.NoError(t, err)
		assert.Equal(t, 1, result.Imported)

		user, err := store.GetOrCreateUser(context.Background(), "+1555", "")
		require.NoError(t, err)
		assert.Empty(t, user.DisplayName())
	})

	t.Run("rejects missing header column", func(t *testing.T) {
		t.Parallel()
		_, err := NewImporter(newTestStore(t), logger.Discard()).ImportUsers(context.Background(), strings.NewReader("name\nAlice\n"))
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.CodeValidation))
	})

	t.Run("rejects empty input", func(t *testing.T) {
		t.Parallel()
		_, err := NewImporter(newTestStore(t), logger.Discard()).ImportUsers(context.Background(), strings.NewReader(""))
		assert.True(t, apperrors.Is(err, apperrors.CodeValidation))
	})
}

func TestImportMessages(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.GetOrCreateUser(ctx, "+1555000", "")
	require.NoError(t, err)

	input := "timestamp,phone_number,name,group_id,content\n" +
		"2024-01-01T10:00:00Z,+1555000,Alice,family,Joe's Bakery has great croissants!\n" +
		"1704106800,+1555001,,family,\"Call Fixit, they are quick\"\n" +
		"2024-01-01 12:00:00,+1555000,,neighbours,  Try Ana's Salon  \n" +
		"yesterday,+1555000,,family,bad timestamp\n" +
		"2024-01-01T13:00:00Z,+1555000,,family,   \n"

	result, err := NewImporter(store, logger.Discard()).ImportMessages(ctx, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 5, result.Rows)
	assert.Equal(t, 3, result.Imported)
	assert.Equal(t, 2, result.Skipped)

	alice, err := store.GetOrCreateUser(ctx, "+1555000", "")
	require.NoError(t, err)
	assert.Equal(t, "Alice", alice.DisplayName())

	groups, err := store.ListGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"family", "neighbours"}, groups)

	partition, err := store.ResolvePartition(ctx, time.Unix(0, 0).UTC())
	require.NoError(t, err)
	var family []database.Message
	for p := partition; p != nil; p, err = store.NextPartition(ctx, p) {
		require.NoError(t, err)
		msgs, err := store.GetMessagesAfter(ctx, p.TableName, "family", time.Unix(0, 0).UTC(), 10)
		require.NoError(t, err)
		family = append(family, msgs...)
	}
	require.NoError(t, err)
	require.Len(t, family, 2)
	assert.Equal(t, "Joe's Bakery has great croissants!", family[0].Content)
	assert.Equal(t, alice.ID, family[0].UserID)
	assert.Equal(t, "Call Fixit, they are quick", family[1].Content)
	assert.Equal(t, time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC), family[1].Timestamp.UTC())
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2024-01-01T10:00:00Z", want: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
		{in: "2024-01-01T12:00:00.5+02:00", want: time.Date(2024, 1, 1, 10, 0, 0, 5e8, time.UTC)},
		{in: "1704103200", want: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
		{in: "2024-01-01 10:00:00", want: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
		{in: "", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseTimestamp(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "%s: got %s", tt.in, got)
	}
}
