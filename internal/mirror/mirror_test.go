package mirror

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/score-keeper/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMirror(t *testing.T) *Mirror {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRecordBestKeepsMaximum(t *testing.T) {
	ctx := context.Background()
	m := newTestMirror(t)

	require.NoError(t, m.RecordBest(ctx, "alice", 80))
	// A lower score must not regress the mirror.
	require.NoError(t, m.RecordBest(ctx, "alice", 50))

	entries, err := m.Top(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].UserKey)
	assert.EqualValues(t, 80, entries[0].Score)
}

func TestTopOrderAndPositions(t *testing.T) {
	ctx := context.Background()
	m := newTestMirror(t)

	require.NoError(t, m.RecordBest(ctx, "a", 30))
	require.NoError(t, m.RecordBest(ctx, "b", 90))
	require.NoError(t, m.RecordBest(ctx, "d", 10))

	entries, err := m.Top(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].UserKey)
	assert.Equal(t, 1, entries[0].Position)
	assert.Equal(t, "a", entries[1].UserKey)
	assert.Equal(t, 2, entries[1].Position)
}

func TestRebuildReplacesContents(t *testing.T) {
	ctx := context.Background()
	m := newTestMirror(t)

	require.NoError(t, m.RecordBest(ctx, "stale", 999))

	require.NoError(t, m.Rebuild(ctx, []domain.ScoreRecord{
		{UserKey: "a", BestScore: 30},
		{UserKey: "b", BestScore: 90},
	}))

	count, err := m.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	entries, err := m.Top(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].UserKey)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	m := newTestMirror(t)

	require.NoError(t, m.RecordBest(ctx, "alice", 80))
	require.NoError(t, m.Reset(ctx))

	count, err := m.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}
