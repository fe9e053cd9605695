package engine

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisHistory(t *testing.T) *RedisHistory {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisHistoryFromClient(client)
}

func testHistoryRoundTrip(t *testing.T, store HistoryStore, saveDir string) {
	t.Helper()
	ctx := context.Background()

	records, err := store.List(ctx, saveDir)
	require.NoError(t, err)
	assert.Empty(t, records)

	first := Record{ID: "r1", Username: "Alice", Timestamp: "2026-08-30 12:00:00", Text: "hello", Icon: "alice.png"}
	second := Record{ID: "r2", Username: "Bram", Timestamp: "2026-08-30 12:00:05", Text: "well met", Icon: "bram.png"}
	require.NoError(t, store.Append(ctx, saveDir, first))
	require.NoError(t, store.Append(ctx, saveDir, second))

	records, err = store.List(ctx, saveDir)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first, records[0])
	assert.Equal(t, second, records[1])

	// Edit rewrites in place and preserves order
	found, err := store.Edit(ctx, saveDir, "r1", "hello again")
	require.NoError(t, err)
	assert.True(t, found)

	records, err = store.List(ctx, saveDir)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "hello again", records[0].Text)
	assert.Equal(t, "well met", records[1].Text)

	// Unknown ids report not-found without error
	found, err = store.Edit(ctx, saveDir, "r9", "x")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisHistoryRoundTrip(t *testing.T) {
	testHistoryRoundTrip(t, newTestRedisHistory(t), "saves/demo")
}

func TestFileHistoryRoundTrip(t *testing.T) {
	testHistoryRoundTrip(t, NewFileHistory(), t.TempDir())
}

func TestRedisHistoryIsolatesSaveDirs(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisHistory(t)

	require.NoError(t, store.Append(ctx, "saves/a", Record{ID: "r1", Text: "in a"}))

	records, err := store.List(ctx, "saves/b")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRedisHistorySkipsUnreadableEntries(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisHistoryFromClient(client)

	require.NoError(t, store.Append(ctx, "saves/demo", Record{ID: "r1", Text: "good"}))
	_, err := mr.Push(historyKey("saves/demo"), "{corrupt")
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, "saves/demo", Record{ID: "r2", Text: "also good"}))

	records, err := store.List(ctx, "saves/demo")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r1", records[0].ID)
	assert.Equal(t, "r2", records[1].ID)
}

func TestNewRedisHistoryPingFailure(t *testing.T) {
	_, err := NewRedisHistory(context.Background(), &redis.Options{Addr: "127.0.0.1:1"})
	require.ErrorContains(t, err, "failed to ping redis")
}

func TestFileHistoryCreatesSaveDir(t *testing.T) {
	ctx := context.Background()
	store := NewFileHistory()
	saveDir := t.TempDir() + "/nested/save"

	require.NoError(t, store.Append(ctx, saveDir, Record{ID: "r1", Text: "persisted"}))

	records, err := store.List(ctx, saveDir)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "persisted", records[0].Text)
}
