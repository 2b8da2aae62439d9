package history

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-people-counter/internal/db"
)

// openTestDB connects to COUNTER_TEST_POSTGRES_HOST or skips.
func openTestDB(t *testing.T) *PostgresStore {
	t.Helper()
	host := os.Getenv("COUNTER_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("COUNTER_TEST_POSTGRES_HOST not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := db.ConnectPostgres(ctx, db.Config{
		Host:     host,
		Port:     5432,
		User:     "postgres",
		Password: os.Getenv("COUNTER_TEST_POSTGRES_PASSWORD"),
		Database: "postgres",
		Schema:   "counter_history_test",
		SSLMode:  "disable",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Exec("TRUNCATE history_entries, stream_log")
		conn.Close()
	})
	_, err = conn.Exec("TRUNCATE history_entries, stream_log")
	require.NoError(t, err)
	return NewPostgresStore(conn)
}

func TestPostgresStore_RecordAndList(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	dur := 3.5
	require.NoError(t, store.Record(ctx, Entry{Type: "video", Filename: "a.mp4", DurationSec: &dur, PeopleCount: 4, Timestamp: "2024-01-01 00:00:00"}))
	require.NoError(t, store.Record(ctx, Entry{Type: "image", Filename: "b.png", PeopleCount: 1}))

	entries, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.mp4", entries[0].Filename)
	assert.Equal(t, "2024-01-01 00:00:00", entries[0].Timestamp)
	require.NotNil(t, entries[0].DurationSec)
	assert.Equal(t, 3.5, *entries[0].DurationSec)
	assert.Nil(t, entries[1].DurationSec)

	last, err := store.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "b.png", last[0].Filename)
}

func TestPostgresStreamLog_AppendAndList(t *testing.T) {
	store := openTestDB(t)
	log := NewPostgresStreamLog(store.db)
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, StreamEntry{JobID: "j1", URL: "https://youtu.be/x", ResolvedURL: "https://cdn/x.m3u8", Status: "done", MaxCount: 5, Frames: 100}))
	require.NoError(t, log.Append(ctx, StreamEntry{JobID: "j2", URL: "rtsp://cam", Status: "error", Error: "open failed"}))

	entries, err := log.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "https://cdn/x.m3u8", entries[0].ResolvedURL)
	assert.Equal(t, "", entries[1].ResolvedURL)
	assert.Equal(t, "open failed", entries[1].Error)
}
