package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codehive/internal/db"
)

func setupStore(t *testing.T) *db.Store {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "codehive-retention-test-*")
	require.NoError(t, err)

	store, err := db.New(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
		os.RemoveAll(tmpDir)
	})
	return store
}

func seedMessages(t *testing.T, store *db.Store, room string, n int) {
	t.Helper()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		require.NoError(t, store.AppendMessage(room, "alice", "m", base.Add(time.Duration(i)*time.Second)))
	}
}

func TestSweepTrimsBusyRoom(t *testing.T) {
	store := setupStore(t)
	seedMessages(t, store, "BUSY01", 120)

	svc := New(store, Config{Interval: time.Hour, Threshold: 100, Keep: 40})
	svc.SweepAll()

	count, err := store.MessageCount("BUSY01")
	require.NoError(t, err)
	assert.Equal(t, 40, count)
}

func TestSweepLeavesQuietRoomAlone(t *testing.T) {
	store := setupStore(t)
	seedMessages(t, store, "QUIET1", 50)

	svc := New(store, Config{Interval: time.Hour, Threshold: 100, Keep: 40})
	svc.SweepAll()

	count, err := store.MessageCount("QUIET1")
	require.NoError(t, err)
	assert.Equal(t, 50, count)
}

func TestSweepHandlesManyRooms(t *testing.T) {
	store := setupStore(t)
	seedMessages(t, store, "ROOM01", 120)
	seedMessages(t, store, "ROOM02", 10)
	seedMessages(t, store, "ROOM03", 120)

	svc := New(store, Config{Interval: time.Hour, Threshold: 100, Keep: 5})
	svc.SweepAll()

	for room, want := range map[string]int{"ROOM01": 5, "ROOM02": 10, "ROOM03": 5} {
		count, err := store.MessageCount(room)
		require.NoError(t, err)
		assert.Equal(t, want, count, room)
	}
}

func TestDisabledServiceStartStop(t *testing.T) {
	store := setupStore(t)

	svc := New(store, Config{Interval: 0})
	svc.Start()
	svc.Stop() // must not panic or hang
}

func TestStartStop(t *testing.T) {
	store := setupStore(t)
	seedMessages(t, store, "ROOM01", 120)

	svc := New(store, Config{Interval: time.Hour, Threshold: 100, Keep: 10})
	svc.Start()
	svc.Stop()

	// The initial sweep runs on start
	count, err := store.MessageCount("ROOM01")
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}
