package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "cardhost.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndGetLaunch(t *testing.T) {
	store := newTestStore(t)

	launched := time.Now().Truncate(time.Second)
	require.NoError(t, store.RecordLaunch(LaunchRecord{
		InstanceID: "com.example.app-1",
		AppID:      "com.example.app",
		ProcessID:  "1",
		Parameters: "foo=bar",
		LaunchedAt: launched,
	}))

	record, err := store.GetLaunch("com.example.app-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "com.example.app", record.AppID)
	assert.Equal(t, "foo=bar", record.Parameters)
	assert.Nil(t, record.ClosedAt)

	missing, err := store.GetLaunch("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRecordClose(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.RecordLaunch(LaunchRecord{
		InstanceID: "com.example.app-1",
		AppID:      "com.example.app",
		ProcessID:  "1",
	}))

	closed := time.Now().Truncate(time.Second)
	require.NoError(t, store.RecordClose("com.example.app-1", closed))

	record, err := store.GetLaunch("com.example.app-1")
	require.NoError(t, err)
	require.NotNil(t, record.ClosedAt)
	assert.WithinDuration(t, closed, *record.ClosedAt, time.Second)

	// Unknown instance is a quiet no-op.
	require.NoError(t, store.RecordClose("nope", closed))
}

func TestUpdateParameters(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.RecordLaunch(LaunchRecord{
		InstanceID: "com.example.app-1",
		AppID:      "com.example.app",
		ProcessID:  "1",
		Parameters: "a=1",
	}))
	require.NoError(t, store.UpdateParameters("com.example.app-1", "a=2"))

	record, err := store.GetLaunch("com.example.app-1")
	require.NoError(t, err)
	assert.Equal(t, "a=2", record.Parameters)
}

func TestRecentLaunches(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i, app := range []string{"com.example.calc", "com.example.clock", "com.example.calc"} {
		require.NoError(t, store.RecordLaunch(LaunchRecord{
			InstanceID: app + "-" + string(rune('1'+i)),
			AppID:      app,
			ProcessID:  string(rune('1' + i)),
			LaunchedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := store.RecentLaunches("", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "com.example.calc-3", all[0].InstanceID)

	calcs, err := store.RecentLaunches("com.example.calc", 10)
	require.NoError(t, err)
	assert.Len(t, calcs, 2)

	limited, err := store.RecentLaunches("", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRepeatedInstanceIDAcrossRuns(t *testing.T) {
	// Process counters restart at 1 with the daemon, so the same instance
	// identifier shows up again after a restart. Every run keeps its own
	// row, and close/parameter updates land on the newest open one.
	store := newTestStore(t)

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, store.RecordLaunch(LaunchRecord{
		InstanceID: "com.example.app-1",
		AppID:      "com.example.app",
		ProcessID:  "1",
		Parameters: "run=1",
		LaunchedAt: base,
	}))
	require.NoError(t, store.RecordLaunch(LaunchRecord{
		InstanceID: "com.example.app-1",
		AppID:      "com.example.app",
		ProcessID:  "1",
		Parameters: "run=2",
		LaunchedAt: base.Add(time.Minute),
	}))

	all, err := store.RecentLaunches("com.example.app", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.NotEqual(t, all[0].ID, all[1].ID)
	assert.Equal(t, "run=2", all[0].Parameters)

	require.NoError(t, store.UpdateParameters("com.example.app-1", "run=2b"))
	require.NoError(t, store.RecordClose("com.example.app-1", base.Add(2*time.Minute)))

	record, err := store.GetLaunch("com.example.app-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "run=2b", record.Parameters)
	require.NotNil(t, record.ClosedAt)

	// The first run's row is untouched.
	all, err = store.RecentLaunches("com.example.app", 10)
	require.NoError(t, err)
	assert.Equal(t, "run=1", all[1].Parameters)
	assert.Nil(t, all[1].ClosedAt)
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cardhost.db")

	store, err := New(path)
	require.NoError(t, err)
	require.NoError(t, store.RecordLaunch(LaunchRecord{
		InstanceID: "a-1", AppID: "a", ProcessID: "1",
	}))
	require.NoError(t, store.Close())

	// Reopening applies the schema again without clobbering rows.
	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()

	record, err := reopened.GetLaunch("a-1")
	require.NoError(t, err)
	assert.NotNil(t, record)
}
