package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	return s
}

func TestCreateDirectoryIdempotent(t *testing.T) {
	s := newTestStore(t)

	paths1, err := s.CreateDirectory("abc")
	require.NoError(t, err)
	paths2, err := s.CreateDirectory("abc")
	require.NoError(t, err)
	require.Equal(t, paths1, paths2)

	if _, err := os.Stat(paths1.Dir); err != nil {
		t.Fatalf("session dir not created: %v", err)
	}
}

func TestSaveAndLoadInfoRoundTrip(t *testing.T) {
	s := newTestStore(t)
	s.CreateDirectory("s1")

	info := &Info{
		ID:        "s1",
		Command:   []string{"bash", "-l"},
		Name:      "bash",
		Status:    StatusRunning,
		PID:       os.Getpid(),
		StartedAt: time.Now(),
		Cols:      80,
		Rows:      24,
	}
	require.NoError(t, s.SaveInfo("s1", info))

	got, err := s.LoadInfo("s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, info.Command, got.Command)
	require.Equal(t, info.Status, got.Status)
}

func TestLoadInfoMissingReturnsNilNotError(t *testing.T) {
	s := newTestStore(t)
	info, err := s.LoadInfo("nope")
	require.NoError(t, err)
	require.Nil(t, info)
}

func TestLoadInfoCorruptedTreatedAsUnknown(t *testing.T) {
	s := newTestStore(t)
	paths, _ := s.CreateDirectory("bad")
	require.NoError(t, os.WriteFile(paths.InfoFile, []byte("{not json"), 0o644))

	info, err := s.LoadInfo("bad")
	require.NoError(t, err)
	require.Nil(t, info)
}

func TestListSortsByStartedAtDescending(t *testing.T) {
	s := newTestStore(t)
	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	for id, ts := range map[string]time.Time{"old": older, "new": newer} {
		s.CreateDirectory(id)
		require.NoError(t, s.SaveInfo(id, &Info{
			ID: id, Status: StatusExited, StartedAt: ts, Command: []string{"true"},
		}))
	}

	sessions, err := s.List()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, "new", sessions[0].ID)
	require.Equal(t, "old", sessions[1].ID)
}

func TestListZombieSweep(t *testing.T) {
	s := newTestStore(t)
	s.CreateDirectory("zombie")
	require.NoError(t, s.SaveInfo("zombie", &Info{
		ID:        "zombie",
		Status:    StatusRunning,
		PID:       999999999, // exceedingly unlikely to be alive
		StartedAt: time.Now(),
		Command:   []string{"true"},
	}))

	sessions, err := s.List()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, StatusExited, sessions[0].Status)
	require.NotNil(t, sessions[0].ExitCode)
	require.Equal(t, 1, *sessions[0].ExitCode)

	// The sweep must have persisted to disk too.
	reloaded, err := s.LoadInfo("zombie")
	require.NoError(t, err)
	require.Equal(t, StatusExited, reloaded.Status)
}

func TestCleanupNonexistentIsNoOp(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Cleanup("never-existed"))
}

func TestCleanupExitedRemovesOnlyExited(t *testing.T) {
	s := newTestStore(t)
	s.CreateDirectory("running")
	require.NoError(t, s.SaveInfo("running", &Info{
		ID: "running", Status: StatusRunning, PID: os.Getpid(), StartedAt: time.Now(), Command: []string{"x"},
	}))
	s.CreateDirectory("exited")
	require.NoError(t, s.SaveInfo("exited", &Info{
		ID: "exited", Status: StatusExited, StartedAt: time.Now(), Command: []string{"x"},
	}))

	removed, err := s.CleanupExited()
	require.NoError(t, err)
	require.Equal(t, []string{"exited"}, removed)
	require.True(t, s.Exists("running"))
	require.False(t, s.Exists("exited"))
}

func TestSaveInfoAtomicNoPartialWrite(t *testing.T) {
	s := newTestStore(t)
	s.CreateDirectory("atomic")
	info := &Info{ID: "atomic", Status: StatusRunning, StartedAt: time.Now(), Command: []string{"x"}}
	require.NoError(t, s.SaveInfo("atomic", info))

	// No leftover temp file after a successful save.
	_, err := os.Stat(filepath.Join(s.Paths("atomic").InfoFile + ".tmp"))
	require.True(t, os.IsNotExist(err))
}
