package activity

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCountBellsExcludesOSCTerminator(t *testing.T) {
	chunk := append([]byte("\x1b]0;title"), 0x07)
	require.Equal(t, 0, CountBells(chunk))
}

func TestCountBellsCountsRealBells(t *testing.T) {
	chunk := []byte{'a', 0x07, 'b', 0x07, 0x07}
	require.Equal(t, 3, CountBells(chunk))
}

func TestCountBellsMixedOSCAndRealBell(t *testing.T) {
	chunk := append([]byte("\x1b]0;title"), 0x07)
	chunk = append(chunk, 0x07)
	require.Equal(t, 1, CountBells(chunk))
}

func TestShouldSuppressWithinWindow(t *testing.T) {
	exitedAt := time.Now()
	require.True(t, ShouldSuppress(exitedAt, exitedAt.Add(100*time.Millisecond)))
	require.False(t, ShouldSuppress(exitedAt, exitedAt.Add(2*time.Second)))
	require.False(t, ShouldSuppress(time.Time{}, time.Now()))
}

func TestSuspectedSourceExcludesShellAndPromptUtilities(t *testing.T) {
	now := time.Now()
	tree := []ProcessInfo{
		{PID: 1, PPID: 0, Name: "bash", StartedAt: now.Add(-time.Hour)},
		{PID: 2, PPID: 1, Name: "git", StartedAt: now.Add(-200 * time.Millisecond)},
		{PID: 3, PPID: 1, Name: "vim", StartedAt: now.Add(-150 * time.Millisecond)},
	}
	got := SuspectedSource(tree, 1, now)
	require.Equal(t, "vim", got.Name)
}

func TestSuspectedSourceExcludesYoungDescendants(t *testing.T) {
	now := time.Now()
	tree := []ProcessInfo{
		{PID: 1, PPID: 0, Name: "zsh", StartedAt: now.Add(-time.Hour)},
		{PID: 2, PPID: 1, Name: "vim", StartedAt: now.Add(-200 * time.Millisecond)},
		{PID: 3, PPID: 1, Name: "less", StartedAt: now.Add(-10 * time.Millisecond)},
	}
	got := SuspectedSource(tree, 1, now)
	require.Equal(t, "vim", got.Name)
}

func TestSuspectedSourceFallsBackToShell(t *testing.T) {
	now := time.Now()
	tree := []ProcessInfo{
		{PID: 1, PPID: 0, Name: "bash", StartedAt: now.Add(-time.Hour)},
	}
	got := SuspectedSource(tree, 1, now)
	require.Equal(t, "bash", got.Name)
}

func TestMonitorWritesActiveThenInactiveState(t *testing.T) {
	dir := t.TempDir()
	recPath := filepath.Join(dir, "stdout")
	actPath := filepath.Join(dir, "activity.json")
	require.NoError(t, os.WriteFile(recPath, []byte("x"), 0o644))

	m := NewMonitor()
	m.Track("s1", recPath, actPath)

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	defer cancel()

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(actPath)
		if err != nil {
			return false
		}
		var st State
		if json.Unmarshal(data, &st) != nil {
			return false
		}
		return st.Active
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(actPath)
		if err != nil {
			return false
		}
		var st State
		if json.Unmarshal(data, &st) != nil {
			return false
		}
		return !st.Active
	}, 2*time.Second, 20*time.Millisecond)
}
