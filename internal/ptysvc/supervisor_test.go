package ptysvc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vibetunnel-go/vibetunneld/internal/recorder"
	"github.com/vibetunnel-go/vibetunneld/internal/session"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *session.Store) {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	return NewSupervisor(store, session.NewBus()), store
}

func waitForStatus(t *testing.T, store *session.Store, id, status string, within time.Duration) *session.Info {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		info, err := store.Get(id)
		require.NoError(t, err)
		if info.Status == status {
			return info
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("session %s did not reach status %s within %s", id, status, within)
	return nil
}

func TestCreateSpawnsRecordsOutputAndExits(t *testing.T) {
	sup, store := newTestSupervisor(t)

	info, err := sup.Create([]string{"/bin/echo", "hello-vibetunnel"}, Options{SkipSocket: true})
	require.NoError(t, err)
	require.Equal(t, session.StatusRunning, info.Status)

	exited := waitForStatus(t, store, info.ID, session.StatusExited, 3*time.Second)
	require.NotNil(t, exited.ExitCode)
	require.Equal(t, 0, *exited.ExitCode)

	paths := store.Paths(info.ID)
	f, err := os.Open(paths.Recording)
	require.NoError(t, err)
	defer f.Close()

	rec, err := recorder.Parse(f)
	require.NoError(t, err)
	require.Equal(t, 2, rec.Header.Version)

	var sawOutput bool
	for _, ev := range rec.Events {
		if ev.Type == recorder.EventOutput && string(recorder.DecodeBytes(ev.Data)) != "" {
			sawOutput = true
		}
	}
	require.True(t, sawOutput, "expected at least one output event")
	require.NotNil(t, rec.Exit)
	require.Equal(t, 0, rec.Exit.Code)
}

func TestSendInputWritesThroughToPTY(t *testing.T) {
	sup, store := newTestSupervisor(t)

	info, err := sup.Create([]string{"/bin/cat"}, Options{SkipSocket: true})
	require.NoError(t, err)

	require.NoError(t, sup.SendInput(info.ID, "ping\n", ""))
	require.NoError(t, sup.SendInput(info.ID, "", "enter"))

	require.NoError(t, sup.Kill(info.ID, SIGKILL))
	waitForStatus(t, store, info.ID, session.StatusExited, 3*time.Second)

	paths := store.Paths(info.ID)
	f, err := os.Open(paths.Recording)
	require.NoError(t, err)
	defer f.Close()

	rec, err := recorder.Parse(f)
	require.NoError(t, err)

	var sawInput bool
	for _, ev := range rec.Events {
		if ev.Type == recorder.EventInput && string(recorder.DecodeBytes(ev.Data)) == "ping\n" {
			sawInput = true
		}
	}
	require.True(t, sawInput, "expected the literal input event to be recorded")
}

func TestKillEscalatesToSigkillWhenSigtermIsIgnored(t *testing.T) {
	sup, store := newTestSupervisor(t)

	info, err := sup.Create([]string{"/bin/sh", "-c", "trap '' TERM; sleep 30"}, Options{SkipSocket: true})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, sup.Kill(info.ID, SIGTERM))
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, killPollInterval)
	waitForStatus(t, store, info.ID, session.StatusExited, 2*time.Second)
}

func TestRejectsCreateWithMissingWorkingDir(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	_, err := sup.Create([]string{"/bin/echo", "hi"}, Options{
		WorkingDir: filepath.Join(os.TempDir(), "does-not-exist-vibetunnel-test"),
		SkipSocket: true,
	})
	require.Error(t, err)
	require.True(t, session.IsCode(err, session.CodeInvalidWorkingDir))
}

func TestBellInOutputPublishesEventBell(t *testing.T) {
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	bus := session.NewBus()
	sup := NewSupervisor(store, bus)

	events, unsub := bus.Subscribe()
	defer unsub()

	info, err := sup.Create([]string{"/bin/sh", "-c", "printf 'before\\a after'"}, Options{SkipSocket: true})
	require.NoError(t, err)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-events:
			if ev.Kind == session.EventBell && ev.SessionID == info.ID {
				require.Equal(t, 1, ev.BellCount)
				return
			}
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatalf("expected an EventBell for session %s", info.ID)
}

func TestCleanupRefusesLiveSession(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	info, err := sup.Create([]string{"/bin/sleep", "5"}, Options{SkipSocket: true})
	require.NoError(t, err)

	err = sup.Cleanup(info.ID)
	require.Error(t, err)
	require.True(t, session.IsCode(err, session.CodeCleanupFailed))

	require.NoError(t, sup.Kill(info.ID, SIGKILL))
}
