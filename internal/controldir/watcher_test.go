package controldir

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vibetunnel-go/vibetunneld/internal/session"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) NotifySessionChange(action, sessionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, action+":"+sessionID)
}

func (n *recordingNotifier) snapshot() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	copy(out, n.events)
	return out
}

func TestObservesExternallyCreatedSession(t *testing.T) {
	root := t.TempDir()
	store, err := session.NewStore(root)
	require.NoError(t, err)
	bus := session.NewBus()
	notifier := &recordingNotifier{}

	w, err := New(store, bus, notifier)
	require.NoError(t, err)
	defer w.Close()

	events, unsub := bus.Subscribe()
	defer unsub()

	id := "external-session-1"
	dir := filepath.Join(root, id)
	require.NoError(t, os.Mkdir(dir, 0o755))
	info := &session.Info{ID: id, Status: session.StatusRunning, StartedAt: time.Now()}
	require.NoError(t, store.SaveInfo(id, info))

	select {
	case ev := <-events:
		require.Equal(t, session.EventCreated, ev.Kind)
		require.Equal(t, id, ev.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for created event")
	}

	require.Eventually(t, func() bool {
		for _, e := range notifier.snapshot() {
			if e == "created:"+id {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestObservesRemovedSession(t *testing.T) {
	root := t.TempDir()
	store, err := session.NewStore(root)
	require.NoError(t, err)
	bus := session.NewBus()
	notifier := &recordingNotifier{}

	id := "external-session-2"
	_, err = store.CreateDirectory(id)
	require.NoError(t, err)
	require.NoError(t, store.SaveInfo(id, &session.Info{ID: id, Status: session.StatusRunning, StartedAt: time.Now()}))

	w, err := New(store, bus, notifier)
	require.NoError(t, err)
	defer w.Close()

	events, unsub := bus.Subscribe()
	defer unsub()

	require.NoError(t, os.RemoveAll(filepath.Join(root, id)))

	select {
	case ev := <-events:
		require.Equal(t, session.EventExited, ev.Kind)
		require.Equal(t, id, ev.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exited event")
	}
}

func TestShutdownSuppressesUpstreamNotification(t *testing.T) {
	root := t.TempDir()
	store, err := session.NewStore(root)
	require.NoError(t, err)
	bus := session.NewBus()
	notifier := &recordingNotifier{}

	w, err := New(store, bus, notifier)
	require.NoError(t, err)
	defer w.Close()
	w.Shutdown()

	events, unsub := bus.Subscribe()
	defer unsub()

	id := "external-session-3"
	dir := filepath.Join(root, id)
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, store.SaveInfo(id, &session.Info{ID: id, Status: session.StatusRunning, StartedAt: time.Now()}))

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for created event")
	}

	time.Sleep(300 * time.Millisecond)
	require.Empty(t, notifier.snapshot())
}
