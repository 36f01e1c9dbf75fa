package inputchan

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSocketServerClientRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.sock")

	var mu sync.Mutex
	var received []byte
	done := make(chan struct{}, 1)

	srv, err := NewServer(path, false, func(data []byte) {
		mu.Lock()
		received = append(received, data...)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer srv.Close()

	pool := NewClientPool()
	require.NoError(t, pool.Write("s1", path, []byte("hello")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for input")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "hello", string(received))
}

func TestSkipSocketCreationReturnsNil(t *testing.T) {
	srv, err := NewServer(filepath.Join(t.TempDir(), "input.sock"), true, func([]byte) {})
	require.NoError(t, err)
	require.Nil(t, srv)
	require.NoError(t, srv.Close()) // nil-safe
}

func TestControlWatcherDispatchesKnownCommandsOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control")

	var mu sync.Mutex
	var seen []ControlMessage
	cw, err := WatchControlFile(path, func(msg ControlMessage) {
		mu.Lock()
		seen = append(seen, msg)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cw.Close()

	require.NoError(t, AppendControlMessage(path, ControlMessage{Cmd: "bogus"}))
	require.NoError(t, AppendControlMessage(path, ControlMessage{Cmd: "resize", Cols: 100, Rows: 30}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "resize", seen[0].Cmd)
	require.Equal(t, 100, seen[0].Cols)
}
