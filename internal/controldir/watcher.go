// Package controldir watches the session control root for
// directories created or removed by producers this process did not
// itself spawn — most commonly a `vt` forward-mode process running
// independently and writing directly into the shared layout.
package controldir

import (
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vibetunnel-go/vibetunneld/internal/logger"
	"github.com/vibetunnel-go/vibetunneld/internal/session"
)

// settleDelay is how long the watcher waits after a new subdirectory
// appears for session.json to land before reading it.
const settleDelay = 100 * time.Millisecond

// Notifier is implemented by the federation layer's HQ client: when
// this host is a remote, every observed create/delete is pushed
// upstream.
type Notifier interface {
	NotifySessionChange(action, sessionID string)
}

// Watcher tails the control root directory: a created subdirectory
// is reported as a new session once its session.json can be read, and
// a removed or renamed one as a removed session. Both are published
// on the Bus; the store itself is only read, never written.
type Watcher struct {
	store    *session.Store
	bus      *session.Bus
	notifier Notifier
	fsw      *fsnotify.Watcher
	done     chan struct{}
	shutdown bool
}

// New creates a Watcher rooted at store's control path. notifier may
// be nil when this host is not federated with an HQ.
func New(store *session.Store, bus *session.Bus, notifier Notifier) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(store.Root()); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{store: store, bus: bus, notifier: notifier, fsw: fsw, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("controldir: watch error", "err", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	id := lastPathComponent(ev.Name)
	if id == "" {
		return
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		go w.observeCreated(id)
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.observeRemoved(id)
	}
}

func (w *Watcher) observeCreated(id string) {
	time.Sleep(settleDelay)
	if !w.store.Exists(id) {
		return
	}
	info, err := w.store.LoadInfo(id)
	if err != nil || info == nil {
		return
	}
	w.bus.Publish(session.Event{Kind: session.EventCreated, SessionID: id})
	w.notify("created", id)
}

func (w *Watcher) observeRemoved(id string) {
	w.bus.Publish(session.Event{Kind: session.EventExited, SessionID: id})
	w.notify("deleted", id)
}

func (w *Watcher) notify(action, id string) {
	if w.notifier == nil {
		return
	}
	if w.shutdown {
		return
	}
	w.notifier.NotifySessionChange(action, id)
}

// Shutdown marks the watcher as shutting down: observed changes still
// update the local Bus, but upstream HQ notifications are suppressed
// so a remote mid-teardown doesn't get a flood of failed calls.
func (w *Watcher) Shutdown() {
	w.shutdown = true
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func lastPathComponent(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return p[i+1:]
		}
	}
	return p
}
