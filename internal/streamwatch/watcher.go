// Package streamwatch fans a session's recording file out to
// subscribers: replaying everything recorded so far with timestamps
// rebased to zero, then tailing the file live as new events land.
package streamwatch

import (
	"bufio"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vibetunnel-go/vibetunneld/internal/logger"
	"github.com/vibetunnel-go/vibetunneld/internal/recorder"
)

// Frame is one line a subscriber receives: either the replayed or
// live re-timestamped form of a recording event.
type Frame struct {
	Elapsed float64
	Type    string
	Data    string
}

type subscriber struct {
	ch        chan Frame
	startedAt time.Time
	done      chan struct{}
}

// Watcher tails one session's recording file. One Watcher exists per
// session with at least one subscriber; it is created on the first
// subscribe and torn down after the last unsubscribe.
type Watcher struct {
	path string

	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	offset  int64
	size    int64
	mtime   time.Time
	fsw     *fsnotify.Watcher
	closed  bool
	header  recorder.Header
	gotExit bool
}

// Manager owns the set of live Watchers, one per session currently
// being streamed.
type Manager struct {
	mu       sync.Mutex
	watchers map[string]*Watcher
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{watchers: make(map[string]*Watcher)}
}

// Subscribe attaches a new client to session id's recording at path,
// creating the Watcher if this is the first subscriber. It returns a
// channel of Frames and an unsubscribe function; the channel is
// closed automatically if the recording's exit trailer is reached
// during replay or live tailing.
func (m *Manager) Subscribe(id, path string) (<-chan Frame, func(), error) {
	m.mu.Lock()
	w, ok := m.watchers[id]
	if !ok {
		var err error
		w, err = newWatcher(path)
		if err != nil {
			m.mu.Unlock()
			return nil, nil, err
		}
		m.watchers[id] = w
	}
	m.mu.Unlock()

	sub, err := w.attach()
	if err != nil {
		m.closeIfEmpty(id, w)
		return nil, nil, err
	}

	unsub := func() {
		w.detach(sub)
		m.closeIfEmpty(id, w)
	}
	return sub.ch, unsub, nil
}

func (m *Manager) closeIfEmpty(id string, w *Watcher) {
	if !w.empty() {
		return
	}
	m.mu.Lock()
	if m.watchers[id] == w {
		delete(m.watchers, id)
	}
	m.mu.Unlock()
	w.close()
}

func newWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{path: path, subs: make(map[*subscriber]struct{}), fsw: fsw}
	go w.loop()
	return w, nil
}

// attach replays the file from the start with every event's elapsed
// field rebased to the subscriber's own clock (0 at attach time), then
// registers the subscriber for live fan-out.
func (w *Watcher) attach() (*subscriber, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rec, err := recorder.Parse(f)
	if err != nil && rec == nil {
		return nil, err
	}
	// Room for the whole replay plus headroom for live frames, so no
	// replayed event is dropped before the caller starts reading.
	capacity := 256
	if rec != nil {
		capacity += len(rec.Events)
	}
	sub := &subscriber{ch: make(chan Frame, capacity), startedAt: time.Now(), done: make(chan struct{})}
	if rec != nil {
		for _, ev := range rec.Events {
			select {
			case sub.ch <- Frame{Elapsed: 0, Type: ev.Type, Data: ev.Data}:
			default:
			}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if rec != nil && rec.Exit != nil {
		close(sub.ch)
		return sub, nil
	}
	if stat, err := os.Stat(w.path); err == nil {
		w.offset = stat.Size()
		w.size = stat.Size()
		w.mtime = stat.ModTime()
	}
	w.subs[sub] = struct{}{}
	return sub, nil
}

func (w *Watcher) detach(sub *subscriber) {
	w.mu.Lock()
	if _, ok := w.subs[sub]; ok {
		delete(w.subs, sub)
		close(sub.ch)
	}
	w.mu.Unlock()
}

func (w *Watcher) empty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs) == 0
}

func (w *Watcher) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for sub := range w.subs {
		delete(w.subs, sub)
		close(sub.ch)
	}
	w.mu.Unlock()
	w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.consumeNewBytes()
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				// The file was replaced or removed; re-add the watch and
				// restart from 0 once content reappears.
				w.mu.Lock()
				w.offset = 0
				w.mu.Unlock()
				w.fsw.Add(w.path)
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) consumeNewBytes() {
	stat, err := os.Stat(w.path)
	if err != nil {
		return
	}

	w.mu.Lock()
	if stat.Size() < w.size {
		// Truncated or replaced underneath us: restart from the top.
		w.offset = 0
	}
	w.size = stat.Size()
	w.mtime = stat.ModTime()
	offset := w.offset
	w.mu.Unlock()

	f, err := os.Open(w.path)
	if err != nil {
		return
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var consumed int64
	var lines [][]byte
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		consumed += int64(len(line)) + 1
		lines = append(lines, line)
	}

	w.mu.Lock()
	w.offset += consumed
	w.mu.Unlock()

	for _, line := range lines {
		w.broadcastLine(line)
	}
}

func (w *Watcher) broadcastLine(line []byte) {
	ev, exitTrailer, ok := parseLine(line)
	if !ok {
		// Not a recognized [elapsed,type,data] or exit line; treat any
		// other non-empty line as raw output rather than dropping it.
		if len(line) > 0 {
			ev = Frame{Type: recorder.EventOutput, Data: recorder.EncodeBytes(line)}
		} else {
			return
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for sub := range w.subs {
		frame := ev
		frame.Elapsed = time.Since(sub.startedAt).Seconds()
		select {
		case sub.ch <- frame:
		default:
			logger.Warn("streamwatch: dropping frame for slow subscriber", "path", w.path)
		}
	}
	if exitTrailer {
		for sub := range w.subs {
			delete(w.subs, sub)
			close(sub.ch)
		}
	}
}
