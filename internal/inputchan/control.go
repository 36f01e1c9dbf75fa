package inputchan

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vibetunnel-go/vibetunneld/internal/logger"
)

// ControlMessage is one JSON-lines command appended to a session's
// control file.
type ControlMessage struct {
	Cmd    string `json:"cmd"`
	Cols   int    `json:"cols,omitempty"`
	Rows   int    `json:"rows,omitempty"`
	Signal any    `json:"signal,omitempty"`
}

// ControlWatcher tails a control file, parsing only newly-appended
// bytes and dispatching one ControlMessage per line. Unknown commands
// are logged and ignored; the next valid message is still processed.
type ControlWatcher struct {
	path    string
	handler func(ControlMessage)
	watcher *fsnotify.Watcher
	offset  int64
	mu      sync.Mutex
	done    chan struct{}
}

// WatchControlFile creates the control file if absent and starts
// tailing it for appended JSON lines.
func WatchControlFile(path string, handler func(ControlMessage)) (*ControlWatcher, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, ferr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if ferr != nil {
			return nil, ferr
		}
		f.Close()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	cw := &ControlWatcher{path: path, handler: handler, watcher: w, done: make(chan struct{})}
	go cw.loop()
	return cw, nil
}

func (cw *ControlWatcher) loop() {
	for {
		select {
		case <-cw.done:
			return
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				cw.consumeNewBytes()
			}
		case _, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (cw *ControlWatcher) consumeNewBytes() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	f, err := os.Open(cw.path)
	if err != nil {
		return
	}
	defer f.Close()

	if _, err := f.Seek(cw.offset, 0); err != nil {
		return
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	var consumed int64
	for scanner.Scan() {
		line := scanner.Bytes()
		consumed += int64(len(line)) + 1 // +1 for the newline the scanner strips
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var msg ControlMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Warn("inputchan: malformed control message", "path", cw.path, "err", err)
			continue
		}
		switch msg.Cmd {
		case "resize", "kill", "reset-size":
			cw.handler(msg)
		default:
			logger.Warn("inputchan: unknown control command", "cmd", msg.Cmd)
		}
	}
	cw.offset += consumed
}

// Close stops watching the control file.
func (cw *ControlWatcher) Close() error {
	close(cw.done)
	return cw.watcher.Close()
}

// AppendControlMessage writes one JSON line to a control file —
// used by the supervisor to talk to an externally-owned session.
func AppendControlMessage(path string, msg ControlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	data = append(data, '\n')
	_, err = f.Write(data)
	return err
}

// graceWindow matches the supervisor's post-control-message wait
// before falling back to a direct signal.
const graceWindow = 500 * time.Millisecond

// GraceWindow exposes the wait duration so callers outside this
// package stay in lockstep with it.
func GraceWindow() time.Duration { return graceWindow }
