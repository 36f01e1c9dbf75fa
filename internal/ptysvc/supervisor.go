// Package ptysvc is the PTY Supervisor: it spawns commands inside
// pseudo-terminals, records their I/O, and exposes the session
// lifecycle (create, send input, resize, kill) described in the
// session-store design (internal/session) but backed by a live
// process rather than only a directory on disk.
package ptysvc

import (
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/vibetunnel-go/vibetunneld/internal/activity"
	"github.com/vibetunnel-go/vibetunneld/internal/inputchan"
	"github.com/vibetunnel-go/vibetunneld/internal/logger"
	"github.com/vibetunnel-go/vibetunneld/internal/recorder"
	"github.com/vibetunnel-go/vibetunneld/internal/session"
)

// Options configures a new session spawn.
type Options struct {
	Name       string
	WorkingDir string
	Cols, Rows int
	Env        map[string]string
	// SkipSocket disables the input.sock listener, used by tests that
	// run from a deep tmp path where a unix socket path would overflow
	// sun_path's length limit.
	SkipSocket bool
}

// liveSession is the in-process state for a session this Supervisor
// itself spawned, as opposed to one only known through its on-disk
// directory (spawned by a different process sharing the control root).
type liveSession struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	ptyFile  *os.File
	rec      *recorder.Recorder
	input    *inputchan.Server
	resize   resizeState
	exited   bool
	exitedAt time.Time
}

func (l *liveSession) pid() int {
	if l.cmd == nil || l.cmd.Process == nil {
		return 0
	}
	return l.cmd.Process.Pid
}

// Supervisor owns every session this process spawned directly and
// can also act on sessions it only knows about through the shared
// Store, using the Input and Control Channels instead of direct
// process handles.
type Supervisor struct {
	store *session.Store
	bus   *session.Bus
	pool  *inputchan.ClientPool

	mu   sync.RWMutex
	live map[string]*liveSession
}

// NewSupervisor wires a Supervisor to a shared Store and event Bus.
func NewSupervisor(store *session.Store, bus *session.Bus) *Supervisor {
	return &Supervisor{
		store: store,
		bus:   bus,
		pool:  inputchan.NewClientPool(),
		live:  make(map[string]*liveSession),
	}
}

// Create resolves argv, spawns it inside a PTY, and starts recording.
func (s *Supervisor) Create(argv []string, opts Options) (*session.Info, error) {
	if len(argv) == 0 {
		return nil, session.NewError(session.CodeInvalidInput, "command is required", "", nil)
	}

	wd := opts.WorkingDir
	if wd == "" {
		wd = "."
	}
	if fi, err := os.Stat(wd); err != nil || !fi.IsDir() {
		return nil, session.NewError(session.CodeInvalidWorkingDir, "working directory does not exist", "", err)
	}

	resolution, err := ResolveCommand(argv, LookupAlias)
	if err != nil {
		return nil, session.NewError(session.CodeInvalidInput, "resolve command", "", err)
	}

	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = session.DefaultCols
	}
	if rows <= 0 {
		rows = session.DefaultRows
	}

	id := uuid.NewString()
	paths, err := s.store.CreateDirectory(id)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(resolution.Argv[0], resolution.Argv[1:]...)
	cmd.Dir = wd
	cmd.Env = buildEnv(opts.Env)
	applyProcessGroup(cmd)

	ptyFile, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		s.store.Cleanup(id)
		return nil, session.NewError(session.CodeSpawnFailed, "start pty", id, err)
	}

	name := opts.Name
	if name == "" {
		name = strings.Join(argv, " ")
	}

	rec, err := recorder.Create(paths.Recording, cols, rows, strings.Join(resolution.Argv, " "), name, opts.Env)
	if err != nil {
		ptyFile.Close()
		cmd.Process.Kill()
		s.store.Cleanup(id)
		return nil, session.NewError(session.CodeSpawnFailed, "create recording", id, err)
	}

	info := &session.Info{
		ID:         id,
		Command:    resolution.Argv,
		Name:       name,
		WorkingDir: wd,
		Status:     session.StatusRunning,
		PID:        cmd.Process.Pid,
		StartedAt:  time.Now(),
		Cols:       cols,
		Rows:       rows,
	}
	if err := s.store.SaveInfo(id, info); err != nil {
		rec.Close()
		ptyFile.Close()
		cmd.Process.Kill()
		s.store.Cleanup(id)
		return nil, err
	}

	live := &liveSession{cmd: cmd, ptyFile: ptyFile, rec: rec}
	live.resize.cols, live.resize.rows = cols, rows

	inputSrv, err := inputchan.NewServer(paths.InputSocket, opts.SkipSocket, func(data []byte) {
		s.writeToPTY(live, data)
	})
	if err != nil {
		logger.Warn("ptysvc: input socket unavailable, falling back to fifo-only input", "session", id, "err", err)
	}
	live.input = inputSrv

	s.mu.Lock()
	s.live[id] = live
	s.mu.Unlock()

	go s.pumpOutput(id, live)
	go s.waitForExit(id, live, cmd)
	go s.tailStdinFIFO(live, paths.Stdin)

	s.bus.Publish(session.Event{Kind: session.EventCreated, SessionID: id})
	return info, nil
}

// buildEnv assembles the spawned process's environment: a fixed
// passthrough set from this process's own environment, a TERM default
// when the parent has none, and any caller-supplied overrides last so
// they win on conflict.
func buildEnv(extra map[string]string) []string {
	passthrough := []string{"TERM", "SHELL", "LANG", "LC_ALL", "PATH", "USER", "HOME"}
	env := make([]string, 0, len(passthrough)+len(extra)+1)
	hasTerm := false
	for _, k := range passthrough {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
			if k == "TERM" {
				hasTerm = true
			}
		}
	}
	if !hasTerm {
		env = append(env, "TERM=xterm-256color")
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

func (s *Supervisor) writeToPTY(live *liveSession, data []byte) {
	live.mu.Lock()
	defer live.mu.Unlock()
	if live.exited {
		return
	}
	if _, err := live.ptyFile.Write(data); err != nil {
		return
	}
	live.rec.WriteInput(data)
}

func (s *Supervisor) pumpOutput(id string, live *liveSession) {
	buf := make([]byte, 4096)
	for {
		n, err := live.ptyFile.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			live.rec.WriteOutput(chunk)
			s.detectBell(id, live, chunk)
		}
		if err != nil {
			return
		}
	}
}

// detectBell counts real bells in a just-recorded output chunk and, if
// any survive the post-exit suppression window, publishes an
// EventBell carrying the process most likely to have rung it.
func (s *Supervisor) detectBell(id string, live *liveSession, chunk []byte) {
	count := activity.CountBells(chunk)
	if count == 0 {
		return
	}

	now := time.Now()
	live.mu.Lock()
	exitedAt := live.exitedAt
	live.mu.Unlock()
	if activity.ShouldSuppress(exitedAt, now) {
		return
	}

	pid := live.pid()
	tree, err := activity.Snapshot(pid)
	if err != nil {
		s.bus.Publish(session.Event{Kind: session.EventBell, SessionID: id, BellCount: count})
		return
	}
	source := activity.SuspectedSource(tree, pid, now)
	s.bus.Publish(session.Event{
		Kind:          session.EventBell,
		SessionID:     id,
		BellCount:     count,
		SuspectedPID:  source.PID,
		SuspectedName: source.Name,
	})
}

// tailStdinFIFO forwards bytes written to the stdin FIFO fallback
// path into the PTY, reopening the FIFO whenever the writer side
// closes so a new writer can connect.
func (s *Supervisor) tailStdinFIFO(live *liveSession, path string) {
	for {
		live.mu.Lock()
		exited := live.exited
		live.mu.Unlock()
		if exited {
			return
		}

		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			return
		}
		buf := make([]byte, 4096)
		for {
			n, rerr := f.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				s.writeToPTY(live, chunk)
			}
			if rerr != nil {
				break
			}
		}
		f.Close()
	}
}

func (s *Supervisor) waitForExit(id string, live *liveSession, cmd *exec.Cmd) {
	err := cmd.Wait()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				if status.Signaled() {
					exitCode = session.ExitCodeForSignal(int(status.Signal()))
				} else {
					exitCode = status.ExitStatus()
				}
			} else {
				exitCode = exitErr.ExitCode()
			}
		} else {
			exitCode = -1
		}
	}

	live.mu.Lock()
	live.exited = true
	live.exitedAt = time.Now()
	live.ptyFile.Close()
	live.rec.WriteRawJSON([]any{"exit", exitCode, id})
	live.rec.Close()
	if live.input != nil {
		live.input.Close()
	}
	live.mu.Unlock()

	code := exitCode
	if err := s.store.UpdateStatus(id, session.StatusExited, nil, &code); err != nil {
		logger.Warn("ptysvc: persist exit status failed", "session", id, "err", err)
	}

	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
	s.pool.Drop(id)

	s.bus.Publish(session.Event{Kind: session.EventExited, SessionID: id})
}

// SendInput writes either literal text or a named special key to a
// session, routing to the live PTY directly when this process owns
// it, or over the Input Channel socket when it is externally owned.
func (s *Supervisor) SendInput(id, text, key string) error {
	data, err := encodeInput(text, key)
	if err != nil {
		return err
	}

	s.mu.RLock()
	live, inMemory := s.live[id]
	s.mu.RUnlock()

	if inMemory {
		s.writeToPTY(live, data)
		return nil
	}

	info, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if info.Status != session.StatusRunning {
		return session.NewError(session.CodeInvalidInput, "session is not running", id, nil)
	}
	paths := s.store.Paths(id)
	if err := s.pool.Write(id, paths.InputSocket, data); err != nil {
		return session.NewError(session.CodeNoSocketConnection, "write input socket", id, err)
	}
	return nil
}

func encodeInput(text, key string) ([]byte, error) {
	if key != "" {
		seq, ok := specialKeys[key]
		if !ok {
			return nil, session.NewError(session.CodeInvalidInput, "unknown key", "", nil)
		}
		return []byte(seq), nil
	}
	if text == "" {
		return nil, session.NewError(session.CodeInvalidInput, "text or key is required", "", nil)
	}
	return []byte(text), nil
}

// Resize applies a browser-originated resize: it always wins
// immediately over any pending terminal-originated resize.
func (s *Supervisor) Resize(id string, cols, rows int) error {
	s.mu.RLock()
	live, inMemory := s.live[id]
	s.mu.RUnlock()
	if !inMemory {
		return session.NewError(session.CodeResizeFailed, "session not owned by this process", id, nil)
	}

	now := time.Now()
	live.mu.Lock()
	live.resize.recordBrowser(cols, rows, now)
	err := pty.Setsize(live.ptyFile, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	live.mu.Unlock()
	if err != nil {
		return session.NewError(session.CodeResizeFailed, "setsize", id, err)
	}
	live.rec.WriteResize(cols, rows)
	s.updateSize(id, cols, rows)
	return nil
}

// TerminalResize applies a terminal-originated resize (e.g. the
// shell's own SIGWINCH handling reporting a size change), which is
// suppressed for resizeGrace after a more recent browser resize.
func (s *Supervisor) TerminalResize(id string, cols, rows int) error {
	s.mu.RLock()
	live, inMemory := s.live[id]
	s.mu.RUnlock()
	if !inMemory {
		return nil
	}

	now := time.Now()
	live.mu.Lock()
	if !live.resize.shouldApplyTerminal(now) {
		live.mu.Unlock()
		return nil
	}
	live.resize.recordTerminal(cols, rows, now)
	err := pty.Setsize(live.ptyFile, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	live.mu.Unlock()
	if err != nil {
		return session.NewError(session.CodeResizeFailed, "setsize", id, err)
	}
	live.rec.WriteResize(cols, rows)
	s.updateSize(id, cols, rows)
	return nil
}

func (s *Supervisor) updateSize(id string, cols, rows int) {
	info, err := s.store.Get(id)
	if err != nil {
		return
	}
	info.Cols, info.Rows = cols, rows
	if err := s.store.SaveInfo(id, info); err != nil {
		logger.Warn("ptysvc: persist resize failed", "session", id, "err", err)
	}
}

// ResetSize asks an externally-owned session to reset its terminal
// size to whatever the shell's own idea of the size is. For a session
// this process owns directly it changes nothing and returns a
// resizeFailed error.
func (s *Supervisor) ResetSize(id string) error {
	s.mu.RLock()
	_, inMemory := s.live[id]
	s.mu.RUnlock()
	if inMemory {
		return session.NewError(session.CodeResizeFailed, "reset-size only applies to externally-owned sessions", id, nil)
	}
	paths := s.store.Paths(id)
	if err := inputchan.AppendControlMessage(paths.Control, inputchan.ControlMessage{Cmd: "reset-size"}); err != nil {
		return session.NewError(session.CodeResizeFailed, "append control message", id, err)
	}
	return nil
}

// List returns every known session, in-memory or external alike —
// the Store is the single source of truth both read.
func (s *Supervisor) List() ([]*session.Info, error) {
	return s.store.List()
}

// Get returns one session's info.
func (s *Supervisor) Get(id string) (*session.Info, error) {
	return s.store.Get(id)
}

// RecordingPath implements federation.LocalSource: it reports the
// path to a session's recording file if the session exists locally.
func (s *Supervisor) RecordingPath(id string) (string, bool) {
	if !s.store.Exists(id) {
		return "", false
	}
	return s.store.Paths(id).Recording, true
}

// Cleanup removes a session's directory. It refuses to remove a
// session this process still has live, since that would delete the
// recording file out from under an open writer.
func (s *Supervisor) Cleanup(id string) error {
	s.mu.RLock()
	_, inMemory := s.live[id]
	s.mu.RUnlock()
	if inMemory {
		return session.NewError(session.CodeCleanupFailed, "cannot clean up a running session", id, nil)
	}
	s.pool.Drop(id)
	return s.store.Cleanup(id)
}
