package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/vibetunnel-go/vibetunneld/internal/logger"
)

// Store is the on-disk session directory layout: the authoritative
// record of session existence and status.
//
// All methods are safe to call from multiple goroutines; the
// filesystem itself is the synchronization point (atomic rename for
// writes, directory listing for reads).
type Store struct {
	root string
}

// NewStore creates a Store rooted at controlPath, creating the
// directory if it does not already exist.
func NewStore(controlPath string) (*Store, error) {
	if err := os.MkdirAll(controlPath, 0o755); err != nil {
		return nil, NewError(CodeSaveFailed, "create control root", "", err)
	}
	return &Store{root: controlPath}, nil
}

// Root returns the control root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) dir(id string) string { return filepath.Join(s.root, id) }

// Paths returns the well-known paths inside a session's directory
// without checking whether the directory exists.
func (s *Store) Paths(id string) Paths {
	d := s.dir(id)
	return Paths{
		Dir:          d,
		InfoFile:     filepath.Join(d, "session.json"),
		Recording:    filepath.Join(d, "stdout"),
		Stdin:        filepath.Join(d, "stdin"),
		InputSocket:  filepath.Join(d, "input.sock"),
		Control:      filepath.Join(d, "control"),
		ActivityFile: filepath.Join(d, "activity.json"),
	}
}

// CreateDirectory idempotently creates the session directory and its
// stdin FIFO (falling back to a regular file where mkfifo is
// unavailable), returning the absolute paths.
func (s *Store) CreateDirectory(id string) (Paths, error) {
	paths := s.Paths(id)
	if err := os.MkdirAll(paths.Dir, 0o755); err != nil {
		return Paths{}, NewError(CodeSaveFailed, "create session directory", id, err)
	}
	if _, err := os.Stat(paths.Stdin); os.IsNotExist(err) {
		if err := createStdinFIFO(paths.Stdin); err != nil {
			logger.Warn("session: stdin fifo fallback to regular file", "session", id, "err", err)
			if f, ferr := os.OpenFile(paths.Stdin, os.O_CREATE|os.O_WRONLY, 0o600); ferr == nil {
				f.Close()
			}
		}
	}
	return paths, nil
}

// SaveInfo writes session.json atomically: write to a temp file in the
// same directory, then rename over the target. A reader never observes
// a partially-written file.
func (s *Store) SaveInfo(id string, info *Info) error {
	paths := s.Paths(id)
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return NewError(CodeSaveFailed, "marshal session info", id, err)
	}
	tmp := paths.InfoFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return NewError(CodeSaveFailed, "write temp session info", id, err)
	}
	if err := os.Rename(tmp, paths.InfoFile); err != nil {
		os.Remove(tmp)
		return NewError(CodeSaveFailed, "rename session info", id, err)
	}
	return nil
}

// LoadInfo returns the session's info, or (nil, nil) if no
// session.json exists. A corrupted file is logged and treated as
// "session unknown" rather than propagated as an error — enumeration
// must never crash on one bad entry.
func (s *Store) LoadInfo(id string) (*Info, error) {
	paths := s.Paths(id)
	data, err := os.ReadFile(paths.InfoFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, NewError(CodeSessionPathsMissing, "read session info", id, err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		logger.Warn("session: corrupted session.json, treating as unknown", "session", id, "err", err)
		return nil, nil
	}
	return &info, nil
}

// UpdateStatus loads, mutates, and saves a session's status fields.
func (s *Store) UpdateStatus(id, status string, pid *int, exitCode *int) error {
	info, err := s.LoadInfo(id)
	if err != nil {
		return err
	}
	if info == nil {
		return NewError(CodeSessionNotFound, "session not found", id, nil)
	}
	info.Status = status
	if pid != nil {
		info.PID = *pid
	}
	if exitCode != nil {
		info.ExitCode = exitCode
	}
	return s.SaveInfo(id, info)
}

// List enumerates every session directory under the control root,
// sweeping "running" sessions whose pid is no longer alive to
// "exited" with exitCode=1 (the zombie sweep), and returns them
// sorted by StartedAt descending.
func (s *Store) List() ([]*Info, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, NewError(CodeListFailed, "read control root", "", err)
	}

	sessions := make([]*Info, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		info, err := s.LoadInfo(id)
		if err != nil || info == nil {
			continue
		}
		if info.Status == StatusRunning && !processAlive(info.PID) {
			exitCode := 1
			info.Status = StatusExited
			info.ExitCode = &exitCode
			if saveErr := s.SaveInfo(id, info); saveErr != nil {
				logger.Warn("session: zombie sweep save failed", "session", id, "err", saveErr)
			}
		}
		if stat, err := os.Stat(s.Paths(id).Recording); err == nil {
			info.LastModified = stat.ModTime()
		}
		sessions = append(sessions, info)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
	return sessions, nil
}

// Get returns a single session's info joined with the recording
// file's mtime as LastModified.
func (s *Store) Get(id string) (*Info, error) {
	info, err := s.LoadInfo(id)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, NewError(CodeSessionNotFound, "session not found", id, nil)
	}
	if stat, err := os.Stat(s.Paths(id).Recording); err == nil {
		info.LastModified = stat.ModTime()
	}
	return info, nil
}

// Cleanup removes a session's directory. Cleaning up a session that
// does not exist is a no-op — removing an absent directory succeeds.
func (s *Store) Cleanup(id string) error {
	if err := os.RemoveAll(s.dir(id)); err != nil {
		return NewError(CodeCleanupFailed, "remove session directory", id, err)
	}
	return nil
}

// CleanupExited removes every session currently in the exited state
// and returns the ids removed.
func (s *Store) CleanupExited() ([]string, error) {
	sessions, err := s.List()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, info := range sessions {
		if info.Status != StatusExited {
			continue
		}
		if err := s.Cleanup(info.ID); err != nil {
			logger.Warn("session: cleanup-exited failed for one session", "session", info.ID, "err", err)
			continue
		}
		removed = append(removed, info.ID)
	}
	return removed, nil
}

// Exists reports whether a session directory is present on disk.
func (s *Store) Exists(id string) bool {
	_, err := os.Stat(s.dir(id))
	return err == nil
}
