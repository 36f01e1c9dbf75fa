package activity

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/vibetunnel-go/vibetunneld/internal/logger"
)

// pollInterval and inactivityWindow: poll every 100ms, mark a session
// inactive once its recording stops growing for 500ms.
const (
	pollInterval     = 100 * time.Millisecond
	inactivityWindow = 500 * time.Millisecond
)

// State is the JSON shape written to a session's activity.json.
type State struct {
	Active         bool      `json:"active"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

type tracked struct {
	recordingPath string
	activityPath  string
	lastSize      int64
	lastGrowthAt  time.Time
	active        bool
}

// Monitor polls every tracked session's recording file for size
// growth and persists an active/inactive verdict to activity.json.
type Monitor struct {
	mu       sync.Mutex
	sessions map[string]*tracked
}

// NewMonitor creates an empty Monitor.
func NewMonitor() *Monitor {
	return &Monitor{sessions: make(map[string]*tracked)}
}

// Track begins polling a session's recording file.
func (m *Monitor) Track(sessionID, recordingPath, activityPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = &tracked{
		recordingPath: recordingPath,
		activityPath:  activityPath,
		lastGrowthAt:  time.Now(),
	}
}

// Untrack stops polling a session, e.g. after it exits.
func (m *Monitor) Untrack(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Run polls every tracked session at pollInterval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollAll()
		}
	}
}

func (m *Monitor) pollAll() {
	m.mu.Lock()
	snapshot := make([]*tracked, 0, len(m.sessions))
	for _, t := range m.sessions {
		snapshot = append(snapshot, t)
	}
	m.mu.Unlock()

	now := time.Now()
	for _, t := range snapshot {
		m.pollOne(t, now)
	}
}

func (m *Monitor) pollOne(t *tracked, now time.Time) {
	stat, err := os.Stat(t.recordingPath)
	if err != nil {
		return
	}

	grew := stat.Size() > t.lastSize
	if grew {
		t.lastSize = stat.Size()
		t.lastGrowthAt = now
	}

	wasActive := t.active
	t.active = now.Sub(t.lastGrowthAt) < inactivityWindow
	if t.active == wasActive && !grew {
		return
	}
	writeState(t.activityPath, State{Active: t.active, LastActivityAt: t.lastGrowthAt})
}

func writeState(path string, state State) {
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logger.Warn("activity: write state failed", "path", path, "err", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		logger.Warn("activity: rename state failed", "path", path, "err", err)
	}
}
