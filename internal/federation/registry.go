// Package federation implements C7: the HQ-mode remote registry and
// buffer aggregator, and the remote-mode HQ client that registers
// this instance and forwards session-change notifications.
package federation

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/vibetunnel-go/vibetunneld/internal/logger"
)

// Remote is one federated vibetunneld instance registered with this
// HQ.
type Remote struct {
	ID    string
	Name  string
	URL   string
	Token string
}

// healthCheckInterval and healthCheckTimeout bound how often and how
// long a remote's health probe may take.
const (
	healthCheckInterval = 15 * time.Second
	healthCheckTimeout  = 5 * time.Second
)

// ErrDuplicateName is returned by Register when a remote with the
// same name is already registered.
var ErrDuplicateName = fmt.Errorf("federation: remote name already registered")

// Registry is the HQ's view of every remote instance and which
// session ids each one owns.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*Remote
	byName   map[string]*Remote
	owner    map[string]string // sessionID -> remote id
	client   *http.Client
	shutdown bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Remote),
		byName: make(map[string]*Remote),
		owner:  make(map[string]string),
		client: &http.Client{Timeout: healthCheckTimeout},
	}
}

// Register adds a remote, rejecting a duplicate name, then runs an
// immediate health check — a remote that fails its first check is
// unregistered again and Register returns an error.
func (r *Registry) Register(remote *Remote) error {
	r.mu.Lock()
	if _, exists := r.byName[remote.Name]; exists {
		r.mu.Unlock()
		return ErrDuplicateName
	}
	r.byID[remote.ID] = remote
	r.byName[remote.Name] = remote
	r.mu.Unlock()

	if !r.healthCheck(remote) {
		r.Unregister(remote.ID)
		return fmt.Errorf("federation: remote %s failed initial health check", remote.Name)
	}
	return nil
}

// Unregister removes a remote and clears every session mapping it owned.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	remote, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.byName, remote.Name)
	for sessionID, ownerID := range r.owner {
		if ownerID == id {
			delete(r.owner, sessionID)
		}
	}
}

// GetByName returns the remote registered under name, if any — used
// by the refresh-sessions endpoint, which is addressed by remote name
// rather than id.
func (r *Registry) GetByName(name string) (*Remote, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	remote, ok := r.byName[name]
	return remote, ok
}

// AddSession records that remote id now owns sessionID, on top of
// whatever it already owned — used for the incremental
// refresh-sessions notification, as opposed to UpdateSessions' full
// replacement.
func (r *Registry) AddSession(id, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owner[sessionID] = id
}

// GetBySessionID returns the remote that owns sessionID, if any.
func (r *Registry) GetBySessionID(sessionID string) (*Remote, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.owner[sessionID]
	if !ok {
		return nil, false
	}
	remote, ok := r.byID[id]
	return remote, ok
}

// UpdateSessions atomically replaces the set of sessions a remote owns.
func (r *Registry) UpdateSessions(id string, sessionIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sessionID, ownerID := range r.owner {
		if ownerID == id {
			delete(r.owner, sessionID)
		}
	}
	for _, sessionID := range sessionIDs {
		r.owner[sessionID] = id
	}
}

// ClearSession removes a single session mapping, used when the
// control-dir watcher observes a removed session that belonged to a
// remote.
func (r *Registry) ClearSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owner, sessionID)
}

func (r *Registry) healthCheck(remote *Remote) bool {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remote.URL+"/api/health", nil)
	if err != nil {
		return false
	}
	if remote.Token != "" {
		req.Header.Set("Authorization", "Bearer "+remote.Token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// RunHealthChecks periodically health-checks every registered remote
// in parallel, unregistering any that fails, until ctx is done.
// Health checking is skipped entirely while Shutdown has been called.
func (r *Registry) RunHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkAll()
		}
	}
}

func (r *Registry) checkAll() {
	r.mu.RLock()
	if r.shutdown {
		r.mu.RUnlock()
		return
	}
	remotes := make([]*Remote, 0, len(r.byID))
	for _, remote := range r.byID {
		remotes = append(remotes, remote)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, remote := range remotes {
		wg.Add(1)
		go func(remote *Remote) {
			defer wg.Done()
			if !r.healthCheck(remote) {
				logger.Warn("federation: remote failed health check, unregistering", "remote", remote.Name)
				r.Unregister(remote.ID)
			}
		}(remote)
	}
	wg.Wait()
}

// Shutdown stops future health checks from running.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()
}
