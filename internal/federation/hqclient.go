package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vibetunnel-go/vibetunneld/internal/logger"
)

// wsConnectTimeout bounds the outgoing buffer-aggregation WebSocket
// dial in WSDialer, and hqRequestTimeout bounds the plain HTTP
// registration/notification calls below.
const (
	wsConnectTimeout = 5 * time.Second
	hqRequestTimeout = 5 * time.Second
)

// HQClient is the remote-mode half of federation: it registers this
// instance with an HQ on startup, deregisters on shutdown, and
// forwards session-change notifications observed by the control-dir
// watcher.
type HQClient struct {
	hqURL      string
	hqUser     string
	hqPassword string

	id          string
	name        string
	selfURL     string
	bearerToken string

	client   *http.Client
	shutdown bool
}

// NewHQClient builds a client that will register id/name/selfURL/token
// with the given HQ using HQ basic-auth credentials.
func NewHQClient(hqURL, hqUser, hqPassword, id, name, selfURL, bearerToken string) *HQClient {
	return &HQClient{
		hqURL:       hqURL,
		hqUser:      hqUser,
		hqPassword:  hqPassword,
		id:          id,
		name:        name,
		selfURL:     selfURL,
		bearerToken: bearerToken,
		client:      &http.Client{Timeout: hqRequestTimeout},
	}
}

// Register posts this instance's details to the HQ.
func (c *HQClient) Register(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"id":    c.id,
		"name":  c.name,
		"url":   c.selfURL,
		"token": c.bearerToken,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.hqURL+"/api/remotes/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.hqUser != "" {
		req.SetBasicAuth(c.hqUser, c.hqPassword)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("federation: register with hq: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("federation: hq register returned %d", resp.StatusCode)
	}
	return nil
}

// Deregister best-effort notifies the HQ this instance is going away.
// Errors are logged, never returned — shutdown must not block on this.
func (c *HQClient) Deregister(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.hqURL+"/api/remotes/"+c.id, nil)
	if err != nil {
		logger.Warn("federation: build deregister request failed", "err", err)
		return
	}
	if c.hqUser != "" {
		req.SetBasicAuth(c.hqUser, c.hqPassword)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		logger.Warn("federation: deregister from hq failed", "err", err)
		return
	}
	resp.Body.Close()
}

// Shutdown marks this client as shutting down: NotifySessionChange
// calls after this are suppressed locally, matching the control-dir
// watcher's own shutdown suppression.
func (c *HQClient) Shutdown() {
	c.shutdown = true
}

// NotifySessionChange implements controldir.Notifier: it posts the
// observed create/delete to the HQ's refresh-sessions endpoint for
// this remote's name. A 503 (HQ shutting down) is ignored; any other
// failure is logged.
func (c *HQClient) NotifySessionChange(action, sessionID string) {
	if c.shutdown {
		return
	}
	body, err := json.Marshal(map[string]string{"action": action, "sessionId": sessionID})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), hqRequestTimeout)
	defer cancel()

	url := c.hqURL + "/api/remotes/" + c.name + "/refresh-sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		logger.Warn("federation: refresh-sessions notification failed", "action", action, "session", sessionID, "err", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusServiceUnavailable {
		return
	}
	if resp.StatusCode >= 300 {
		logger.Warn("federation: refresh-sessions notification rejected", "status", resp.StatusCode)
	}
}
