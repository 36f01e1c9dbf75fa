package federation

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vibetunnel-go/vibetunneld/internal/logger"
	"github.com/vibetunnel-go/vibetunneld/internal/streamwatch"
)

// controlMessage is the JSON shape exchanged on the buffers
// WebSocket alongside binary buffer frames.
type controlMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
}

// LocalSource resolves a session id to its recording file path when
// the session lives on this HQ instance directly.
type LocalSource interface {
	RecordingPath(sessionID string) (string, bool)
}

// RemoteDialer opens an outgoing buffers WebSocket to a remote, used
// when a subscribed session belongs to a different federated
// instance.
type RemoteDialer interface {
	DialBuffers(remote *Remote) (*websocket.Conn, error)
}

type clientConn struct {
	conn          *websocket.Conn
	mu            sync.Mutex
	subscriptions map[string]func()
}

// remoteUpstream is one outgoing connection to a remote's /buffers
// endpoint, shared by every client subscription that needs a session
// owned by that remote. A single goroutine reads it (gorilla/websocket
// connections allow exactly one concurrent reader); subscribers is the
// fan-out table that goroutine consults per frame.
type remoteUpstream struct {
	conn *websocket.Conn

	mu          sync.Mutex
	subscribers map[string]map[*clientConn]bool
}

func newRemoteUpstream(conn *websocket.Conn) *remoteUpstream {
	return &remoteUpstream{conn: conn, subscribers: make(map[string]map[*clientConn]bool)}
}

func (u *remoteUpstream) writeJSON(msg controlMessage) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.conn.WriteJSON(msg)
}

// addSubscriber registers c against sessionID and reports whether it
// is the first subscriber for that session on this upstream — the
// caller only needs to send an upstream "subscribe" the first time.
func (u *remoteUpstream) addSubscriber(sessionID string, c *clientConn) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	set, ok := u.subscribers[sessionID]
	if !ok {
		set = make(map[*clientConn]bool)
		u.subscribers[sessionID] = set
	}
	first := len(set) == 0
	set[c] = true
	return first
}

// removeSubscriber reports whether it removed the last subscriber for
// sessionID — the caller only needs to send an upstream "unsubscribe"
// once no client still wants that session.
func (u *remoteUpstream) removeSubscriber(sessionID string, c *clientConn) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	set, ok := u.subscribers[sessionID]
	if !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(u.subscribers, sessionID)
		return true
	}
	return false
}

func (u *remoteUpstream) fanOut(sessionID string, data []byte) {
	u.mu.Lock()
	targets := make([]*clientConn, 0, len(u.subscribers[sessionID]))
	for c := range u.subscribers[sessionID] {
		targets = append(targets, c)
	}
	u.mu.Unlock()
	for _, c := range targets {
		c.writeBinary(data)
	}
}

// Aggregator is the HQ's buffer aggregator: it accepts client WS
// connections and, per subscribe, either streams a local session
// through the Stream Watcher or relays an upstream remote connection.
type Aggregator struct {
	registry *Registry
	local    LocalSource
	streams  *streamwatch.Manager
	dialer   RemoteDialer

	mu      sync.Mutex
	clients map[*websocket.Conn]*clientConn
	// upstream caches one remoteUpstream per remote id so multiple
	// client subscriptions to the same remote share a single outgoing
	// connection and its single reader goroutine.
	upstream map[string]*remoteUpstream
}

// NewAggregator wires an Aggregator to the shared remote registry,
// stream watcher manager, and a way to resolve local recording paths.
func NewAggregator(registry *Registry, streams *streamwatch.Manager, local LocalSource, dialer RemoteDialer) *Aggregator {
	return &Aggregator{
		registry: registry,
		local:    local,
		streams:  streams,
		dialer:   dialer,
		clients:  make(map[*websocket.Conn]*clientConn),
		upstream: make(map[string]*remoteUpstream),
	}
}

// HandleConnection takes ownership of a newly-upgraded client
// WebSocket and services it until it disconnects.
func (a *Aggregator) HandleConnection(conn *websocket.Conn) {
	c := &clientConn{conn: conn, subscriptions: make(map[string]func())}
	a.mu.Lock()
	a.clients[conn] = c
	a.mu.Unlock()

	defer a.removeClient(c)

	for {
		var msg controlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "subscribe":
			a.subscribe(c, msg.SessionID)
		case "unsubscribe":
			a.unsubscribe(c, msg.SessionID)
		case "ping":
			c.writeJSON(controlMessage{Type: "pong"})
		default:
			logger.Warn("federation: unknown buffer control message", "type", msg.Type)
		}
	}
}

func (a *Aggregator) subscribe(c *clientConn, sessionID string) {
	c.mu.Lock()
	if _, exists := c.subscriptions[sessionID]; exists {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if path, ok := a.local.RecordingPath(sessionID); ok {
		if a.subscribeLocal(c, sessionID, path) {
			c.writeJSON(controlMessage{Type: "subscribed", SessionID: sessionID})
		}
		return
	}
	if remote, ok := a.registry.GetBySessionID(sessionID); ok {
		if a.subscribeRemote(c, sessionID, remote) {
			c.writeJSON(controlMessage{Type: "subscribed", SessionID: sessionID})
		}
		return
	}
	c.writeJSON(controlMessage{Type: "error", SessionID: sessionID})
}

func (a *Aggregator) subscribeLocal(c *clientConn, sessionID, path string) bool {
	frames, unsub, err := a.streams.Subscribe(sessionID, path)
	if err != nil {
		c.writeJSON(controlMessage{Type: "error", SessionID: sessionID})
		return false
	}

	c.mu.Lock()
	c.subscriptions[sessionID] = unsub
	c.mu.Unlock()

	go func() {
		for frame := range frames {
			c.writeBinary(streamwatch.EncodeBufferFrame(sessionID, []byte(frame.Data)))
		}
	}()
	return true
}

func (a *Aggregator) subscribeRemote(c *clientConn, sessionID string, remote *Remote) bool {
	upstream, err := a.upstreamConn(remote)
	if err != nil {
		c.writeJSON(controlMessage{Type: "error", SessionID: sessionID})
		return false
	}

	first := upstream.addSubscriber(sessionID, c)
	if first {
		if err := upstream.writeJSON(controlMessage{Type: "subscribe", SessionID: sessionID}); err != nil {
			upstream.removeSubscriber(sessionID, c)
			c.writeJSON(controlMessage{Type: "error", SessionID: sessionID})
			return false
		}
	}

	unsub := func() {
		if upstream.removeSubscriber(sessionID, c) {
			upstream.writeJSON(controlMessage{Type: "unsubscribe", SessionID: sessionID})
		}
	}
	c.mu.Lock()
	c.subscriptions[sessionID] = unsub
	c.mu.Unlock()

	return true
}

// upstreamConn returns the shared connection to remote, dialing and
// starting its single reader goroutine on first use.
func (a *Aggregator) upstreamConn(remote *Remote) (*remoteUpstream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if u, ok := a.upstream[remote.ID]; ok {
		return u, nil
	}
	if a.dialer == nil {
		return nil, fmt.Errorf("federation: no remote dialer configured")
	}
	conn, err := a.dialer.DialBuffers(remote)
	if err != nil {
		return nil, err
	}
	u := newRemoteUpstream(conn)
	a.upstream[remote.ID] = u
	go a.readUpstream(remote.ID, u)
	return u, nil
}

// readUpstream is the single reader goroutine for one remote
// connection: it decodes each binary frame and fans it out to every
// client currently subscribed to that frame's session. It exits and
// drops the cached connection when the read fails, so the next
// subscribe redials.
func (a *Aggregator) readUpstream(remoteID string, u *remoteUpstream) {
	for {
		msgType, data, err := u.conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			if a.upstream[remoteID] == u {
				delete(a.upstream, remoteID)
			}
			a.mu.Unlock()
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		id, _, err := streamwatch.DecodeBufferFrame(data)
		if err != nil {
			continue
		}
		u.fanOut(id, data)
	}
}

func (a *Aggregator) unsubscribe(c *clientConn, sessionID string) {
	c.mu.Lock()
	unsub, ok := c.subscriptions[sessionID]
	if ok {
		delete(c.subscriptions, sessionID)
	}
	c.mu.Unlock()
	if ok {
		unsub()
	}
}

func (a *Aggregator) removeClient(c *clientConn) {
	a.mu.Lock()
	delete(a.clients, c.conn)
	a.mu.Unlock()

	c.mu.Lock()
	for _, unsub := range c.subscriptions {
		unsub()
	}
	c.mu.Unlock()
	c.conn.Close()
}

func (c *clientConn) writeJSON(msg controlMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteJSON(msg)
}

func (c *clientConn) writeBinary(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteMessage(websocket.BinaryMessage, data)
}
