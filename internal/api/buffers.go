package api

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vibetunnel-go/vibetunneld/internal/federation"
	"github.com/vibetunnel-go/vibetunneld/internal/logger"
	"github.com/vibetunnel-go/vibetunneld/internal/streamwatch"
)

type bufferHandler struct {
	streams    *streamwatch.Manager
	local      federation.LocalSource
	aggregator *federation.Aggregator
	hqMode     bool
}

var bufferUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type bufferControlMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
}

// handle upgrades to a /buffers WebSocket. In HQ mode, the connection
// is handed to the federation Aggregator, which can route a subscribe
// to either a local session or a remote's forwarded stream. Otherwise
// a direct subscription against the local Stream Watcher is enough —
// there is no remote session to route to.
func (h *bufferHandler) handle(c *gin.Context) {
	conn, err := bufferUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("api: buffers websocket upgrade failed", "err", err)
		return
	}

	if h.hqMode && h.aggregator != nil {
		h.aggregator.HandleConnection(conn)
		return
	}
	h.serveLocalOnly(conn)
}

// localConn serializes every write to one client's WebSocket. The
// subscribe/unsubscribe/ping loop and the per-session relayFrames
// goroutines all write through it — gorilla/websocket allows only one
// concurrent writer per connection.
type localConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (lc *localConn) writeJSON(msg bufferControlMessage) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.conn.WriteJSON(msg)
}

func (lc *localConn) writeBinary(data []byte) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.conn.WriteMessage(websocket.BinaryMessage, data)
}

// serveLocalOnly implements the same subscribe/unsubscribe/ping
// protocol as the aggregator but against the Stream Watcher directly,
// for instances that are not running as an HQ.
func (h *bufferHandler) serveLocalOnly(conn *websocket.Conn) {
	defer conn.Close()
	lc := &localConn{conn: conn}
	lc.writeJSON(bufferControlMessage{Type: "connected"})

	subs := make(map[string]func())
	defer func() {
		for _, unsub := range subs {
			unsub()
		}
	}()

	for {
		var msg bufferControlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "subscribe":
			if _, exists := subs[msg.SessionID]; exists {
				continue
			}
			path, ok := h.local.RecordingPath(msg.SessionID)
			if !ok {
				lc.writeJSON(bufferControlMessage{Type: "error", SessionID: msg.SessionID})
				continue
			}
			frames, unsub, err := h.streams.Subscribe(msg.SessionID, path)
			if err != nil {
				lc.writeJSON(bufferControlMessage{Type: "error", SessionID: msg.SessionID})
				continue
			}
			subs[msg.SessionID] = unsub
			go relayFrames(lc, msg.SessionID, frames)
			lc.writeJSON(bufferControlMessage{Type: "subscribed", SessionID: msg.SessionID})
		case "unsubscribe":
			if unsub, ok := subs[msg.SessionID]; ok {
				unsub()
				delete(subs, msg.SessionID)
			}
		case "ping":
			lc.writeJSON(bufferControlMessage{Type: "pong"})
		}
	}
}

func relayFrames(lc *localConn, sessionID string, frames <-chan streamwatch.Frame) {
	for frame := range frames {
		if err := lc.writeBinary(streamwatch.EncodeBufferFrame(sessionID, []byte(frame.Data))); err != nil {
			return
		}
	}
}
