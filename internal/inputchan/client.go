package inputchan

import (
	"fmt"
	"net"
	"sync"
)

// ClientPool caches one outgoing connection per session's input
// socket and reconnects lazily on disconnect, so repeated sendInput
// calls stay in the single-digit-millisecond range.
type ClientPool struct {
	mu    sync.Mutex
	conns map[string]net.Conn
}

// NewClientPool creates an empty pool.
func NewClientPool() *ClientPool {
	return &ClientPool{conns: make(map[string]net.Conn)}
}

// Write sends data to the session's input socket at path, reusing a
// cached connection when available.
func (p *ClientPool) Write(sessionID, path string, data []byte) error {
	p.mu.Lock()
	conn := p.conns[sessionID]
	p.mu.Unlock()

	if conn != nil {
		if _, err := conn.Write(data); err == nil {
			return nil
		}
		p.Drop(sessionID)
	}

	newConn, err := net.Dial("unix", path)
	if err != nil {
		return fmt.Errorf("inputchan: dial input socket: %w", err)
	}
	if _, err := newConn.Write(data); err != nil {
		newConn.Close()
		return fmt.Errorf("inputchan: write input socket: %w", err)
	}

	p.mu.Lock()
	p.conns[sessionID] = newConn
	p.mu.Unlock()
	return nil
}

// Drop closes and forgets the cached connection for a session, if any.
func (p *ClientPool) Drop(sessionID string) {
	p.mu.Lock()
	conn := p.conns[sessionID]
	delete(p.conns, sessionID)
	p.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
