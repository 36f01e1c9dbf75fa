// Package inputchan implements the Input Channel (a per-session local
// stream socket for low-latency keystrokes) and the Control Channel
// (a JSON-lines file for resize/kill/reset-size commands to an
// externally-owned session).
package inputchan

import (
	"net"
	"os"
	"sync"

	"github.com/vibetunnel-go/vibetunneld/internal/logger"
)

// Server accepts input.sock connections for one session and forwards
// every received byte to onData. NewServer does not check for another
// server on the same path: it removes any existing socket file and
// binds anew, so callers keep one instance per live session.
type Server struct {
	listener net.Listener
	path     string
	onData   func([]byte)
	wg       sync.WaitGroup
	closeCh  chan struct{}
}

// NewServer binds path as a Unix domain socket, chmods it
// world-writable (clients are trusted by filesystem access to the
// session directory), and begins accepting connections in the
// background. Returns nil, nil when skipSocket is set (test
// environments skip socket creation to avoid path-length limits,
// falling back to FIFO-only input).
func NewServer(path string, skipSocket bool, onData func([]byte)) (*Server, error) {
	if skipSocket {
		return nil, nil
	}
	os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o777); err != nil {
		logger.Warn("inputchan: chmod input socket failed", "path", path, "err", err)
	}
	s := &Server{listener: l, path: path, onData: onData, closeCh: make(chan struct{})}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
				logger.Warn("inputchan: accept failed", "path", s.path, "err", err)
				return
			}
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.onData(data)
		}
		if err != nil {
			return
		}
	}
}

// Close stops accepting new connections and waits for in-flight ones
// to finish.
func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	close(s.closeCh)
	err := s.listener.Close()
	s.wg.Wait()
	os.Remove(s.path)
	return err
}
