package federation

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// WSDialer implements Aggregator's RemoteDialer by opening an
// outgoing /buffers WebSocket to a remote, authenticated with its
// bearer token.
type WSDialer struct{}

// DialBuffers connects to remote.URL's /buffers endpoint, rewriting
// an http(s) URL to ws(s) as needed.
func (WSDialer) DialBuffers(remote *Remote) (*websocket.Conn, error) {
	url := remote.URL + "/buffers"
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}

	header := http.Header{}
	if remote.Token != "" {
		header.Set("Authorization", "Bearer "+remote.Token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsConnectTimeout}
	conn, _, err := dialer.Dial(url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
