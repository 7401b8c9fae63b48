package daemon

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/browserbridge/bridge/internal/protocol"
	"github.com/gorilla/websocket"
)

// extensionLink wraps the single WebSocket uplink to the side panel
// (spec §4.3: "one WS uplink to extension"). Reads and writes are one
// JSON object per WS text frame — WebSocket framing already delimits
// messages, so unlike the helper IPC hop this link needs no newline
// codec of its own.
type extensionLink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The extension connects from the same machine; no browser Origin
	// check is meaningful for a loopback automation link.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (l *extensionLink) set(conn *websocket.Conn) *websocket.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	old := l.conn
	l.conn = conn
	return old
}

func (l *extensionLink) get() *websocket.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

func (l *extensionLink) connected() bool {
	return l.get() != nil
}

// clearIfCurrent removes conn from the link only if it is still the
// active connection, so a superseded connection's read-loop teardown
// can't clobber a newer one that already replaced it.
func (l *extensionLink) clearIfCurrent(conn *websocket.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == conn {
		l.conn = nil
	}
}

// send writes env as a single WS text frame. Safe for concurrent callers.
func (l *extensionLink) send(env protocol.Envelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return protocol.ErrExtensionNotConnected
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return l.conn.WriteMessage(websocket.TextMessage, data)
}
