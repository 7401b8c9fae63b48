package helper

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/browserbridge/bridge/internal/codec"
	"github.com/browserbridge/bridge/internal/config"
	"github.com/browserbridge/bridge/internal/correlation"
	"github.com/browserbridge/bridge/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// routerLink is the helper's view of "whatever is on the other end of
// the router" — the daemon in daemon mode, or a directly connected
// extension in direct mode (spec §4.4 step 5: "the helper itself plays
// the role of daemon for exactly one session"). Both transports speak
// the same protocol.Envelope wire shape, so the tool-call path is
// identical either way.
type routerLink interface {
	send(env protocol.Envelope) error
	requestStatus(ctx context.Context) (protocol.Envelope, error)
	mode() string
	close()
}

// daemonLink is a stream-socket connection to the Router Daemon,
// framed with the newline codec (spec §4.1/§4.3).
type daemonLink struct {
	conn net.Conn
	enc  *codec.Encoder
	dec  *codec.Decoder

	mu            sync.Mutex
	statusWaiters []chan protocol.Envelope

	pending *correlation.Table
	log     zerolog.Logger
}

func dialDaemon(cfg *config.Config) (*daemonLink, error) {
	conn, err := net.DialTimeout("unix", cfg.SocketPath(), 2*time.Second)
	if err != nil {
		return nil, err
	}
	return &daemonLink{
		conn: conn,
		enc:  codec.NewEncoder(conn),
		dec:  codec.NewDecoder(conn),
	}, nil
}

func (l *daemonLink) attachPending(pending *correlation.Table, log zerolog.Logger) {
	l.pending = pending
	l.log = log
}

// readLoop dispatches RESPONSE/REGISTER_OK/REGISTER_ERROR/PONG/STATUS_OK
// frames; it is intended to run in its own goroutine for the lifetime
// of the connection.
func (l *daemonLink) readLoop(onRegisterOK func(string), onRegisterErr func(string)) {
	for {
		env, err := l.dec.Decode()
		if err != nil {
			if l.pending != nil {
				l.pending.AbortAll(protocol.ErrDaemonNotConnected.Error())
			}
			return
		}

		switch env.Kind {
		case protocol.KindRegisterOK:
			onRegisterOK(env.SessionID)
		case protocol.KindRegisterError:
			onRegisterErr(env.Error)
		case protocol.KindResponse:
			if l.pending != nil {
				l.pending.Complete(env.ReqID, correlation.Result{OK: env.OK, Data: env.Data, Error: env.Error})
			}
		case protocol.KindStatusOK:
			l.dispatchStatus(env)
		case protocol.KindPong:
			// no-op; PING is only used to keep lastActiveAt fresh.
		default:
			l.log.Debug().Str("kind", string(env.Kind)).Msg("helper ignoring unexpected frame")
		}
	}
}

// dispatchStatus hands a STATUS_OK frame to the oldest outstanding
// requestStatus caller. STATUS_OK carries no reqId (the daemon treats
// it as a cheap, unkeyed poll — spec §4.3), so callers are matched
// strictly in request order.
func (l *daemonLink) dispatchStatus(env protocol.Envelope) {
	l.mu.Lock()
	if len(l.statusWaiters) == 0 {
		l.mu.Unlock()
		return
	}
	ch := l.statusWaiters[0]
	l.statusWaiters = l.statusWaiters[1:]
	l.mu.Unlock()
	ch <- env
}

// requestStatus sends STATUS and waits for the next STATUS_OK.
func (l *daemonLink) requestStatus(ctx context.Context) (protocol.Envelope, error) {
	ch := make(chan protocol.Envelope, 1)
	l.mu.Lock()
	l.statusWaiters = append(l.statusWaiters, ch)
	l.mu.Unlock()

	if err := l.send(protocol.Envelope{Kind: protocol.KindStatus}); err != nil {
		return protocol.Envelope{}, err
	}

	select {
	case env := <-ch:
		return env, nil
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

func (l *daemonLink) send(env protocol.Envelope) error {
	return l.enc.Encode(env)
}

func (l *daemonLink) mode() string { return "daemon" }

func (l *daemonLink) close() { l.conn.Close() }

// directLink is the helper acting as its own single-session daemon: it
// listens for the extension's WebSocket directly (spec §4.4 step 5),
// accepting exactly one connection at a time (spec's Open Question (iii)
// decision: a second inbound connection closes the first, logged as a
// warning).
type directLink struct {
	log zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	server *http.Server

	pending *correlation.Table
}

var directUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func startDirectLink(cfg *config.Config, pending *correlation.Table, log zerolog.Logger) (*directLink, error) {
	d := &directLink{log: log, pending: pending}

	mux := http.NewServeMux()
	mux.HandleFunc("/", d.handleUpgrade)
	d.server = &http.Server{Addr: cfg.WSAddr(), Handler: mux}

	ln, err := net.Listen("tcp", cfg.WSAddr())
	if err != nil {
		return nil, err
	}
	go d.server.Serve(ln)
	return d, nil
}

func (d *directLink) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := directUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	d.mu.Lock()
	old := d.conn
	d.conn = conn
	d.mu.Unlock()

	if old != nil {
		d.log.Warn().Msg("a second extension connection replaced the first in direct mode")
		old.Close()
	}
	go d.readLoop(conn)
}

func (d *directLink) readLoop(conn *websocket.Conn) {
	defer func() {
		d.mu.Lock()
		if d.conn == conn {
			d.conn = nil
		}
		d.mu.Unlock()
		conn.Close()
		d.pending.AbortAll(protocol.ErrExtensionLost.Error())
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Kind == protocol.KindResponse {
			d.pending.Complete(env.ReqID, correlation.Result{OK: env.OK, Data: env.Data, Error: env.Error})
		}
	}
}

func (d *directLink) send(env protocol.Envelope) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return protocol.ErrExtensionNotConnected
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (d *directLink) extensionConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil
}

// requestStatus has no round trip in direct mode: the helper is its
// own daemon, so extensionConnected() is already authoritative.
func (d *directLink) requestStatus(ctx context.Context) (protocol.Envelope, error) {
	return protocol.Envelope{ExtensionConnected: d.extensionConnected(), ActiveSessions: 1}, nil
}

func (d *directLink) mode() string { return "direct" }

func (d *directLink) close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.server.Shutdown(ctx)
	d.mu.Lock()
	if d.conn != nil {
		d.conn.Close()
	}
	d.mu.Unlock()
}

func daemonDialable(cfg *config.Config) bool {
	conn, err := net.DialTimeout("unix", cfg.SocketPath(), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
