// Package daemon implements the Router Daemon (spec §4.3, component
// C3): the single host-wide process that multiplexes many MCP Helper
// connections onto one browser-extension WebSocket uplink, routing
// REQUEST/RESPONSE frames by session.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/browserbridge/bridge/internal/codec"
	"github.com/browserbridge/bridge/internal/config"
	"github.com/browserbridge/bridge/internal/correlation"
	"github.com/browserbridge/bridge/internal/protocol"
	"github.com/browserbridge/bridge/internal/telemetry"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const requestDeadline = 30 * time.Second

// Daemon is the Router Daemon. Its session table and pending table are
// actor-private per spec §5/§9: only the daemon's own goroutines touch
// them, and every mutation happens inside one of the table types' own
// locks so a mutation is always left consistent before a callback yields.
type Daemon struct {
	cfg *config.Config
	log zerolog.Logger

	sessions *sessionTable
	pending  *correlation.Table
	ext      *extensionLink

	helperListener net.Listener
	httpServer     *http.Server

	ctx    context.Context
	cancel context.CancelFunc

	idleMu    sync.Mutex
	idleTimer *time.Timer

	shutdownOnce sync.Once
}

// New constructs a Daemon that has not yet started listening.
func New(cfg *config.Config, log zerolog.Logger) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = config.DefaultMaxSessions
	}
	return &Daemon{
		cfg:      cfg,
		log:      log,
		sessions: newSessionTable(maxSessions),
		pending:  correlation.New(),
		ext:      &extensionLink{},
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Run starts both listeners, blocks handling signals, and returns once
// the daemon has fully shut down (idle timeout, signal, or bind error).
func (d *Daemon) Run() error {
	if err := d.listenHelpers(); err != nil {
		return fmt.Errorf("daemon: helper listener: %w", err)
	}
	if err := d.listenExtension(); err != nil {
		return fmt.Errorf("daemon: extension listener: %w", err)
	}

	if err := os.WriteFile(d.cfg.PIDPath(), []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		d.log.Warn().Err(err).Msg("failed to write PID file")
	}

	go d.acceptHelpers()
	go d.watchSocket()
	d.armIdleTimer()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		d.log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-d.ctx.Done():
	}
	d.Shutdown()
	return nil
}

func (d *Daemon) listenHelpers() error {
	path := d.cfg.SocketPath()
	os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	os.Chmod(path, 0o600)
	d.helperListener = l
	d.log.Info().Str("socket", path).Msg("listening for helper connections")
	return nil
}

// watchSocket detects the helper socket being removed out-of-band
// (an operator cleaning up a stale file, a misbehaving script) and
// shuts the daemon down rather than continuing to run undiscoverable:
// IsRunning's dial probe only catches this for the *next* caller, not
// for the daemon itself.
func (d *Daemon) watchSocket() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.log.Warn().Err(err).Msg("failed to start socket watcher")
		return
	}
	defer watcher.Close()

	path := d.cfg.SocketPath()
	dir := filepath.Dir(path)
	name := filepath.Base(path)

	if err := watcher.Add(dir); err != nil {
		d.log.Warn().Err(err).Str("dir", dir).Msg("failed to watch socket directory")
		return
	}

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				d.log.Warn().Str("socket", path).Msg("helper socket removed out-of-band, shutting down")
				d.cancel()
				return
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.log.Warn().Err(err).Msg("socket watcher error")
		}
	}
}

func (d *Daemon) listenExtension() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", d.handleExtensionUpgrade)
	d.httpServer = &http.Server{Addr: d.cfg.WSAddr(), Handler: mux}

	ln, err := net.Listen("tcp", d.cfg.WSAddr())
	if err != nil {
		return err
	}
	d.log.Info().Str("addr", d.cfg.WSAddr()).Msg("listening for extension WebSocket uplink")
	go func() {
		if err := d.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			d.log.Error().Err(err).Msg("extension listener stopped")
		}
	}()
	return nil
}

func (d *Daemon) handleExtensionUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Warn().Err(err).Msg("extension WS upgrade failed")
		return
	}
	old := d.ext.set(conn)
	if old != nil {
		d.log.Warn().Msg("new extension connection replaced an existing one")
		old.Close()
	}
	d.log.Info().Msg("extension connected")
	go d.readExtensionLoop(conn)
}

// readExtensionLoop processes RESPONSE frames from the extension until
// the WS closes, at which point every pending entry is aborted (spec
// §4.3 "Extension-uplink loss") but all sessions are retained per the
// Open Question decision recorded in SPEC_FULL.md/DESIGN.md.
func (d *Daemon) readExtensionLoop(conn *websocket.Conn) {
	defer func() {
		d.ext.clearIfCurrent(conn)
		conn.Close()
		d.log.Info().Msg("extension disconnected; aborting in-flight requests")
		d.pending.AbortAll(protocol.ErrExtensionLost.Error())
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			d.log.Warn().Err(err).Msg("malformed frame from extension")
			continue
		}
		d.handleExtensionFrame(env)
	}
}

func (d *Daemon) handleExtensionFrame(env protocol.Envelope) {
	switch env.Kind {
	case protocol.KindResponse:
		var errMsg string
		if !env.OK {
			errMsg = env.Error
		}
		completed := d.pending.Complete(env.ReqID, correlation.Result{OK: env.OK, Data: env.Data, Error: errMsg})
		if !completed {
			d.log.Debug().Str("reqId", env.ReqID).Msg("dropping response for unknown or already-resolved request")
			return
		}
		if env.SessionID != "" {
			d.sessions.touch(env.SessionID)
		}
	default:
		d.log.Debug().Str("kind", string(env.Kind)).Msg("ignoring unexpected frame from extension")
	}
}

func (d *Daemon) acceptHelpers() {
	for {
		conn, err := d.helperListener.Accept()
		if err != nil {
			select {
			case <-d.ctx.Done():
				return
			default:
				d.log.Warn().Err(err).Msg("accept error")
				continue
			}
		}
		go d.handleHelper(conn)
	}
}

func (d *Daemon) handleHelper(conn net.Conn) {
	dec := codec.NewDecoder(conn)
	enc := codec.NewEncoder(conn)
	var sess *session

	defer func() {
		conn.Close()
		if sess != nil {
			d.terminateSession(sess.id)
		}
	}()

	for {
		env, err := dec.Decode()
		if err != nil {
			if err == protocol.ErrBufferOverflow {
				d.log.Warn().Msg("helper connection exceeded max buffer size, dropping")
			}
			return
		}

		switch env.Kind {
		case protocol.KindRegister:
			sess = d.handleRegister(conn, enc)
			if sess == nil {
				// REGISTER_ERROR already sent; spec §4.3 says close.
				return
			}

		case protocol.KindRequest:
			if sess == nil || env.SessionID != sess.id {
				enc.Encode(protocol.NewResponse(env.ReqID, env.SessionID, false, nil, protocol.ErrUnknownSession.Error()))
				continue
			}
			d.handleRequest(sess, env)

		case protocol.KindPing:
			if sess != nil {
				d.sessions.touch(sess.id)
			}
			enc.Encode(protocol.Envelope{Kind: protocol.KindPong})

		case protocol.KindStatus:
			enc.Encode(protocol.Envelope{
				Kind:               protocol.KindStatusOK,
				ExtensionConnected: d.ext.connected(),
				ActiveSessions:     d.sessions.count(),
			})

		case protocol.KindDisconnect:
			if sess != nil && env.SessionID == sess.id {
				d.terminateSession(sess.id)
				sess = nil
			}

		default:
			d.log.Debug().Str("kind", string(env.Kind)).Msg("daemon never forwards unknown message types")
		}
	}
}

func (d *Daemon) handleRegister(conn net.Conn, enc *codec.Encoder) *session {
	id := "sess_" + uuid.NewString()
	s := &session{id: id, conn: conn, enc: enc, createdAt: time.Now(), lastActiveAt: time.Now()}

	if !d.sessions.tryAdd(s) {
		enc.Encode(protocol.Envelope{Kind: protocol.KindRegisterError, Error: protocol.ErrSessionLimitReached.Error()})
		d.log.Warn().Msg("session limit reached, rejecting REGISTER")
		return nil
	}

	d.cancelIdleTimer()
	if err := d.ext.send(protocol.Envelope{Kind: protocol.KindSessionStart, SessionID: id}); err != nil {
		d.log.Debug().Str("sessionId", id).Msg("extension not connected; SESSION_START not delivered")
	}
	enc.Encode(protocol.Envelope{Kind: protocol.KindRegisterOK, SessionID: id})
	d.log.Info().Str("sessionId", id).Msg("session registered")
	return s
}

func (d *Daemon) handleRequest(sess *session, env protocol.Envelope) {
	d.sessions.touch(sess.id)
	d.log.Debug().
		Str("sessionId", sess.id).
		Str("reqId", env.ReqID).
		Str("action", env.Action).
		Str("params", telemetry.TruncateParams(env.Params, 256)).
		Msg("routing request")

	if !d.ext.connected() {
		sess.enc.Encode(protocol.NewResponse(env.ReqID, sess.id, false, nil, protocol.ErrExtensionNotConnected.Error()))
		return
	}

	ch, err := d.pending.Register(env.ReqID, requestDeadline)
	if err != nil {
		sess.enc.Encode(protocol.NewResponse(env.ReqID, sess.id, false, nil, err.Error()))
		return
	}

	if err := d.ext.send(env); err != nil {
		d.pending.Complete(env.ReqID, correlation.Result{})
		sess.enc.Encode(protocol.NewResponse(env.ReqID, sess.id, false, nil, protocol.ErrExtensionNotConnected.Error()))
		return
	}

	go func() {
		result := <-ch
		sess.enc.Encode(protocol.NewResponse(env.ReqID, sess.id, result.OK, result.Data, result.Error))
	}()
}

// terminateSession implements spec §4.3 "Session termination": remove
// the session, abort its in-flight requests, notify the extension.
func (d *Daemon) terminateSession(id string) {
	if _, ok := d.sessions.remove(id); !ok {
		return
	}
	d.pending.AbortMatching(func(reqID string) bool {
		return sessionIDFromReqID(reqID) == id
	}, "session ended")
	d.ext.send(protocol.Envelope{Kind: protocol.KindSessionEnd, SessionID: id})
	d.log.Info().Str("sessionId", id).Msg("session terminated")

	if d.sessions.count() == 0 {
		d.armIdleTimer()
	}
}

// sessionIDFromReqID extracts the sessionId prefix of a "${sessionId}:${counter}"
// reqId (spec's GLOSSARY definition of reqId).
func sessionIDFromReqID(reqID string) string {
	for i := len(reqID) - 1; i >= 0; i-- {
		if reqID[i] == ':' {
			return reqID[:i]
		}
	}
	return reqID
}

func (d *Daemon) armIdleTimer() {
	d.idleMu.Lock()
	defer d.idleMu.Unlock()
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	idle := d.cfg.IdleTimeout
	if idle <= 0 {
		idle = config.DefaultIdleTimeout
	}
	d.idleTimer = time.AfterFunc(idle, func() {
		if d.sessions.count() == 0 {
			d.log.Info().Msg("idle timeout reached with zero sessions, shutting down")
			d.cancel()
		}
	})
}

func (d *Daemon) cancelIdleTimer() {
	d.idleMu.Lock()
	defer d.idleMu.Unlock()
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
}

// Shutdown closes listeners and removes on-disk state in the order
// spec §5 prescribes: stop accepting new helpers, abort pending
// entries, close extension WS, close listener, remove socket and PID file.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() {
		d.log.Info().Msg("shutting down")
		d.cancel()

		if d.helperListener != nil {
			d.helperListener.Close()
		}

		for _, s := range d.sessions.snapshot() {
			d.terminateSessionDuringShutdown(s.id)
		}

		if conn := d.ext.get(); conn != nil {
			conn.Close()
		}
		if d.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			d.httpServer.Shutdown(ctx)
		}

		os.Remove(d.cfg.SocketPath())
		os.Remove(d.cfg.PIDPath())
	})
}

func (d *Daemon) terminateSessionDuringShutdown(id string) {
	if _, ok := d.sessions.remove(id); !ok {
		return
	}
	d.pending.AbortMatching(func(reqID string) bool {
		return sessionIDFromReqID(reqID) == id
	}, "daemon shutting down")
	d.ext.send(protocol.Envelope{Kind: protocol.KindSessionEnd, SessionID: id})
}

// IsRunning reports whether a daemon is already listening on cfg's socket.
func IsRunning(cfg *config.Config) bool {
	path := cfg.SocketPath()
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		os.Remove(path)
		return false
	}
	conn.Close()
	return true
}
