package daemon

import (
	"net"
	"testing"
	"time"

	"github.com/browserbridge/bridge/internal/codec"
	"github.com/browserbridge/bridge/internal/config"
	"github.com/browserbridge/bridge/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	cfg := &config.Config{MaxSessions: 10, RequestTimeout: 30 * time.Second, IdleTimeout: 60 * time.Second}
	return New(cfg, zerolog.Nop())
}

// newHelperSession wires a session to one end of an in-memory pipe so tests
// can decode what the daemon would have written to a real helper socket.
func newHelperSession(t *testing.T, d *Daemon, id string) (*session, *codec.Decoder) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { serverSide.Close(); clientSide.Close() })

	s := &session{id: id, conn: serverSide, enc: codec.NewEncoder(serverSide), createdAt: time.Now(), lastActiveAt: time.Now()}
	require.True(t, d.sessions.tryAdd(s))
	return s, codec.NewDecoder(clientSide)
}

func TestRequestWithoutExtensionShortCircuits(t *testing.T) {
	d := newTestDaemon(t)
	sess, dec := newHelperSession(t, d, "s1")

	go d.handleRequest(sess, protocol.NewRequest("s1:1", "s1", "navigate", []byte(`{"url":"https://a.example"}`), ""))

	env, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, protocol.KindResponse, env.Kind)
	assert.False(t, env.OK)
	assert.Contains(t, env.Error, "extension not connected")
}

func TestTerminateSessionAbortsPendingAndRemovesSession(t *testing.T) {
	d := newTestDaemon(t)
	sess, _ := newHelperSession(t, d, "s1")
	_ = sess

	ch, err := d.pending.Register("s1:1", time.Minute)
	require.NoError(t, err)

	d.terminateSession("s1")

	result := <-ch
	assert.False(t, result.OK)
	assert.Equal(t, "session ended", result.Error)

	_, ok := d.sessions.get("s1")
	assert.False(t, ok)
}

func TestTerminateUnknownSessionIsNoop(t *testing.T) {
	d := newTestDaemon(t)
	d.terminateSession("does-not-exist")
	assert.Equal(t, 0, d.sessions.count())
}

func TestSessionIDFromReqID(t *testing.T) {
	assert.Equal(t, "sess_abc", sessionIDFromReqID("sess_abc:42"))
	assert.Equal(t, "no-colon", sessionIDFromReqID("no-colon"))
	assert.Equal(t, "s1:sub", sessionIDFromReqID("s1:sub:7"))
}

func TestStatusReflectsLiveExtensionState(t *testing.T) {
	d := newTestDaemon(t)
	assert.False(t, d.ext.connected())
}
