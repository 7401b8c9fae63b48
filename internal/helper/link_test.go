package helper

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/browserbridge/bridge/internal/codec"
	"github.com/browserbridge/bridge/internal/config"
	"github.com/browserbridge/bridge/internal/correlation"
	"github.com/browserbridge/bridge/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfigWithSocket(t *testing.T, path string) *config.Config {
	t.Helper()
	return &config.Config{DaemonSocket: path}
}

func newTestDaemonLink(t *testing.T) (*daemonLink, *codec.Encoder, *codec.Decoder) {
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	l := &daemonLink{
		conn:    client,
		enc:     codec.NewEncoder(client),
		dec:     codec.NewDecoder(client),
		pending: correlation.New(),
		log:     zerolog.Nop(),
	}
	return l, codec.NewEncoder(server), codec.NewDecoder(server)
}

func TestRequestStatusMatchesNextStatusOK(t *testing.T) {
	l, serverEnc, serverDec := newTestDaemonLink(t)
	go l.readLoop(func(string) {}, func(string) {})

	done := make(chan struct{})
	go func() {
		defer close(done)
		env, err := serverDec.Decode()
		require.NoError(t, err)
		assert.Equal(t, protocol.KindStatus, env.Kind)
		serverEnc.Encode(protocol.Envelope{Kind: protocol.KindStatusOK, ExtensionConnected: true, ActiveSessions: 2})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := l.requestStatus(ctx)
	require.NoError(t, err)
	assert.True(t, env.ExtensionConnected)
	assert.Equal(t, 2, env.ActiveSessions)
	<-done
}

func TestDaemonLinkReadLoopCompletesPendingOnResponse(t *testing.T) {
	l, serverEnc, _ := newTestDaemonLink(t)
	go l.readLoop(func(string) {}, func(string) {})

	ch, err := l.pending.Register("sess_test:1", time.Second)
	require.NoError(t, err)

	serverEnc.Encode(protocol.NewResponse("sess_test:1", "sess_test", true, []byte(`{"ok":true}`), ""))

	select {
	case res := <-ch:
		assert.True(t, res.OK)
	case <-time.After(time.Second):
		t.Fatal("response was not delivered")
	}
}

func TestDaemonLinkReadLoopAbortsPendingOnDisconnect(t *testing.T) {
	l, _, serverDec := newTestDaemonLink(t)
	go l.readLoop(func(string) {}, func(string) {})

	ch, err := l.pending.Register("sess_test:1", time.Second)
	require.NoError(t, err)

	l.conn.Close()
	_, decodeErr := serverDec.Decode()
	assert.Error(t, decodeErr)

	select {
	case res := <-ch:
		assert.False(t, res.OK)
	case <-time.After(time.Second):
		t.Fatal("pending entry was not aborted on disconnect")
	}
}

func TestDirectLinkSendWithoutConnectionFails(t *testing.T) {
	d := &directLink{pending: correlation.New(), log: zerolog.Nop()}
	err := d.send(protocol.Envelope{Kind: protocol.KindRequest})
	assert.ErrorIs(t, err, protocol.ErrExtensionNotConnected)
	assert.False(t, d.extensionConnected())
}

func TestDaemonDialableFalseWhenNoSocket(t *testing.T) {
	assert.False(t, daemonDialable(testConfigWithSocket(t, "/nonexistent/does/not/exist.sock")))
}
