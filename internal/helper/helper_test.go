package helper

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/browserbridge/bridge/internal/correlation"
	"github.com/browserbridge/bridge/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLink is a routerLink double that hands back a canned RESPONSE to
// whatever the last REQUEST it saw, simulating a daemon/extension pair
// that resolves everything instantly.
type fakeLink struct {
	sent      []protocol.Envelope
	pending   *correlation.Table
	connected bool
	status    protocol.Envelope
	sendErr   error
}

func (f *fakeLink) send(env protocol.Envelope) error {
	f.sent = append(f.sent, env)
	if f.sendErr != nil {
		return f.sendErr
	}
	if env.Kind == protocol.KindRequest {
		f.pending.Complete(env.ReqID, correlation.Result{OK: true, Data: json.RawMessage(`{"ok":true}`)})
	}
	return nil
}

func (f *fakeLink) requestStatus(ctx context.Context) (protocol.Envelope, error) {
	return f.status, nil
}

func (f *fakeLink) mode() string { return "daemon" }

func (f *fakeLink) close() {}

func newTestHelper(link *fakeLink) *Helper {
	h := &Helper{
		sessionID: "sess_test",
		pending:   correlation.New(),
		link:      link,
		log:       zerolog.Nop(),
	}
	link.pending = h.pending
	return h
}

func TestNextReqIDIncludesSessionAndIncrements(t *testing.T) {
	h := newTestHelper(&fakeLink{})
	first := h.nextReqID()
	second := h.nextReqID()
	assert.Equal(t, "sess_test:1", first)
	assert.Equal(t, "sess_test:2", second)
}

func TestCallActionReturnsDataOnSuccess(t *testing.T) {
	link := &fakeLink{connected: true}
	h := newTestHelper(link)

	data, err := h.callAction(context.Background(), "navigate", json.RawMessage(`{"url":"https://example.com"}`), "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
	require.Len(t, link.sent, 1)
	assert.Equal(t, protocol.KindRequest, link.sent[0].Kind)
	assert.Equal(t, "navigate", link.sent[0].Action)
	assert.Equal(t, "sess_test", link.sent[0].SessionID)
}

func TestCallActionPropagatesSendError(t *testing.T) {
	link := &fakeLink{sendErr: assert.AnError}
	h := newTestHelper(link)

	_, err := h.callAction(context.Background(), "navigate", json.RawMessage(`{}`), "")
	require.Error(t, err)
}

func TestCallActionHonorsContextCancellation(t *testing.T) {
	link := &fakeLink{}
	h := newTestHelper(link)
	// Override send so it registers but never completes, to exercise the
	// ctx.Done() branch instead of the happy path.
	h.link = &blockingLink{fakeLink: link}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.callAction(ctx, "navigate", json.RawMessage(`{}`), "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type blockingLink struct {
	*fakeLink
}

func (b *blockingLink) send(env protocol.Envelope) error {
	b.sent = append(b.sent, env)
	return nil
}

func TestConnectionStatusReflectsLinkState(t *testing.T) {
	link := &fakeLink{status: protocol.Envelope{ExtensionConnected: true, ActiveSessions: 3}}
	h := newTestHelper(link)

	status, err := h.ConnectionStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, true, status["connected"])
	assert.Equal(t, 3, status["activeSessions"])
	assert.Equal(t, "daemon", status["mode"])
}

func TestCloseAbortsPendingAndSendsDisconnect(t *testing.T) {
	link := &fakeLink{}
	h := newTestHelper(link)

	ch, err := h.pending.Register("sess_test:1", time.Second)
	require.NoError(t, err)

	h.Close()

	select {
	case res := <-ch:
		assert.False(t, res.OK)
	default:
		t.Fatal("expected pending entry to be aborted")
	}

	require.Len(t, link.sent, 1)
	assert.Equal(t, protocol.KindDisconnect, link.sent[0].Kind)
}
