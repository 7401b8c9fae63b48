package sidepanel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/browserbridge/bridge/internal/config"
	"github.com/browserbridge/bridge/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor is an actionExecutor double: tabs are just strings in a
// set, and Execute echoes back its action name so tests can assert on
// what was dispatched without a real CDP target.
type fakeExecutor struct {
	mu        sync.Mutex
	tabs      map[string]bool
	nextID    int
	execCalls []string
	execErr   error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{tabs: map[string]bool{"tab-0": true}}
}

func (f *fakeExecutor) NewTab(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("tab-new-%d", f.nextID)
	f.tabs[id] = true
	return id, nil
}

func (f *fakeExecutor) TabExists(ctx context.Context, tabID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tabs[tabID]
}

func (f *fakeExecutor) TabURL(ctx context.Context, tabID string) (string, bool) {
	return "https://example.com", f.TabExists(ctx, tabID)
}

func (f *fakeExecutor) CloseTab(ctx context.Context, tabID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tabs, tabID)
	return nil
}

func (f *fakeExecutor) Execute(ctx context.Context, tabID, action string, params json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	f.execCalls = append(f.execCalls, action)
	err := f.execErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(`{"action":"` + action + `"}`), nil
}

func newTestPanel(exec *fakeExecutor) *Panel {
	return New(&config.Config{}, zerolog.Nop(), exec)
}

func TestEnsureReadyCachesWithinTTL(t *testing.T) {
	exec := newFakeExecutor()
	p := newTestPanel(exec)

	require.NoError(t, p.ensureReady(context.Background(), "tab-0"))
	require.NoError(t, p.ensureReady(context.Background(), "tab-0"))

	_, found := p.ready.Get("tab-0")
	assert.True(t, found)
}

func TestEnsureReadyFailsForMissingTab(t *testing.T) {
	exec := newFakeExecutor()
	p := newTestPanel(exec)

	err := p.ensureReady(context.Background(), "tab-does-not-exist")
	assert.Error(t, err)
}

func TestDispatchSessionEndClosesTab(t *testing.T) {
	exec := newFakeExecutor()
	p := newTestPanel(exec)

	_, err := p.binder.ResolveTab(context.Background(), "sess_a", "tab-0")
	require.NoError(t, err)

	p.dispatch(context.Background(), protocol.Envelope{Kind: protocol.KindSessionEnd, SessionID: "sess_a"})

	assert.False(t, exec.TabExists(context.Background(), "tab-0"))
	_, ok := p.binder.Get("sess_a")
	assert.False(t, ok)
}

// dialTestPanel starts an httptest WS server, wires a Panel at its
// address, and runs connectAndServe in the background for the
// duration of the test.
func dialTestPanel(t *testing.T, exec *fakeExecutor) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		connCh <- conn
	}))
	t.Cleanup(srv.Close)

	host, portStr, err := splitHostPort(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	p := New(&config.Config{WSHost: host, WSPort: port}, zerolog.Nop(), exec)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	go p.connectAndServe(ctx)

	select {
	case conn := <-connCh:
		t.Cleanup(func() { conn.Close() })
		return srv, conn
	case <-time.After(2 * time.Second):
		t.Fatal("side panel never connected")
		return nil, nil
	}
}

func splitHostPort(url string) (string, string, error) {
	trimmed := strings.TrimPrefix(url, "http://")
	parts := strings.Split(trimmed, ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("unexpected URL shape: %s", url)
	}
	return parts[0], parts[1], nil
}

func TestConnectAndServeRoundTripsSuccessfulRequest(t *testing.T) {
	exec := newFakeExecutor()
	_, conn := dialTestPanel(t, exec)

	req := protocol.NewRequest("sess_a:1", "sess_a", "navigate", json.RawMessage(`{"url":"https://a.example"}`), "tab-0")
	require.NoError(t, conn.WriteJSON(req))

	var resp protocol.Envelope
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, protocol.KindResponse, resp.Kind)
	assert.True(t, resp.OK)
	assert.JSONEq(t, `{"action":"navigate"}`, string(resp.Data))
}

func TestConnectAndServeRoundTripsErrorForUnknownTab(t *testing.T) {
	exec := newFakeExecutor()
	_, conn := dialTestPanel(t, exec)

	req := protocol.NewRequest("sess_a:1", "sess_a", "navigate", json.RawMessage(`{}`), "tab-missing")
	require.NoError(t, conn.WriteJSON(req))

	var resp protocol.Envelope
	require.NoError(t, conn.ReadJSON(&resp))
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, protocol.ErrTabNotFound.Error())
}
