package daemon

import (
	"net"
	"sync"
	"time"

	"github.com/browserbridge/bridge/internal/codec"
)

// session is one helper's logical conversation, owned exclusively by
// the daemon's accept/route goroutines through sessionTable's mutex —
// per spec §5 it is conceptually actor-private state; the mutex exists
// only because Go's IPC listener is not itself single-threaded.
type session struct {
	id           string
	conn         net.Conn
	enc          *codec.Encoder
	createdAt    time.Time
	lastActiveAt time.Time
}

// sessionTable is the daemon's session table (spec §3, §4.3): sessions
// exist iff their helper socket is alive and the daemon hasn't shut down.
type sessionTable struct {
	mu       sync.Mutex
	sessions map[string]*session
	maxSize  int
}

func newSessionTable(maxSize int) *sessionTable {
	return &sessionTable{sessions: make(map[string]*session), maxSize: maxSize}
}

// tryAdd inserts s unless the table is already at capacity, in which
// case it reports false and the caller must reply REGISTER_ERROR.
func (t *sessionTable) tryAdd(s *session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sessions) >= t.maxSize {
		return false
	}
	t.sessions[s.id] = s
	return true
}

func (t *sessionTable) get(id string) (*session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	return s, ok
}

func (t *sessionTable) touch(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[id]; ok {
		s.lastActiveAt = time.Now()
	}
}

func (t *sessionTable) remove(id string) (*session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if ok {
		delete(t.sessions, id)
	}
	return s, ok
}

func (t *sessionTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// snapshot returns every current session, for the shutdown sweep that
// must act outside the table's lock (it may block on network writes).
func (t *sessionTable) snapshot() []*session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}
