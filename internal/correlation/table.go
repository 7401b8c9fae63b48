// Package correlation implements the pending-request table (spec §4.2,
// component C2): a map from reqId to a one-shot continuation with a
// deadline. It backs both the daemon's pending table (one per running
// daemon) and the helper's own local waiters, and the side panel's
// content-helper injection ping round trip.
package correlation

import (
	"fmt"
	"sync"
	"time"

	"github.com/browserbridge/bridge/internal/protocol"
)

// Result is what a completed or aborted entry resolves to.
type Result struct {
	OK    bool
	Data  []byte
	Error string
}

type entry struct {
	ch    chan Result
	timer *time.Timer
}

// Table is a registry of in-flight requests keyed by reqId. Zero value
// is not usable; construct with New.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty table.
func New() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Register creates a pending entry for reqID with the given deadline and
// returns a channel that receives exactly one Result: from Complete, from
// the deadline firing (a "timeout" Result), or from AbortAll. Registering
// an already-registered reqID is a programmer error: Register returns
// protocol.ErrDuplicateRequest and does not touch the existing entry.
func (t *Table) Register(reqID string, deadline time.Duration) (<-chan Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[reqID]; exists {
		return nil, fmt.Errorf("%w: %s", protocol.ErrDuplicateRequest, reqID)
	}

	ch := make(chan Result, 1)
	e := &entry{ch: ch}
	e.timer = time.AfterFunc(deadline, func() { t.timeout(reqID) })
	t.entries[reqID] = e
	return ch, nil
}

// Has reports whether reqID currently has a pending entry.
func (t *Table) Has(reqID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[reqID]
	return ok
}

// Complete resolves reqID with result and removes its entry. It reports
// whether an entry was found; a late response (arriving after timeout or
// abort already fired) finds nothing and is silently discarded by the
// caller, per spec §5 cancellation semantics.
func (t *Table) Complete(reqID string, result Result) bool {
	t.mu.Lock()
	e, ok := t.entries[reqID]
	if ok {
		delete(t.entries, reqID)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	e.timer.Stop()
	e.ch <- result
	return true
}

// AbortAll rejects every pending entry with reason and empties the
// table. Used when the extension uplink is lost (pending entries can
// never complete) or a session/daemon is torn down.
func (t *Table) AbortAll(reason string) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*entry)
	t.mu.Unlock()

	for _, e := range entries {
		e.timer.Stop()
		e.ch <- Result{OK: false, Error: reason}
	}
}

// AbortMatching rejects every pending entry whose reqId satisfies match
// with reason, and removes only those entries, leaving the rest of the
// table untouched.
func (t *Table) AbortMatching(match func(reqID string) bool, reason string) {
	t.mu.Lock()
	var toAbort []*entry
	for reqID, e := range t.entries {
		if match(reqID) {
			toAbort = append(toAbort, e)
			delete(t.entries, reqID)
		}
	}
	t.mu.Unlock()

	for _, e := range toAbort {
		e.timer.Stop()
		e.ch <- Result{OK: false, Error: reason}
	}
}

// Len reports the number of currently pending entries (for STATUS/tests).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Table) timeout(reqID string) {
	t.mu.Lock()
	e, ok := t.entries[reqID]
	if ok {
		delete(t.entries, reqID)
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	e.ch <- Result{OK: false, Error: protocol.ErrTimeout.Error()}
}
