// Package binder implements the Session/Tab Binder (spec §4.6,
// component C6): the side panel's policy for creating, rebinding, and
// cleaning up the tab each session implicitly targets.
package binder

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/browserbridge/bridge/internal/protocol"
)

// TabOpener is the side panel's narrow view of the action executor:
// enough to create a tab and check whether one still exists. The full
// action dispatch surface lives in package executor; the binder only
// needs this slice of it, kept separate so it stays testable without a
// real CDP target.
type TabOpener interface {
	NewTab(ctx context.Context) (tabID string, err error)
	TabExists(ctx context.Context, tabID string) bool
	TabURL(ctx context.Context, tabID string) (string, bool)
	CloseTab(ctx context.Context, tabID string) error
}

// Binding is one session's home-tab record (spec §3).
type Binding struct {
	SessionID    string
	TabID        string
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// Binder owns the side panel's binding table (spec §5, §9: actor-private
// state, never read outside the panel's own event loop). The mutex here
// exists because Go's WS read loop and any concurrent cleanup path are
// still separate goroutines even though the domain model is single-threaded.
type Binder struct {
	mu       sync.Mutex
	bindings map[string]*Binding
	opener   TabOpener

	// lastTabID is the most recently bound-to or created tab, across all
	// sessions, used as this process's stand-in for "the currently active
	// tab in the current window" (spec §4.5 step 2's no-session branch).
	lastTabID string
}

// New constructs a Binder backed by opener.
func New(opener TabOpener) *Binder {
	return &Binder{bindings: make(map[string]*Binding), opener: opener}
}

// ResolveTab implements the step-2 policy from spec §4.5:
//   - an explicit tabId overrides and rebinds;
//   - else consult the binder for the session's home tab, lazily
//     recreating it if the tab has disappeared;
//   - else (no session, no explicit tab) reuse the currently active tab
//     if it is still open and scriptable, else open a fresh one.
func (b *Binder) ResolveTab(ctx context.Context, sessionID, explicitTabID string) (string, error) {
	if explicitTabID != "" {
		if !b.opener.TabExists(ctx, explicitTabID) {
			return "", protocol.ErrTabNotFound
		}
		b.bind(sessionID, explicitTabID)
		return explicitTabID, nil
	}

	if sessionID == "" {
		return b.resolveActiveTab(ctx)
	}

	b.mu.Lock()
	existing, ok := b.bindings[sessionID]
	var tabID string
	if ok {
		tabID = existing.TabID
	}
	b.mu.Unlock()

	if ok && b.opener.TabExists(ctx, tabID) {
		b.touch(sessionID)
		return tabID, nil
	}

	// No binding, or the bound tab is gone: create a fresh one and
	// (re)bind. This is the "lazy re-creation" invariant from spec §4.6.
	newTabID, err := b.opener.NewTab(ctx)
	if err != nil {
		return "", err
	}
	b.bind(sessionID, newTabID)
	return newTabID, nil
}

func (b *Binder) bind(sessionID, tabID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastTabID = tabID
	if sessionID == "" {
		return
	}
	now := time.Now()
	if existing, ok := b.bindings[sessionID]; ok {
		existing.TabID = tabID
		existing.LastActiveAt = now
		return
	}
	b.bindings[sessionID] = &Binding{SessionID: sessionID, TabID: tabID, CreatedAt: now, LastActiveAt: now}
}

func (b *Binder) touch(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bind, ok := b.bindings[sessionID]; ok {
		bind.LastActiveAt = time.Now()
		b.lastTabID = bind.TabID
	}
}

// resolveActiveTab implements the no-session branch of spec §4.5 step 2:
// reuse the most recently active tab if it still exists and is
// scriptable, otherwise open a fresh blank tab.
func (b *Binder) resolveActiveTab(ctx context.Context) (string, error) {
	b.mu.Lock()
	tabID := b.lastTabID
	b.mu.Unlock()

	if tabID != "" && b.opener.TabExists(ctx, tabID) {
		if url, ok := b.opener.TabURL(ctx, tabID); ok && IsScriptableURL(url) {
			return tabID, nil
		}
	}

	newTabID, err := b.opener.NewTab(ctx)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	b.lastTabID = newTabID
	b.mu.Unlock()
	return newTabID, nil
}

// Get returns the current binding for sessionID, if any.
func (b *Binder) Get(sessionID string) (Binding, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bind, ok := b.bindings[sessionID]
	if !ok {
		return Binding{}, false
	}
	return *bind, true
}

// Cleanup tears down sessionID's binding (spec §4.6 "session cleanup").
// When retain is false the home tab is also closed, best-effort.
func (b *Binder) Cleanup(ctx context.Context, sessionID string, retain bool) {
	b.mu.Lock()
	bind, ok := b.bindings[sessionID]
	if ok {
		delete(b.bindings, sessionID)
	}
	b.mu.Unlock()

	if ok && !retain {
		b.opener.CloseTab(ctx, bind.TabID)
	}
}

// Len reports the number of active bindings.
func (b *Binder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bindings)
}

// webStoreHosts are excluded from scriptability even though they are
// ordinary https pages, per spec §4.6 "documented exclusions for
// web-store hosts".
var webStoreHosts = []string{
	"chrome.google.com",
	"chromewebstore.google.com",
	"addons.mozilla.org",
	"microsoftedge.microsoft.com",
}

// IsScriptableURL is the published, independently testable predicate
// from spec §4.6/§8: ordinary http(s) pages are scriptable; browser-
// internal pages, extension/web-store pages, and the empty/undefined
// URL are not.
func IsScriptableURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, blocked := range webStoreHosts {
		if host == blocked {
			return false
		}
	}
	return true
}
