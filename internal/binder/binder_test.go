package binder

import (
	"context"
	"errors"
	"testing"

	"github.com/browserbridge/bridge/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOpener is an in-memory TabOpener for testing the binder's policy
// in isolation from any real CDP target.
type fakeOpener struct {
	nextID int
	tabs   map[string]string // tabID -> URL
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{tabs: make(map[string]string)}
}

func (f *fakeOpener) NewTab(ctx context.Context) (string, error) {
	f.nextID++
	id := "tab" + itoa(f.nextID)
	f.tabs[id] = "about:blank"
	return id, nil
}

func (f *fakeOpener) TabExists(ctx context.Context, tabID string) bool {
	_, ok := f.tabs[tabID]
	return ok
}

func (f *fakeOpener) TabURL(ctx context.Context, tabID string) (string, bool) {
	u, ok := f.tabs[tabID]
	return u, ok
}

func (f *fakeOpener) CloseTab(ctx context.Context, tabID string) error {
	if _, ok := f.tabs[tabID]; !ok {
		return errors.New("no such tab")
	}
	delete(f.tabs, tabID)
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestResolveTabCreatesHomeTabOnFirstRequest(t *testing.T) {
	opener := newFakeOpener()
	b := New(opener)

	tabID, err := b.ResolveTab(context.Background(), "s1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, tabID)

	bound, ok := b.Get("s1")
	require.True(t, ok)
	assert.Equal(t, tabID, bound.TabID)
}

func TestResolveTabReturnsSameHomeTabOnSubsequentRequests(t *testing.T) {
	opener := newFakeOpener()
	b := New(opener)

	first, _ := b.ResolveTab(context.Background(), "s1", "")
	second, _ := b.ResolveTab(context.Background(), "s1", "")
	assert.Equal(t, first, second)
}

func TestResolveTabRecreatesClosedHomeTab(t *testing.T) {
	opener := newFakeOpener()
	b := New(opener)

	first, _ := b.ResolveTab(context.Background(), "s1", "")
	opener.CloseTab(context.Background(), first)

	second, err := b.ResolveTab(context.Background(), "s1", "")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "a closed home tab must be lazily recreated")

	bound, _ := b.Get("s1")
	assert.Equal(t, second, bound.TabID)
}

func TestResolveTabExplicitOverrideRebindsAndCanShareBetweenSessions(t *testing.T) {
	opener := newFakeOpener()
	b := New(opener)

	tabForS2, _ := b.ResolveTab(context.Background(), "s2", "")

	got, err := b.ResolveTab(context.Background(), "s1", tabForS2)
	require.NoError(t, err)
	assert.Equal(t, tabForS2, got)

	boundS1, _ := b.Get("s1")
	boundS2, _ := b.Get("s2")
	assert.Equal(t, tabForS2, boundS1.TabID)
	assert.Equal(t, tabForS2, boundS2.TabID, "explicit sharing is tolerated")
}

func TestResolveTabExplicitOverrideMissingTabIsError(t *testing.T) {
	opener := newFakeOpener()
	b := New(opener)

	_, err := b.ResolveTab(context.Background(), "s1", "does-not-exist")
	assert.ErrorIs(t, err, protocol.ErrTabNotFound)
}

func TestCleanupClosesTabUnlessRetained(t *testing.T) {
	opener := newFakeOpener()
	b := New(opener)

	tabID, _ := b.ResolveTab(context.Background(), "s1", "")
	b.Cleanup(context.Background(), "s1", false)

	assert.False(t, opener.TabExists(context.Background(), tabID))
	_, ok := b.Get("s1")
	assert.False(t, ok)
}

func TestCleanupRetainsTabWhenRequested(t *testing.T) {
	opener := newFakeOpener()
	b := New(opener)

	tabID, _ := b.ResolveTab(context.Background(), "s1", "")
	b.Cleanup(context.Background(), "s1", true)

	assert.True(t, opener.TabExists(context.Background(), tabID))
}

func TestIsScriptableURL(t *testing.T) {
	cases := map[string]bool{
		"":                                  false,
		"chrome://settings":                 false,
		"chrome-extension://abc/index.html": false,
		"https://example.com":               true,
		"http://example.com":                true,
		"https://chrome.google.com/webstore/detail/x": false,
		"not a url \x7f":                              false,
	}
	for url, want := range cases {
		assert.Equal(t, want, IsScriptableURL(url), "url=%q", url)
	}
}
