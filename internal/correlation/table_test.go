package correlation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteResolvesWaiter(t *testing.T) {
	tbl := New()
	ch, err := tbl.Register("s1:1", time.Second)
	require.NoError(t, err)

	ok := tbl.Complete("s1:1", Result{OK: true, Data: []byte(`"done"`)})
	assert.True(t, ok)

	result := <-ch
	assert.True(t, result.OK)
	assert.False(t, tbl.Has("s1:1"))
}

func TestDuplicateRegisterRejected(t *testing.T) {
	tbl := New()
	_, err := tbl.Register("s1:1", time.Second)
	require.NoError(t, err)

	_, err = tbl.Register("s1:1", time.Second)
	require.Error(t, err)
}

func TestTimeoutFiresOnce(t *testing.T) {
	tbl := New()
	ch, err := tbl.Register("s1:1", 10*time.Millisecond)
	require.NoError(t, err)

	result := <-ch
	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "timed out")
	assert.False(t, tbl.Has("s1:1"))
}

func TestLateResponseAfterTimeoutIsDiscarded(t *testing.T) {
	tbl := New()
	ch, err := tbl.Register("s1:1", 5*time.Millisecond)
	require.NoError(t, err)
	<-ch // consume the timeout result

	ok := tbl.Complete("s1:1", Result{OK: true})
	assert.False(t, ok, "a late completion after timeout must be a no-op")
}

func TestAbortAllRejectsEveryEntry(t *testing.T) {
	tbl := New()
	ch1, _ := tbl.Register("s1:1", time.Minute)
	ch2, _ := tbl.Register("s2:1", time.Minute)

	tbl.AbortAll("extension disconnected")

	r1 := <-ch1
	r2 := <-ch2
	assert.False(t, r1.OK)
	assert.False(t, r2.OK)
	assert.Equal(t, 0, tbl.Len())
}

func TestAbortMatchingOnlyAbortsMatchingSession(t *testing.T) {
	tbl := New()
	chS1, _ := tbl.Register("s1:1", time.Minute)
	chS2, _ := tbl.Register("s2:1", time.Minute)

	tbl.AbortMatching(func(reqID string) bool {
		return strings.HasPrefix(reqID, "s1:")
	}, "session ended")

	r1 := <-chS1
	assert.False(t, r1.OK)
	assert.Equal(t, "session ended", r1.Error)

	assert.True(t, tbl.Has("s2:1"))
	tbl.Complete("s2:1", Result{OK: true})
	<-chS2
}

func TestCompleteUnknownReqIDIsNoop(t *testing.T) {
	tbl := New()
	assert.False(t, tbl.Complete("missing", Result{OK: true}))
}
