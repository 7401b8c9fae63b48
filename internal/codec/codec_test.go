package codec

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/browserbridge/bridge/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	want := protocol.NewRequest("s1:1", "s1", "navigate", []byte(`{"url":"https://a.example"}`), "")
	require.NoError(t, enc.Encode(want))

	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))

	dec := NewDecoder(&buf)
	got, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, want.ReqID, got.ReqID)
	assert.Equal(t, want.SessionID, got.SessionID)
	assert.Equal(t, want.Action, got.Action)
	assert.JSONEq(t, string(want.Params), string(got.Params))
}

func TestDecodeMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode(protocol.Envelope{Kind: protocol.KindPing}))
	require.NoError(t, enc.Encode(protocol.Envelope{Kind: protocol.KindPong}))

	dec := NewDecoder(&buf)
	first, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, protocol.KindPing, first.Kind)

	second, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, protocol.KindPong, second.Kind)
}

func TestDecodeMalformedJSONIsNonFatal(t *testing.T) {
	dec := NewDecoder(strings.NewReader("{not json}\n"))
	_, err := dec.Decode()
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrMalformedFrame))
}

func TestDecodeExactlyMaxBufferSizeAccepted(t *testing.T) {
	// A frame whose encoded line is exactly MaxBufferSize bytes (including
	// the newline) must be accepted per spec's boundary behavior.
	base := []byte(`{"kind":"PING","reqId":"`)
	suffix := []byte(`"}`)
	fill := MaxBufferSize - len(base) - len(suffix) - 1 // -1 for the trailing '\n'
	line := append(append(append([]byte{}, base...), bytes.Repeat([]byte("x"), fill)...), suffix...)
	line = append(line, '\n')
	require.Len(t, line, MaxBufferSize)

	dec := NewDecoder(bytes.NewReader(line))
	env, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, protocol.KindPing, env.Kind)
}

func TestDecodeOverMaxBufferSizeDropsConnection(t *testing.T) {
	line := append(bytes.Repeat([]byte("x"), MaxBufferSize+1), '\n')
	dec := NewDecoder(bytes.NewReader(line))
	_, err := dec.Decode()
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrBufferOverflow))
}

func TestDecodePartialFrameOnCloseIsDiscarded(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"kind":"PING"`)) // no trailing newline
	_, err := dec.Decode()
	require.Error(t, err)
	assert.NotErrorIs(t, err, protocol.ErrMalformedFrame)
}
