package connio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pajamax-go/pajamax/frame"
	"github.com/pajamax-go/pajamax/grpcstatus"
)

type fakeReply struct{ body []byte }

func (f fakeReply) MarshalAppend(dst []byte) ([]byte, error) {
	return append(dst, f.body...), nil
}

func TestBuildResponseThenFlushPrependsWindowUpdate(t *testing.T) {
	var out bytes.Buffer
	rb := New(&out, DefaultFlushPolicy)
	defer rb.Release()

	err := rb.BuildResponse(1, fakeReply{body: []byte("hello")}, 11)
	require.NoError(t, err)

	require.NoError(t, rb.Flush(true))

	written := out.Bytes()
	f, ok := frame.Parse(written)
	require.True(t, ok)
	assert.Equal(t, frame.KindWindowUpdate, f.Kind)
	assert.Equal(t, uint32(0), f.StreamID)
	assert.Equal(t, []byte{0, 0, 0, 11}, f.Payload)

	rest := written[frame.HeadSize+len(f.Payload):]
	headers, ok := frame.Parse(rest)
	require.True(t, ok)
	assert.Equal(t, frame.KindHeaders, headers.Kind)
	assert.Equal(t, uint32(1), headers.StreamID)
}

func TestFlushSkippedWithoutForceBelowThreshold(t *testing.T) {
	var out bytes.Buffer
	rb := New(&out, DefaultFlushPolicy)
	defer rb.Release()

	require.NoError(t, rb.BuildResponse(1, fakeReply{body: []byte("x")}, 1))
	require.NoError(t, rb.Flush(false))
	assert.Equal(t, 0, out.Len())
}

func TestFlushForcedOnEmptyBufferIsNoop(t *testing.T) {
	var out bytes.Buffer
	rb := New(&out, DefaultFlushPolicy)
	defer rb.Release()

	require.NoError(t, rb.Flush(true))
	assert.Equal(t, 0, out.Len())
}

func TestBuildStatusEmitsSingleHeadersFrame(t *testing.T) {
	var out bytes.Buffer
	rb := New(&out, DefaultFlushPolicy)
	defer rb.Release()

	rb.BuildStatus(3, grpcstatus.New(grpcstatus.NotFound, "key: missing"), 7)
	require.NoError(t, rb.Flush(true))

	written := out.Bytes()
	wu, ok := frame.Parse(written)
	require.True(t, ok)
	rest := written[frame.HeadSize+len(wu.Payload):]

	headers, ok := frame.Parse(rest)
	require.True(t, ok)
	assert.True(t, headers.Flags.IsEndHeaders())
	assert.True(t, headers.Flags.IsEndStream())

	// No trailing bytes after the single HEADERS frame.
	assert.Equal(t, frame.HeadSize+headers.Len, len(rest))
}

func TestShouldFlushOnRequestCountThreshold(t *testing.T) {
	var out bytes.Buffer
	rb := New(&out, FlushPolicy{MaxFlushRequests: 2, MaxFlushSize: 1 << 20})
	defer rb.Release()

	require.NoError(t, rb.BuildResponse(1, fakeReply{body: []byte("x")}, 1))
	assert.False(t, rb.ShouldFlush())
	require.NoError(t, rb.BuildResponse(2, fakeReply{body: []byte("x")}, 1))
	assert.True(t, rb.ShouldFlush())
}
