package conn

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pajamax-go/pajamax/examples/greeter"
	"github.com/pajamax-go/pajamax/frame"
	"github.com/pajamax-go/pajamax/service"
)

type echoGreeter struct{}

func (echoGreeter) SayHello(req greeter.HelloRequest) (greeter.HelloReply, error) {
	return greeter.HelloReply{Message: "Hello " + req.Name + "!"}, nil
}

// literalPath builds a literal-with-indexing HPACK header field for
// :path (static table index 4) with a plain (non-Huffman) value, the
// simplest valid encoding FindPath accepts.
func literalPath(path string) []byte {
	buf := []byte{0x44, byte(len(path))}
	return append(buf, path...)
}

// buildHeaders returns one complete HEADERS frame (header + payload).
func buildHeaders(streamID uint32, headerBlock []byte) []byte {
	dst := frame.BuildHead(nil, len(headerBlock), frame.KindHeaders, frame.FlagEndHeaders, streamID)
	return append(dst, headerBlock...)
}

// buildData returns one complete DATA frame (header + 5-byte gRPC
// prefix + message).
func buildData(streamID uint32, message []byte) []byte {
	payload := make([]byte, 5+len(message))
	binary.BigEndian.PutUint32(payload[1:5], uint32(len(message)))
	copy(payload[5:], message)
	dst := frame.BuildHead(nil, len(payload), frame.KindData, 0, streamID)
	return append(dst, payload...)
}

func readAll(c net.Conn, out chan<- []byte) {
	var collected []byte
	buf := make([]byte, 4096)
	for {
		n, err := c.Read(buf)
		collected = append(collected, buf[:n]...)
		if err != nil {
			out <- collected
			return
		}
	}
}

// frameKinds parses every frame in data and returns their kinds in
// order, the way a minimal test client would inspect the server's
// output without a full HTTP/2 stack.
func frameKinds(t *testing.T, data []byte) []frame.Kind {
	t.Helper()
	var kinds []frame.Kind
	pos := 0
	for {
		f, ok := frame.Parse(data[pos:])
		if !ok {
			break
		}
		kinds = append(kinds, f.Kind)
		pos += frame.HeadSize + f.Len
	}
	return kinds
}

func newTestEngine(t *testing.T) (net.Conn, *Engine, chan error) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	svc := greeter.NewServer(echoGreeter{})
	opts := DefaultOptions()
	e := New(serverConn, []service.Service{svc}, opts)

	errCh := make(chan error, 1)
	go func() { errCh <- e.Run() }()

	t.Cleanup(func() { clientConn.Close() })
	return clientConn, e, errCh
}

func TestEngineHandlesUnaryCallAndEchoesTwice(t *testing.T) {
	client, _, errCh := newTestEngine(t)

	recvCh := make(chan []byte, 1)
	go readAll(client, recvCh)

	reqBody := append([]byte{0x0a, 5}, "world"...)
	path := literalPath("/helloworld.Greeter/SayHello")

	_, err := client.Write([]byte(frame.Preface))
	require.NoError(t, err)
	_, err = client.Write(buildHeaders(1, path))
	require.NoError(t, err)
	_, err = client.Write(buildData(1, reqBody))
	require.NoError(t, err)

	// second call on the same connection, exercising the cached-path
	// branch of the route cache and the HPACK decoder's dynamic table:
	// :path is sent as an Indexed reference to dynamic index 62, the
	// entry the first HEADERS block inserted.
	_, err = client.Write(buildHeaders(3, []byte{0x80 | 62}))
	require.NoError(t, err)
	_, err = client.Write(buildData(3, reqBody))
	require.NoError(t, err)

	client.Close()

	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("engine never returned after client closed")
	}

	received := <-recvCh
	kinds := frameKinds(t, received)
	require.NotEmpty(t, kinds)
	assert.Equal(t, frame.KindSettings, kinds[0])

	var headersCount, dataCount int
	for _, k := range kinds {
		switch k {
		case frame.KindHeaders:
			headersCount++
		case frame.KindData:
			dataCount++
		}
	}
	assert.Equal(t, 4, headersCount) // 2 calls x (success headers + trailer)
	assert.Equal(t, 2, dataCount)
}

func TestEngineRejectsBadPreface(t *testing.T) {
	client, _, errCh := newTestEngine(t)
	go readAll(client, make(chan []byte, 1))

	_, err := client.Write([]byte("not a valid preface!!!!!"))
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine never rejected the bad preface")
	}
}

func TestEngineRejectsHeadersWithoutEndHeaders(t *testing.T) {
	client, _, errCh := newTestEngine(t)
	go readAll(client, make(chan []byte, 1))

	block := literalPath("/helloworld.Greeter/SayHello")
	noEndHeaders := frame.BuildHead(nil, len(block), frame.KindHeaders, 0, 1)

	_, err := client.Write([]byte(frame.Preface))
	require.NoError(t, err)
	_, err = client.Write(noEndHeaders)
	require.NoError(t, err)
	_, err = client.Write(block)
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine never rejected the missing END_HEADERS frame")
	}
}

func TestEngineRejectsDataWithoutHeaders(t *testing.T) {
	client, _, errCh := newTestEngine(t)
	go readAll(client, make(chan []byte, 1))

	reqBody := append([]byte{0x0a, 5}, "world"...)

	_, err := client.Write([]byte(frame.Preface))
	require.NoError(t, err)
	_, err = client.Write(buildData(7, reqBody))
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine never rejected the orphan DATA frame")
	}
}

func TestEngineRejectsDuplicateHeadersForSameStream(t *testing.T) {
	client, _, errCh := newTestEngine(t)
	go readAll(client, make(chan []byte, 1))

	path := literalPath("/helloworld.Greeter/SayHello")

	_, err := client.Write([]byte(frame.Preface))
	require.NoError(t, err)
	_, err = client.Write(buildHeaders(1, path))
	require.NoError(t, err)
	_, err = client.Write(buildHeaders(1, path))
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine never rejected the duplicate HEADERS frame")
	}
}

func TestEngineTreatsEmptyDataAsTolerated(t *testing.T) {
	client, _, errCh := newTestEngine(t)
	go readAll(client, make(chan []byte, 1))

	emptyData := frame.BuildHead(nil, 0, frame.KindData, 0, 9)

	_, err := client.Write([]byte(frame.Preface))
	require.NoError(t, err)
	_, err = client.Write(emptyData)
	require.NoError(t, err)

	client.Close()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine never returned after client closed")
	}
}
