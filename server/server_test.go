package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerAcceptsAndHandles(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	handled := make(chan struct{}, 1)
	srv := New(ln, func(c net.Conn) error {
		defer c.Close()
		buf := make([]byte, 5)
		_, err := c.Read(buf)
		handled <- struct{}{}
		return err
	}, DefaultOptions())

	go srv.Serve()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("connection handler never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))

	conn.Close()
}

func TestServerDropsOverConcurrencyLimit(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	block := make(chan struct{})
	opts := DefaultOptions()
	opts.MaxConcurrentConnections = 1

	srv := New(ln, func(c net.Conn) error {
		<-block
		return nil
	}, opts)
	go srv.Serve()
	defer func() {
		close(block)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	first, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer first.Close()

	// Give the accept loop time to register the first connection before
	// dialing the second, which should be accepted then immediately
	// closed because the concurrency cap is 1.
	time.Sleep(50 * time.Millisecond)

	second, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = second.Read(buf)
	assert.Error(t, err, "second connection should be closed by the server")
}
