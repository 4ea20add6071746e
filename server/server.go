// Package server implements the listener/supervisor described in
// spec.md §4.10: accept a TCP socket in a loop, spawn one goroutine per
// connection (capped by a live-connection counter), and support a
// graceful shutdown that the hard-core spec does not itself describe.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/pajamax-go/pajamax/metrics"
)

// Options configures the listener. MaxConcurrentConnections defaults to
// 100 per spec.md §6; IdleTimeout is applied to each accepted socket as
// an initial read deadline before the connection handler runs.
// WriteTimeout is not applied by the listener.
type Options struct {
	MaxConcurrentConnections int
	IdleTimeout              time.Duration
	WriteTimeout             time.Duration
	Logger                   *zap.Logger
}

// DefaultOptions returns the framework's documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentConnections: 100,
		IdleTimeout:              60 * time.Second,
		WriteTimeout:             10 * time.Second,
		Logger:                   zap.NewNop(),
	}
}

// ConnHandler drives one accepted connection to completion (handshake
// through close). It is invoked on its own goroutine, named
// "pajamax-w" in spirit (Go goroutines have no OS thread name, so no
// name is set).
type ConnHandler func(net.Conn) error

// Server is the listener/supervisor: it accepts connections and spawns a
// handler goroutine for each, subject to the concurrency cap.
type Server struct {
	ln      net.Listener
	opts    Options
	handler ConnHandler

	concurrent atomic.Int64

	wg       sync.WaitGroup
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	closing  atomic.Bool
}

// New wraps an already-bound listener with the accept loop. Binding the
// socket itself is outside this framework's scope, per spec.md §1.
func New(ln net.Listener, handler ConnHandler, opts Options) *Server {
	return &Server{
		ln:      ln,
		opts:    opts,
		handler: handler,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Serve runs the accept loop until the listener is closed (by Shutdown
// or externally). It returns nil once Shutdown has been called;
// otherwise it returns the error Accept reported.
func (s *Server) Serve() error {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			return err
		}

		if s.concurrent.Load() >= int64(s.opts.MaxConcurrentConnections) {
			metrics.ConnectionsDropped.Inc()
			_ = c.Close()
			continue
		}

		if s.opts.IdleTimeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		}

		s.concurrent.Add(1)
		metrics.ConnectionsAccepted.Inc()
		metrics.ActiveConnections.Set(float64(s.concurrent.Load()))

		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.runConn(c)
	}
}

func (s *Server) runConn(c net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()

		s.concurrent.Add(-1)
		metrics.ActiveConnections.Set(float64(s.concurrent.Load()))
	}()

	if err := s.handler(c); err != nil {
		s.opts.Logger.Warn("connection closed with error", zap.Error(err))
	}
}

// Shutdown stops accepting new connections, closes every live
// connection, and waits for their handler goroutines to return or for
// ctx to be done, whichever comes first. Every connection-close error is
// aggregated via go-multierror rather than only reporting the first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	s.mu.Lock()
	var closeErrs *multierror.Error
	for c := range s.conns {
		if err := c.Close(); err != nil {
			closeErrs = multierror.Append(closeErrs, err)
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		closeErrs = multierror.Append(closeErrs, ctx.Err())
	}

	return closeErrs.ErrorOrNil()
}
