// Package main runs the Dispatch-mode Dict example service: a sharded
// in-memory key/value store, each shard owned by its own worker
// goroutine, fronted by one connection engine per accepted socket.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pajamax-go/pajamax/conn"
	"github.com/pajamax-go/pajamax/connio"
	"github.com/pajamax-go/pajamax/dispatch"
	"github.com/pajamax-go/pajamax/examples/dict"
	"github.com/pajamax-go/pajamax/logging"
	"github.com/pajamax-go/pajamax/server"
	"github.com/pajamax-go/pajamax/service"
)

type serveOptions struct {
	host            string
	port            int
	shards          int
	shardQueueDepth int
	maxConns        int
	idleTimeout     time.Duration
	writeTimeout    time.Duration
	gracefulTimeout time.Duration
	logFile         string
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "pajamax-dict [flags]",
		Short: "Run the sharded Dict store example service",
		Long: `Run a thread-per-connection gRPC server exposing a sharded
key/value store, demonstrating Dispatch-mode request handling: every
Get/Set/Delete call is hashed to a shard worker goroutine, and
ListShard addresses one shard by index.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "127.0.0.1", "listen host")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 50052, "listen port")
	cmd.Flags().IntVar(&opts.shards, "shards", 8, "number of shard worker goroutines")
	cmd.Flags().IntVar(&opts.shardQueueDepth, "shard-queue-depth", 64, "per-shard request channel capacity")
	cmd.Flags().IntVar(&opts.maxConns, "max-connections", 100, "maximum concurrent connections")
	cmd.Flags().DurationVar(&opts.idleTimeout, "idle-timeout", 60*time.Second, "per-connection idle read timeout")
	cmd.Flags().DurationVar(&opts.writeTimeout, "write-timeout", 10*time.Second, "per-connection write timeout")
	cmd.Flags().DurationVar(&opts.gracefulTimeout, "graceful-timeout", 10*time.Second, "shutdown grace period")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "log file path (rotated via lumberjack); empty logs to stdout")

	return cmd
}

func runServe(opts *serveOptions) error {
	logOpts := logging.DefaultOptions()
	logOpts.Filename = opts.logFile
	logger := logging.New(logOpts)
	defer logger.Sync()

	addr := fmt.Sprintf("%s:%d", opts.host, opts.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	reqTxs := make([]chan dispatch.Request[dict.Request], opts.shards)
	for i := range reqTxs {
		reqTxs[i] = make(chan dispatch.Request[dict.Request], opts.shardQueueDepth)
		shard := dict.NewShard()
		go shard.Run(reqTxs[i])
	}

	svc := dict.NewDispatch(reqTxs, logger)
	services := []service.Service{svc}

	connOpts := conn.DefaultOptions()
	connOpts.IdleTimeout = opts.idleTimeout
	connOpts.WriteTimeout = opts.writeTimeout
	connOpts.Logger = logger

	srvOpts := server.DefaultOptions()
	srvOpts.MaxConcurrentConnections = opts.maxConns
	srvOpts.IdleTimeout = opts.idleTimeout
	srvOpts.WriteTimeout = opts.writeTimeout
	srvOpts.Logger = logger

	srv := server.New(ln, func(c net.Conn) error {
		return serveDispatchConn(c, services, connOpts)
	}, srvOpts)

	go func() {
		logger.Info("dict store listening", zap.String("addr", addr), zap.Int("shards", opts.shards))
		if err := srv.Serve(); err != nil {
			logger.Warn("serve loop stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), opts.gracefulTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// serveDispatchConn wires one accepted connection's Dispatch-mode engine
// to its own output goroutine: the engine's input goroutine (this one)
// only reads frames and ships decoded requests to shard workers; the
// output goroutine owns the socket writes and the HPACK encoder state.
func serveDispatchConn(c net.Conn, services []service.Service, opts conn.Options) error {
	respCh := make(chan dispatch.Response, opts.MaxConcurrentStreams)
	out := connio.New(c, opts.FlushPolicy)

	done := make(chan struct{})
	go func() {
		dispatch.OutputRoutine(out, respCh, opts.Logger)
		out.Release()
		close(done)
	}()

	engine := conn.New(c, services, opts)
	runErr := engine.RunDispatch(respCh)
	close(respCh)
	<-done

	return runErr
}

func main() {
	if err := newServeCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
