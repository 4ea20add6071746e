// Package main runs the Local-mode Greeter example service over a plain
// TCP listener.
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
	"github.com/pajamax-go/pajamax/examples/greeter"
	"github.com/pajamax-go/pajamax/logging"
	"github.com/pajamax-go/pajamax/server"
	"github.com/pajamax-go/pajamax/service"
)

type myGreeter struct{}

func (myGreeter) SayHello(req greeter.HelloRequest) (greeter.HelloReply, error) {
	return greeter.HelloReply{Message: "Hello " + req.Name + "!"}, nil
}

type serveOptions struct {
	host            string
	port            int
	maxConns        int
	idleTimeout     time.Duration
	writeTimeout    time.Duration
	gracefulTimeout time.Duration
	logFile         string
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "pajamax-greeter [flags]",
		Short: "Run the Greeter example service",
		Long: `Run a thread-per-connection gRPC server exposing a single
Greeter.SayHello method, demonstrating Local-mode request handling.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "127.0.0.1", "listen host")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 50051, "listen port")
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

	svc := greeter.NewServer(myGreeter{})
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
		return conn.New(c, services, connOpts).Run()
	}, srvOpts)

	go func() {
		logger.Info("greeter listening", zap.String("addr", addr))
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

func main() {
	if err := newServeCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
