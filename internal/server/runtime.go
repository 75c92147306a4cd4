// Package server exposes the control endpoint: start a task, shut down.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/iambrandonn/planact/internal/session"
)

// Runner executes runs on behalf of the endpoint
type Runner interface {
	Start(ctx context.Context, req session.Request) (session.Outcome, error)
	Shutdown(ctx context.Context) error
}

type Options struct {
	Addr string
	// ShutdownGrace is waited between the shutdown reply and closing the server.
	ShutdownGrace time.Duration
	// ShutdownTimeout bounds ending the active run and draining requests.
	ShutdownTimeout time.Duration
}

// Runtime is the HTTP control endpoint
type Runtime struct {
	opts   Options
	runner Runner
	logger *slog.Logger
	server *http.Server

	mu       sync.Mutex
	stopping bool
	stop     chan struct{}
	addr     net.Addr
	ready    chan struct{}
}

// NewRuntime creates an endpoint serving runner
func NewRuntime(runner Runner, options Options, logger *slog.Logger) *Runtime {
	options = normalizeOptions(options)
	r := &Runtime{
		opts:   options,
		runner: runner,
		logger: logger.With("component", "server"),
		stop:   make(chan struct{}),
		ready:  make(chan struct{}),
	}
	r.server = &http.Server{
		Addr:              options.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return r
}

func normalizeOptions(options Options) Options {
	if options.Addr == "" {
		options.Addr = "127.0.0.1:9877"
	}
	if options.ShutdownGrace < 0 {
		options.ShutdownGrace = 0
	}
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = 30 * time.Second
	}
	return options
}

// Run serves until ctx is cancelled or a shutdown request arrives. The
// active run is ended before the listener closes.
func (r *Runtime) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", r.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.opts.Addr, err)
	}

	r.mu.Lock()
	r.addr = listener.Addr()
	r.mu.Unlock()
	close(r.ready)

	r.logger.Info("control endpoint listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := r.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("context cancelled, shutting down")
	case <-r.stop:
		r.logger.Info("shutdown requested")
	case err := <-errCh:
		if err != nil {
			r.endActiveRun()
			return fmt.Errorf("control endpoint failed: %w", err)
		}
	}

	r.endActiveRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.opts.ShutdownTimeout)
	defer cancel()
	if err := r.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down control endpoint: %w", err)
	}
	r.logger.Info("control endpoint stopped")
	return nil
}

// endActiveRun asks the runner to finish the active run within ShutdownTimeout
func (r *Runtime) endActiveRun() {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ShutdownTimeout)
	defer cancel()

	if err := r.runner.Shutdown(ctx); err != nil {
		r.logger.Warn("active run did not end cleanly", "error", err)
	}
}

// Addr returns the bound address once the listener is up
func (r *Runtime) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-r.ready:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stopped is closed when a shutdown request has passed its grace delay
func (r *Runtime) Stopped() <-chan struct{} {
	return r.stop
}

// requestShutdown reports false if shutdown was already requested
func (r *Runtime) requestShutdown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopping {
		return false
	}
	r.stopping = true

	time.AfterFunc(r.opts.ShutdownGrace, func() { close(r.stop) })
	return true
}
