package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Timeouts bounds each phase of a connection. Zero values take the defaults.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

// New builds an HTTP server with bounded read, write and idle timeouts.
func New(addr string, handler http.Handler, t Timeouts) *http.Server {
	if t.Read == 0 {
		t.Read = 10 * time.Second
	}
	if t.Write == 0 {
		t.Write = 15 * time.Second
	}
	if t.Idle == 0 {
		t.Idle = 60 * time.Second
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       t.Read,
		WriteTimeout:      t.Write,
		IdleTimeout:       t.Idle,
	}
}

// Worker is a background loop that returns once its context is done.
type Worker func(ctx context.Context) error

// Run serves srv on ln alongside workers until ctx is done or a worker
// fails. The server is shut down first; workers are cancelled only after
// Shutdown returns, so anything queued by in-flight requests is still seen
// by them.
func Run(ctx context.Context, srv *http.Server, ln net.Listener, shutdownTimeout time.Duration, logger *slog.Logger, workers ...Worker) error {
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()
	g, gctx := errgroup.WithContext(workerCtx)
	for _, w := range workers {
		g.Go(func() error { return w(gctx) })
	}

	served := make(chan error, 1)
	go func() {
		logger.Info("starting authgate", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			served <- fmt.Errorf("http server: %w", err)
			return
		}
		served <- nil
	}()

	var err error
	select {
	case err = <-served:
	case <-ctx.Done():
		err = shutdown(srv, served, shutdownTimeout, logger)
	case <-gctx.Done():
		err = shutdown(srv, served, shutdownTimeout, logger)
	}

	stopWorkers()
	return errors.Join(err, g.Wait())
}

func shutdown(srv *http.Server, served <-chan error, timeout time.Duration, logger *slog.Logger) error {
	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return <-served
}
