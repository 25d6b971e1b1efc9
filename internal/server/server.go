// Package server runs the HTTP API and the webhook worker pool until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/api"
	"github.com/Athena-vivi/LMSY.space-sub002/internal/app"
)

const defaultShutdownTimeout = 15 * time.Second

// Server owns the HTTP listener and the background dispatcher.
type Server struct {
	app  *app.App
	http *http.Server
}

// New wires the API onto the services in a.
func New(a *app.App) *Server {
	handler := api.NewServer(api.Deps{
		Drafts:   a.Drafts,
		Blob:     a.Blob,
		Runs:     a.Runs,
		Ingester: a.Pipeline,
		Poller:   a.Poller,
		Queue:    a.Dispatcher,
		Updates:  a.Updates,
		Locks:    a.Locks,
		Clock:    a.Clock,
		Checks:   a.Checks,
	}, a.Config, a.Logger)
	return &Server{
		app: a,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
			Handler:           handler.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx ends or SIGINT/SIGTERM arrives, then shuts down:
// stop accepting requests, close the queue, let workers drain what is
// queued, and finally close the app.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger := s.app.Logger

	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		logger.Info("dispatcher started", zap.Int("workers", s.app.Config.Telegram.Workers))
		s.app.Dispatcher.Run(workerCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
			runErr = fmt.Errorf("serve http: %w", err)
		}
	}
	logger.Info("shutdown initiated")

	timeout := s.app.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	s.app.Queue.Close()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		logger.Warn("webhook queue not drained before shutdown deadline", zap.Int("remaining", s.app.Queue.Len()))
		cancelWorkers()
		<-workersDone
	}

	if err := s.app.Close(shutdownCtx); err != nil {
		logger.Warn("application close reported errors", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return runErr
}
