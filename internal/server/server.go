// Package server runs the HTTP service and its background workers.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/phishlens/phishlens/internal/blocklist"
	"github.com/phishlens/phishlens/internal/config"
)

// Options carries the background workers tied to the server lifetime.
type Options struct {
	// Syncer, when set, keeps the local blocklist current while serving.
	Syncer *blocklist.Syncer
	// Watcher, when set, reloads local lists on change.
	Watcher *blocklist.Watcher
	Logger  *slog.Logger
}

type Server struct {
	httpServer *http.Server
	httpLn     net.Listener

	syncer          *blocklist.Syncer
	watcher         *blocklist.Watcher
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// New binds the listener and prepares handler for serving.
func New(cfg *config.Config, handler http.Handler, opts Options) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	readTimeout, err := time.ParseDuration(cfg.Server.HTTP.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse server.http.read_timeout: %w", err)
	}
	writeTimeout, err := time.ParseDuration(cfg.Server.HTTP.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse server.http.write_timeout: %w", err)
	}
	maxReqBytes, err := config.ParseByteSize(cfg.Server.HTTP.MaxRequestSize)
	if err != nil {
		return nil, fmt.Errorf("parse server.http.max_request_size: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.Server.HTTP.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Server.HTTP.Addr, err)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTP.Addr,
			Handler:           withRequestBodyLimit(handler, maxReqBytes),
			ReadHeaderTimeout: 15 * time.Second,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
		},
		httpLn:          ln,
		syncer:          opts.Syncer,
		watcher:         opts.Watcher,
		shutdownTimeout: cfg.Server.ShutdownTimeout,
		logger:          opts.Logger,
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.httpLn.Addr().String()
}

// Run serves until ctx ends or SIGINT/SIGTERM arrives, then shuts down
// gracefully and waits for background workers to stop.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bgCtx, cancelBG := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancelBG()
		wg.Wait()
	}()

	if s.syncer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.syncer.Run(bgCtx)
		}()
	}
	if s.watcher != nil {
		if err := s.watcher.Start(bgCtx); err != nil {
			s.logger.Warn("blocklist watcher not started", "error", err)
		} else {
			defer func() { _ = s.watcher.Stop() }()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("serving", "addr", s.Addr())

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Close stops the server immediately.
func (s *Server) Close() error {
	return s.httpServer.Close()
}

func withRequestBodyLimit(next http.Handler, maxBytes int64) http.Handler {
	if maxBytes <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}
