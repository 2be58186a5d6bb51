package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/perflab/labdash/pkg/api/store"
	"github.com/perflab/labdash/pkg/config"
	"github.com/perflab/labdash/pkg/results"
	"github.com/sirupsen/logrus"
)

const (
	shutdownTimeout        = 10 * time.Second
	sessionCleanupInterval = 15 * time.Minute
)

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log         logrus.FieldLogger
	cfg         *config.APIConfig
	store       store.Store
	results     results.Store
	presigner   *s3Presigner
	localServer *localFileServer
	httpServer  *http.Server
	wg          sync.WaitGroup
	done        chan struct{}
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
) Server {
	return &server{
		log:  log.WithField("component", "api"),
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// Start initializes the stores, seeds config data, and starts the HTTP
// server.
func (s *server) Start(ctx context.Context) error {
	s.store = store.NewStore(s.log, &s.cfg.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	s.results = results.NewStore(s.log, &s.cfg.Database)
	if err := s.results.Start(ctx); err != nil {
		return fmt.Errorf("starting results store: %w", err)
	}

	if err := s.store.SeedUsers(ctx, s.cfg.Auth.Users); err != nil {
		return fmt.Errorf("seeding users: %w", err)
	}

	if s.cfg.Storage.S3 != nil && s.cfg.Storage.S3.Enabled {
		presigner, err := newS3Presigner(s.log, s.cfg.Storage.S3)
		if err != nil {
			return fmt.Errorf("initializing s3 presigner: %w", err)
		}

		s.presigner = presigner

		s.log.Info("S3 presigned URL generation enabled")
	}

	if s.cfg.Storage.Local != nil && s.cfg.Storage.Local.Enabled {
		s.localServer = newLocalFileServer(s.log, s.cfg.Storage.Local)

		s.log.Info("Local artifact serving enabled")
	}

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Session cleanup goroutine.
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(sessionCleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.cleanupExpired()
			case <-s.done:
				return
			}
		}
	}()

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// cleanupExpired purges expired sessions and API keys. It runs on a
// background context so a canceled serve context cannot abort a sweep
// that fires during shutdown.
func (s *server) cleanupExpired() {
	ctx := context.Background()

	if err := s.store.DeleteExpiredSessions(ctx); err != nil {
		s.log.WithError(err).Warn("Failed to clean expired sessions")
	}

	if err := s.store.DeleteExpiredAPIKeys(ctx); err != nil {
		s.log.WithError(err).Warn("Failed to clean expired API keys")
	}
}

// Stop gracefully shuts down the HTTP server and closes the stores.
func (s *server) Stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.results != nil {
		if err := s.results.Stop(); err != nil {
			s.log.WithError(err).Warn("Results store stop error")
		}
	}

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
