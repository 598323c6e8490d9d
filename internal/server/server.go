// Package server wires the store, secret model, SigV4 verifier and HTTP
// front-end into a runnable Loker instance.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/lokerhq/loker/internal/api"
	"github.com/lokerhq/loker/internal/clock"
	"github.com/lokerhq/loker/internal/config"
	"github.com/lokerhq/loker/internal/metrics"
	"github.com/lokerhq/loker/internal/middleware"
	"github.com/lokerhq/loker/internal/reaper"
	"github.com/lokerhq/loker/internal/secrets"
	"github.com/lokerhq/loker/internal/sigv4"
	"github.com/lokerhq/loker/internal/store"
)

// Server represents the Loker server.
type Server struct {
	config      *config.Config
	logger      *logrus.Logger
	httpServer  *http.Server
	store       *store.Store
	manager     *secrets.Manager
	verifier    *sigv4.Verifier
	metrics     *metrics.Metrics
	purgeWorker *reaper.Worker
}

// New creates a new Loker server, opening and unlocking the store.
func New(cfg *config.Config, logger *logrus.Logger) (*Server, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	st, err := store.Open(cfg.DatabasePath, cfg.EncryptionKey, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open secret store: %w", err)
	}

	clk := clock.System()
	manager := secrets.NewManager(st, clk, logger, cfg.Region, cfg.AccountID)
	verifier := sigv4.NewVerifier(sigv4.Credential{
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.AccessKeySecret,
	}, clk)

	server := &Server{
		config:   cfg,
		logger:   logger,
		store:    st,
		manager:  manager,
		verifier: verifier,
	}

	if cfg.Metrics.Enable {
		server.metrics = metrics.New()
	}
	if cfg.Purge.Enable {
		server.purgeWorker = reaper.NewWorker(st, clk, logger)
	}

	server.httpServer = &http.Server{
		Addr:         cfg.Listen,
		Handler:      server.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server, nil
}

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()

	apiHandler := http.Handler(api.NewHandler(s.manager, s.logger))
	apiHandler = middleware.Authenticate(s.verifier, s.logger)(apiHandler)
	apiHandler = middleware.Logging(s.logger)(apiHandler)
	if s.metrics != nil {
		apiHandler = s.metrics.Middleware()(apiHandler)
		router.Handle(s.config.Metrics.Path, s.metrics.Handler()).Methods(http.MethodGet)
	}

	router.Handle("/", apiHandler).Methods(http.MethodPost)

	return handlers.RecoveryHandler(handlers.RecoveryLogger(s.logger))(router)
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"address": s.config.Listen,
		"db_path": s.config.DatabasePath,
		"https":   s.config.UseHTTPS,
	}).Info("Starting Loker server")

	if s.purgeWorker != nil {
		interval, err := time.ParseDuration(s.config.Purge.Interval)
		if err != nil {
			return fmt.Errorf("invalid purge interval: %w", err)
		}
		s.purgeWorker.Start(ctx, interval)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.listen(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		s.shutdown()
		return err
	case <-ctx.Done():
		return s.shutdown()
	}
}

func (s *Server) listen() error {
	if s.config.UseHTTPS {
		return s.httpServer.ListenAndServeTLS(s.config.CertPath, s.config.KeyPath)
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) shutdown() error {
	s.logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to shutdown HTTP server")
	}

	if s.purgeWorker != nil {
		s.purgeWorker.Stop()
	}

	if err := s.store.Close(); err != nil {
		s.logger.WithError(err).Error("Failed to close secret store")
		return err
	}

	return nil
}

// Handler exposes the full middleware-wrapped route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
