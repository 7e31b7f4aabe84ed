package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"lift-robot-bridge/internal/auth"
	"lift-robot-bridge/internal/config"
	"lift-robot-bridge/internal/elevator"
)

// Server is the robot-facing HTTP API server
type Server struct {
	config     *config.Config
	logger     *logrus.Entry
	router     *mux.Router
	httpServer *http.Server
	handlers   *Handlers
	verifier   *auth.Verifier
}

// NewServer creates the API server over the elevator service
func NewServer(cfg *config.Config, logger *logrus.Entry, service *elevator.Service) *Server {
	server := &Server{
		config:   cfg,
		logger:   logger,
		router:   mux.NewRouter(),
		verifier: auth.NewVerifier(cfg.AppName, cfg.AppSecret, cfg.DeviceSecret),
	}

	server.handlers = NewHandlers(cfg, logger, service)

	server.setupMiddleware()
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort),
		Handler:      server.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return server
}

// Router exposes the configured router for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		return s.Shutdown()
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("Error during server shutdown")
		return err
	}

	s.logger.Info("API server shutdown complete")
	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
}

func (s *Server) setupRoutes() {
	lift := s.router.PathPrefix("/openapi/v5/lift").Subrouter()
	lift.Use(s.signatureMiddleware)

	lift.HandleFunc("/list", s.handlers.ListElevators).Methods("POST")
	lift.HandleFunc("/status", s.handlers.LiftStatus).Methods("POST")
	lift.HandleFunc("/call", s.handlers.CallElevator).Methods("POST")
	lift.HandleFunc("/open", s.handlers.DelayDoors).Methods("POST")
	lift.HandleFunc("/lock", s.handlers.LockElevator).Methods("POST")
}
