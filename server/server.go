// Package server is the thin HTTP surface over the research manager.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/bububa/deep-researcher/research"
)

type Config struct {
	addr            string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	logger          *zap.Logger
}

type Option func(*Config)

func WithAddr(addr string) Option {
	return func(c *Config) {
		c.addr = addr
	}
}

// WithTimeouts sets the listener timeouts. The write timeout bounds SSE
// stream lifetime, so it should comfortably exceed the research deadline
// ceiling.
func WithTimeouts(read, write, shutdown time.Duration) Option {
	return func(c *Config) {
		c.readTimeout = read
		c.writeTimeout = write
		c.shutdownTimeout = shutdown
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		c.logger = logger
	}
}

// Server routes research requests to the manager.
type Server struct {
	Config
	manager *research.Manager
	httpSrv *http.Server
}

func New(manager *research.Manager, opts ...Option) *Server {
	s := &Server{manager: manager}
	for _, opt := range opts {
		opt(&s.Config)
	}
	if s.addr == "" {
		s.addr = ":8080"
	}
	if s.readTimeout == 0 {
		s.readTimeout = 15 * time.Second
	}
	if s.writeTimeout == 0 {
		s.writeTimeout = 15 * time.Minute
	}
	if s.shutdownTimeout == 0 {
		s.shutdownTimeout = 10 * time.Second
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.httpSrv = &http.Server{
		Addr:         s.addr,
		Handler:      s.Routes(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}
	return s
}

// Routes builds the router. Exposed for tests.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestID, s.accessLog)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/research", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/research/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/research/{id}", s.handleCancel).Methods(http.MethodDelete)
	api.HandleFunc("/research/{id}/events", s.handleEvents).Methods(http.MethodGet)
	return r
}

// Run serves until ctx is cancelled, then drains connections within the
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
