// Package server constructs and starts the chat HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Server owns the registry, router, and HTTP listener of one chat process.
type Server struct {
	cfg        Config
	deps       Dependencies
	hub        *Hub
	router     *Router
	origins    originPolicy
	upgrader   websocket.Upgrader
	log        *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	httpServer *http.Server
}

// New validates deps and builds a server from cfg. Zero config values fall
// back to defaults.
func New(cfg Config, deps Dependencies, log *slog.Logger) (*Server, error) {
	switch {
	case deps.Validator == nil:
		return nil, errors.New("server: credential validator is required")
	case deps.Members == nil:
		return nil, errors.New("server: membership oracle is required")
	case deps.Messages == nil:
		return nil, errors.New("server: message store is required")
	}
	if log == nil {
		log = slog.Default()
	}

	cfg = cfg.sanitize()
	hub := NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		hub:     hub,
		router:  NewRouter(hub, log),
		origins: newOriginPolicy(cfg.AllowedOrigins, log),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.httpServer = CreateServer(cfg.Addr, s.Routes())
	return s, nil
}

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Hub exposes the connection registry.
func (s *Server) Hub() *Hub { return s.hub }

// Router exposes the broadcast router.
func (s *Server) Router() *Router { return s.router }

// ListenAndServe starts the HTTP server and blocks until it exits. It
// returns nil after a graceful Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("Server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then closes every live connection with
// a going-away code and waits for their sessions within the configured
// timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server")

	httpErr := s.httpServer.Shutdown(ctx)
	if httpErr != nil {
		s.log.Error("HTTP server shutdown error", "error", httpErr)
	}

	s.cancel()
	hubErr := s.hub.Shutdown(s.cfg.ShutdownTimeout)

	s.log.Info("HTTP server shutdown completed")
	return errors.Join(httpErr, hubErr)
}
