package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/fibercore/internal/app"
	"github.com/ternarybob/fibercore/internal/common"
)

// Server serves the HTTP API, the worker emit endpoint and the notification WebSocket
type Server struct {
	app    *app.App
	server *http.Server
}

// New creates the HTTP server for a serve-mode application
func New(application *app.App) *Server {
	s := &Server{app: application}

	config := application.Config.Server
	s.server = &http.Server{
		Addr:         net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		Handler:      s.withMiddleware(s.setupRoutes()),
		ReadTimeout:  common.ParseDuration(config.ReadTimeout, 15*time.Second),
		WriteTimeout: common.ParseDuration(config.WriteTimeout, 30*time.Second),
		IdleTimeout:  common.ParseDuration(config.IdleTimeout, 60*time.Second),
	}

	return s
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start listens on the configured address and serves until Shutdown
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(listener)
}

// Serve serves on listener until Shutdown
func (s *Server) Serve(listener net.Listener) error {
	s.app.Logger.Info().
		Str("address", listener.Addr().String()).
		Str("mode", string(s.app.Mode)).
		Msg("HTTP server listening")

	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}
