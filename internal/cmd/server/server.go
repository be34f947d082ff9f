// Package server implements the watch server runtime: the ConnectRPC
// HTTP endpoint plus the background loops that keep the collection
// cache healthy.
package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/otterscale/otterscale-watch/internal/core"
	"github.com/otterscale/otterscale-watch/internal/transport"
	"github.com/otterscale/otterscale-watch/internal/transport/http"
)

// Config holds the runtime parameters for a Server.
type Config struct {
	Address        string
	AllowedOrigins []string
}

// Server binds the HTTP server (gRPC + Connect) and runs it together
// with the background listeners via transport.Serve.
type Server struct {
	version    core.Version
	handler    *Handler
	background BackgroundListeners
}

// NewServer returns a Server wired to the given handler and background
// listeners.
func NewServer(version core.Version, handler *Handler, background BackgroundListeners) *Server {
	return &Server{
		version:    version,
		handler:    handler,
		background: background,
	}
}

// Run starts the HTTP server and every background listener. It blocks
// until ctx is cancelled or an unrecoverable error occurs.
func (s *Server) Run(ctx context.Context, cfg Config) error {
	httpSrv, err := http.NewServer(
		http.WithAddress(cfg.Address),
		http.WithAllowedOrigins(cfg.AllowedOrigins),
		http.WithMount(s.handler.Mount),
	)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	slog.Info("starting watch server", "version", s.version, "address", cfg.Address)

	listeners := make([]transport.Listener, 0, len(s.background)+1)
	listeners = append(listeners, httpSrv)
	listeners = append(listeners, s.background...)

	return transport.Serve(ctx, listeners...)
}
