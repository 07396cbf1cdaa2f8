package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/pannpers/go-logging/logging"

	"github.com/ticketcore/scancore/pkg/config"
)

// Server wraps the chi-routed scan/manifest/mint API in a *http.Server,
// following the same Start-blocks/Stop-drains shape as the Connect server
// this core's teacher uses, without the Connect-RPC handler registration
// this core doesn't need.
type Server struct {
	srv     *http.Server
	logger  *logging.Logger
	cfg     *config.Config
	address string
}

// NewServer builds a Server around handler, already wrapped with CORS and
// auth middleware by the caller.
func NewServer(cfg *config.Config, logger *logging.Logger, handler http.Handler) *Server {
	address := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))

	srv := &http.Server{
		Addr:              address,
		Handler:           http.TimeoutHandler(handler, cfg.Server.HandlerTimeout, ""),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	return &Server{srv: srv, logger: logger, cfg: cfg, address: address}
}

// Start begins listening and blocks until the server is stopped.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "http server starting", slog.String("address", s.address))
	return s.srv.ListenAndServe()
}

// Stop gracefully drains in-flight requests and shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info(ctx, "http server shutting down")
	return s.srv.Shutdown(ctx)
}
