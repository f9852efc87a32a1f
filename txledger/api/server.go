package api

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Server provides the HTTP endpoints of the ledger
type Server struct {
	ledger   Ledger
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
	server   *http.Server
}

// NewServer creates a new Server instance. A nil gatherer serves the default
// prometheus registry.
func NewServer(ledger Ledger, gatherer prometheus.Gatherer, logger zerolog.Logger, port int) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		ledger:   ledger,
		gatherer: gatherer,
		logger:   logger.With().Str("component", "api").Logger(),
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	if s.server == nil {
		return fmt.Errorf("query server is nil")
	}

	startupChan := make(chan error, 1)

	go func() {
		ln, err := net.Listen("tcp", s.server.Addr)
		if err != nil {
			startupChan <- fmt.Errorf("failed to bind to address %s: %w", s.server.Addr, err)
			return
		}
		startupChan <- nil

		err = s.server.Serve(ln)
		switch err {
		case nil:
			s.logger.Info().Msg("query server stopped normally")
		case http.ErrServerClosed:
			s.logger.Info().Msg("query server closed gracefully")
		default:
			s.logger.Error().Err(err).Msg("query server error")
		}
	}()

	select {
	case err := <-startupChan:
		if err != nil {
			return err
		}
		s.logger.Info().Str("addr", s.server.Addr).Msg("query server started")
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("server startup timeout")
	}
}

// Stop shuts down the HTTP server
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
