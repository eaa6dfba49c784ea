// Package service wraps a pipeline in a deployable process boundary: an
// HTTP server for health and metrics probes, and ordered shutdown
// sequencing. Signal handling belongs here, at the process edge, not in the
// pipeline core.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-ingest/pkg/ingest"
)

// Config holds the service-level configuration.
type Config struct {
	// HTTPPort is the listen address for probes, e.g. ":8080".
	HTTPPort string `yaml:"http_port"`
	// LogLevel sets the zerolog global level name.
	LogLevel string `yaml:"log_level"`
}

// IngestService runs a pipeline behind an HTTP probe surface.
type IngestService struct {
	pipeline *ingest.Pipeline
	logger   zerolog.Logger

	httpPort   string
	httpServer *http.Server
	mux        *http.ServeMux

	mu         sync.RWMutex
	actualAddr string
}

// New creates a service around a constructed pipeline.
func New(cfg *Config, pipeline *ingest.Pipeline, logger zerolog.Logger) (*IngestService, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	port := cfg.HTTPPort
	if port == "" {
		port = ":8080"
	}

	s := &IngestService{
		pipeline: pipeline,
		logger:   logger.With().Str("service", "IngestService").Logger(),
		httpPort: port,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("/healthz", s.healthzHandler)
	s.mux.HandleFunc("/metricz", s.metriczHandler)
	s.httpServer = &http.Server{Addr: port, Handler: s.mux}
	return s, nil
}

// Start launches the pipeline and then the HTTP server.
func (s *IngestService) Start(ctx context.Context) error {
	if err := s.pipeline.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	listener, err := net.Listen("tcp", s.httpPort)
	if err != nil {
		stopCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		_ = s.pipeline.Stop(stopCtx)
		return fmt.Errorf("failed to listen on %s: %w", s.httpPort, err)
	}

	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info().Str("address", s.actualAddr).Msg("HTTP server starting to listen")
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()
	return nil
}

// Shutdown drains the pipeline, then stops the HTTP server. The context
// bounds the whole sequence.
func (s *IngestService) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down ingest service...")

	var errs []error
	if err := s.pipeline.Drain(ctx); err != nil {
		errs = append(errs, fmt.Errorf("pipeline drain: %w", err))
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	if len(errs) == 0 {
		s.logger.Info().Msg("Ingest service stopped.")
	}
	return errors.Join(errs...)
}

// Mux returns the underlying ServeMux so callers can add endpoints.
func (s *IngestService) Mux() *http.ServeMux {
	return s.mux
}

// GetHTTPPort returns the actual port the server is listening on, which may
// differ from the configured one when ":0" is used in tests.
func (s *IngestService) GetHTTPPort() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, port, err := net.SplitHostPort(s.actualAddr)
	if err != nil {
		return s.httpPort
	}
	return ":" + port
}

// healthzHandler reports 200 while the pipeline is healthy and 503 once it
// has recorded a structural failure.
func (s *IngestService) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	if err := s.pipeline.Err(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// metriczHandler serves the aggregate pipeline counters as JSON.
func (s *IngestService) metriczHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.pipeline.Metrics()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode metrics snapshot.")
	}
}
