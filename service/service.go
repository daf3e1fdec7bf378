// Package service runs the HTTP side servers of a conformance run: the
// healthz endpoint and, when enabled, the prometheus metrics endpoint.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/optimism/op-service/httputil"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/infra/op-conformance/metrics"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = 8080
)

// Config holds configuration for creating a new Service
type Config struct {
	// HealthzAddr is the healthz listen address; empty disables the server.
	HealthzAddr string
	Metrics     opmetrics.CLIConfig
	BuildState  BuildStateFunc
	Log         log.Logger
}

// DefaultHealthzAddr is the listen address used when healthz is enabled
// without an explicit address.
func DefaultHealthzAddr() string {
	return net.JoinHostPort(HealthzHost, strconv.Itoa(HealthzPort))
}

type Service struct {
	cfg           Config
	log           log.Logger
	Healthz       *HealthzServer
	metricsServer *httputil.HTTPServer
}

func New(cfg Config) (*Service, error) {
	if err := cfg.Metrics.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	s := &Service{
		cfg: cfg,
		log: cfg.Log.New("component", "service"),
	}
	if cfg.HealthzAddr != "" {
		s.Healthz = NewHealthzServer(cfg.BuildState, cfg.Log)
	}
	return s, nil
}

func (s *Service) Start(ctx context.Context) error {
	s.log.Info("service starting")

	if s.Healthz != nil {
		s.log.Info("starting healthz server", "addr", s.cfg.HealthzAddr)
		if err := s.Healthz.Start(ctx, s.cfg.HealthzAddr); err != nil {
			metrics.RecordErrorDetails("error starting healthz server", err)
			return fmt.Errorf("failed to start healthz server: %w", err)
		}
	}

	if s.cfg.Metrics.Enabled {
		s.log.Info("starting metrics server", "addr", s.cfg.Metrics.ListenAddr, "port", s.cfg.Metrics.ListenPort)
		srv, err := opmetrics.StartServer(metrics.Registry, s.cfg.Metrics.ListenAddr, s.cfg.Metrics.ListenPort)
		if err != nil {
			metrics.RecordErrorDetails("error starting metrics server", err)
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		s.log.Info("started metrics server", "endpoint", srv.Addr())
		s.metricsServer = srv
	}

	s.log.Info("service started")
	return nil
}

// MetricsAddr returns the metrics server address, or nil when it is not running.
func (s *Service) MetricsAddr() net.Addr {
	if s.metricsServer == nil {
		return nil
	}
	return s.metricsServer.Addr()
}

func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("service shutting down")

	var result error
	if s.Healthz != nil {
		if err := s.Healthz.Shutdown(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop healthz server: %w", err))
		}
		s.log.Info("healthz stopped")
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Stop(ctx); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to stop metrics server: %w", err))
		}
		s.log.Info("metrics stopped")
	}

	s.log.Info("service stopped")
	return result
}
