package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/agrisense/agrisense-core/internal/alert"
	"github.com/agrisense/agrisense-core/internal/broker"
	"github.com/agrisense/agrisense-core/internal/device"
	"github.com/agrisense/agrisense-core/internal/infrastructure/config"
	"github.com/agrisense/agrisense-core/internal/infrastructure/logging"
	"github.com/agrisense/agrisense-core/internal/ingest"
	"github.com/agrisense/agrisense-core/internal/reading"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// BrokerControl is the slice of the connection manager the API needs.
// It keeps the handlers testable without dialling real brokers.
type BrokerControl interface {
	Connect(ctx context.Context, b *broker.Broker) error
	Disconnect(brokerID string)
	Publish(topic string, payload []byte) bool
	IsConnected(brokerID string) bool
	DefaultBrokerID() string
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config       config.APIConfig
	WS           config.WebSocketConfig
	Logger       *logging.Logger
	Directory    *device.Directory
	Readings     reading.Repository
	Alerts       alert.Repository
	Brokers      broker.Repository
	Manager      BrokerControl
	Pipeline     *ingest.Pipeline
	ControlTopic string
	ExternalHub  *Hub // If set, the server uses this hub instead of creating its own
	Version      string
}

// Server is the HTTP API server for AgriSense Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg          config.APIConfig
	wsCfg        config.WebSocketConfig
	logger       *logging.Logger
	directory    *device.Directory
	readings     reading.Repository
	alerts       alert.Repository
	brokers      broker.Repository
	manager      BrokerControl
	pipeline     *ingest.Pipeline
	controlTopic string
	version      string
	server       *http.Server
	hub          *Hub
	cancel       context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, directory, repositories)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Directory == nil {
		return nil, fmt.Errorf("device directory is required")
	}
	if deps.Readings == nil {
		return nil, fmt.Errorf("reading repository is required")
	}
	// Manager is optional — commands and connection side-effects degrade
	// gracefully, reads still work.

	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		logger:       deps.Logger,
		directory:    deps.Directory,
		readings:     deps.Readings,
		alerts:       deps.Alerts,
		brokers:      deps.Brokers,
		manager:      deps.Manager,
		pipeline:     deps.Pipeline,
		controlTopic: deps.ControlTopic,
		version:      deps.Version,
	}

	// Use externally-provided hub if available (needed when the pipeline
	// also requires the hub for event broadcasting).
	s.hub = deps.ExternalHub

	return s, nil
}

// Hub returns the server's WebSocket hub, creating one if no external
// hub was injected. Useful when the caller wires the hub into the
// pipeline before starting the server.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, and launches the
// HTTP listener in a background goroutine. The server can be stopped
// with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	go s.hub.Run(srvCtx)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	// Start listening in background
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
