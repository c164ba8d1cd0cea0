package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/ailink-bridge/internal/audit"
	"github.com/nerrad567/ailink-bridge/internal/device"
	"github.com/nerrad567/ailink-bridge/internal/gateway"
	"github.com/nerrad567/ailink-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ailink-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Gateway is the subset of *gateway.Gateway the API uses.
type Gateway interface {
	Devices() []device.Snapshot
	Device(id string) (device.Snapshot, error)
	IssueCommand(ctx context.Context, deviceID string, in gateway.Intent) (gateway.Result, error)
	Rediscover(ctx context.Context) (device.Diff, error)
	Subscribe(n gateway.Notifier) (unsubscribe func())
}

// HealthSource reports the bridge health. *gateway.HealthReporter satisfies it.
type HealthSource interface {
	Current() gateway.HealthMessage
}

// CommandLog lists journalled commands. *audit.Journal satisfies it.
type CommandLog interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Gateway Gateway
	Health  HealthSource // optional; /health then reports device counts only
	Journal CommandLog   // optional; command history routes answer 404 without it
	Version string
}

// Server is the HTTP API server of the bridge.
//
// It manages the HTTP listener, routes, middleware and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	gw      Gateway
	health  HealthSource
	journal CommandLog
	version string

	server      *http.Server
	hub         *Hub
	unsubscribe func()
	cancel      context.CancelFunc

	addrMu sync.RWMutex
	addr   string
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, gateway)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing or auth is misconfigured
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if deps.Config.Auth.Enabled && deps.Config.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("api.auth.jwt_secret is required when auth is enabled")
	}

	hub := NewHub(deps.WS, deps.Logger)
	hub.snapshots = deps.Gateway.Devices

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		gw:      deps.Gateway,
		health:  deps.Health,
		journal: deps.Journal,
		version: deps.Version,
		hub:     hub,
	}, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, registers the hub as a gateway notifier and
// launches the HTTP listener in a background goroutine. The listener is
// bound before Start returns so a port conflict is reported here.
//
// Parameters:
//   - ctx: Parent context for the hub lifetime
//
// Returns:
//   - error: If the listener cannot be bound
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.addrMu.Lock()
	s.addr = ln.Addr().String()
	s.addrMu.Unlock()

	go s.hub.Run(srvCtx)
	s.unsubscribe = s.gw.Subscribe(s.hub.HandleEvent)

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "address", ln.Addr().String(), "auth", s.cfg.Auth.Enabled)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address once started.
func (s *Server) Addr() string {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It stops relaying gateway events, disconnects WebSocket clients and
// waits up to 10 seconds for in-flight requests to complete.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
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

// HealthCheck verifies the API server is running.
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
