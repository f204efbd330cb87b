package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/powersensor-core/internal/audit"
	"github.com/nerrad567/powersensor-core/internal/device"
	"github.com/nerrad567/powersensor-core/internal/discovery"
	"github.com/nerrad567/powersensor-core/internal/dispatcher"
	"github.com/nerrad567/powersensor-core/internal/infrastructure/config"
	"github.com/nerrad567/powersensor-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DispatcherSource reports plug connection state. *dispatcher.Dispatcher
// satisfies it.
type DispatcherSource interface {
	Status() dispatcher.Status
	IsLive(mac string) bool
}

// FigureSource reports household figures. *household.Aggregator satisfies it.
type FigureSource interface {
	Figures() map[string]float64
	SolarEnabled() bool
}

// RoleSource reports persisted roles. *roles.Store satisfies it.
type RoleSource interface {
	Roles() map[string]string
}

// JournalSource lists lifecycle journal entries. *audit.SQLiteRepository
// satisfies it.
type JournalSource interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// DiscoverySource reports resolved mDNS services. *discovery.Adapter
// satisfies it.
type DiscoverySource interface {
	Records() []discovery.Record
	PendingRemovals() int
}

// BrowseReporter reports mDNS browse restarts. *discovery.Browser
// satisfies it.
type BrowseReporter interface {
	Restarts() uint64
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionReporter reports broker connectivity. *mqtt.Client satisfies it.
type ConnectionReporter interface {
	IsConnected() bool
}

// StatsSource reports connection pool statistics. *database.DB satisfies it.
type StatsSource interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Registry   *device.Registry
	Dispatcher DispatcherSource
	Household  FigureSource
	Roles      RoleSource
	Journal    JournalSource
	Discovery  DiscoverySource
	Browser    BrowseReporter
	MQTT       ConnectionReporter
	DB         StatsSource
	Metrics    http.Handler // Prometheus handler; /metrics is not mounted when nil

	// Checks are run by GET /health. Keys name the component.
	Checks map[string]HealthChecker

	// Hub, if set, is used instead of creating one. The caller runs it.
	Hub     *Hub
	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	registry   *device.Registry
	dispatcher DispatcherSource
	household  FigureSource
	roles      RoleSource
	journal    JournalSource
	discovery  DiscoverySource
	browser    BrowseReporter
	mqtt       ConnectionReporter
	db         StatsSource
	metrics    http.Handler
	checks     map[string]HealthChecker
	version    string
	startTime  time.Time

	server      *http.Server
	listener    net.Listener
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Logger and Registry are required; everything else is optional
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		household:  deps.Household,
		roles:      deps.Roles,
		journal:    deps.Journal,
		discovery:  deps.Discovery,
		browser:    deps.Browser,
		mqtt:       deps.MQTT,
		db:         deps.DB,
		metrics:    deps.Metrics,
		checks:     deps.Checks,
		version:    deps.Version,
		startTime:  time.Now(),
	}

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves HTTP in a background goroutine.
// The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the hub when the server owns it
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
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
