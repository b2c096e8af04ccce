package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aadegtyarev/go2wb/internal/infrastructure/config"
	"github.com/aadegtyarev/go2wb/internal/infrastructure/logging"
	"github.com/aadegtyarev/go2wb/internal/journal"
	"github.com/aadegtyarev/go2wb/internal/wb"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ControlSession is the part of wb.Session the API uses.
type ControlSession interface {
	Get(path wb.ControlPath) (wb.Value, bool)
	ListAll() map[wb.ControlPath]wb.Value
	Set(path wb.ControlPath, value wb.Value) error
	VirtualDevices() []wb.VirtualDevice
}

// ConnectionChecker reports broker connectivity.
type ConnectionChecker interface {
	IsConnected() bool
}

// HealthChecker is implemented by the database.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
	PendingMigrations(ctx context.Context) (int, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Session ControlSession
	Broker  ConnectionChecker // optional
	DB      HealthChecker     // optional
	Journal journal.Journal   // optional; history answers 503 without it
	Version string
}

// Server is the HTTP API server.
//
// The hub exists from New so observers can be registered before Start.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	session ControlSession
	broker  ConnectionChecker
	db      HealthChecker
	journal journal.Journal
	version string
	server  *http.Server
	hub     *Hub
	cancel  context.CancelFunc
}

// New creates a new API server. It is not listening until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session is required")
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		session: deps.Session,
		broker:  deps.Broker,
		db:      deps.DB,
		journal: deps.Journal,
		version: deps.Version,
		hub:     NewHub(deps.WS, deps.Logger, deps.Session.ListAll),
	}, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Observer returns a session observer that broadcasts every recorded value
// to WebSocket clients.
func (s *Server) Observer() wb.ChangeObserver {
	return func(path wb.ControlPath, value wb.Value, source string) {
		s.hub.PublishControl(controlEvent{
			controlEntry: newControlEntry(path, value),
			Source:       source,
		})
	}
}

// Start runs the hub and launches the HTTP listener in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close shuts the server down, waiting up to 10 seconds for in-flight requests.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server has been started.
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
