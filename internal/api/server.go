package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/arvis-core/internal/arbiter"
	"github.com/nerrad567/arvis-core/internal/bus"
	"github.com/nerrad567/arvis-core/internal/dispatch"
	"github.com/nerrad567/arvis-core/internal/infrastructure/config"
	"github.com/nerrad567/arvis-core/internal/infrastructure/logging"
	"github.com/nerrad567/arvis-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/arvis-core/internal/outcome"
	"github.com/nerrad567/arvis-core/internal/pipeline"
	"github.com/nerrad567/arvis-core/internal/room"
	"github.com/nerrad567/arvis-core/internal/scene"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Injector routes a debug pass. *pipeline.Engine satisfies it.
type Injector interface {
	Inject(ctx context.Context, events []bus.Event) (pipeline.Report, error)
}

// RoomView exposes the room state. *room.Manager satisfies it.
type RoomView interface {
	State() room.State
	History() []room.Change
}

// RouterView exposes router internals. *arbiter.Router satisfies it.
type RouterView interface {
	Pending() []arbiter.Window
	ActiveAlarm() string
	Overrides() []string
}

// DispatcherView exposes dispatcher internals. *dispatch.Dispatcher satisfies it.
type DispatcherView interface {
	Lanes() []dispatch.LaneView
	Breakers() map[string]dispatch.BreakerState
	Actions() []string
}

// BrokerView exposes queue statistics. *bus.Broker satisfies it.
type BrokerView interface {
	Stats() []bus.SubscriptionStats
}

// MQTTView exposes broker link statistics. *mqtt.Client satisfies it.
type MQTTView interface {
	Stats() mqtt.LinkStats
}

// SceneLister exposes the scene table. *scene.Store satisfies it.
type SceneLister interface {
	List() []scene.Scene
	Get(id string) (scene.Scene, error)
}

// HealthChecker is a named dependency probed by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	RoomID     string
	Engine     Injector
	Room       RoomView
	Router     RouterView
	Dispatcher DispatcherView
	Broker     BrokerView
	MQTT       MQTTView // optional: nil when MQTT is disabled
	Scenes     SceneLister
	Outcomes   outcome.Repository       // optional: /outcomes answers 503 without it
	Health     map[string]HealthChecker // optional: probed by /health
	Hub        *Hub                     // optional: created when nil
	Version    string
}

// Server is the debug channel HTTP server.
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	roomID     string
	engine     Injector
	room       RoomView
	router     RouterView
	dispatcher DispatcherView
	broker     BrokerView
	mqtt       MQTTView
	scenes     SceneLister
	outcomes   outcome.Repository
	health     map[string]HealthChecker
	version    string

	hub      *Hub
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("engine is required")
	case deps.Room == nil:
		return nil, fmt.Errorf("room view is required")
	}

	s := &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		roomID:     deps.RoomID,
		engine:     deps.Engine,
		room:       deps.Room,
		router:     deps.Router,
		dispatcher: deps.Dispatcher,
		broker:     deps.Broker,
		mqtt:       deps.MQTT,
		scenes:     deps.Scenes,
		outcomes:   deps.Outcomes,
		health:     deps.Health,
		version:    deps.Version,
		hub:        deps.Hub,
	}
	if s.hub == nil {
		s.hub = NewHub(deps.Config.WebSocket, deps.Logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub for broadcasting.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in the background.
//
// Parameters:
//   - ctx: Parent context for background goroutines
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              s.cfg.Address(),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.Read,
		ReadHeaderTimeout: s.cfg.Timeouts.Read,
		WriteTimeout:      s.cfg.Timeouts.Write,
		IdleTimeout:       s.cfg.Timeouts.Idle,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("binding %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		s.logger.Info("debug API listening", "address", ln.Addr().String(), "auth", s.cfg.JWTSecret != "")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
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

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
