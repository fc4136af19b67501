package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/rickgao/duel-client/internal/connection"
	"github.com/rickgao/duel-client/internal/navigation"
	"github.com/rickgao/duel-client/internal/protocol"
	"github.com/rickgao/duel-client/internal/router"
)

// Errors
var (
	ErrAlreadyStarted = errors.New("app already started")
	ErrNotStarted     = errors.New("app not started")
	ErrReservedScope  = errors.New("scope is reserved")
	ErrScopeMounted   = errors.New("scope already mounted")
)

// appScope owns the controller's own bindings.
const appScope router.Scope = "app"

// Config configures an App.
type Config struct {
	Endpoint   string
	Connection connection.ManagerConfig
	Dispatch   router.RegistryConfig
}

// Stats aggregates component statistics.
type Stats struct {
	Connection connection.ManagerStats
	Registry   router.RegistryStats
	Navigation navigation.ControllerStats
	Scopes     int
}

// mount records a bound scope and the Conn holding its reference.
// Session scopes have no route.
type mount struct {
	route navigation.Route
	conn  *connection.Conn
}

// App is the page-facing API of the realtime client.
type App struct {
	cfg      Config
	registry *router.Registry
	manager  *connection.Manager
	nav      *navigation.Controller
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	conn    *connection.Conn // holds the app's own reference
	scopes  map[router.Scope]mount
}

// New creates an App. Transports come from factory; navigator receives the
// routes chosen by the controller.
func New(cfg Config, factory connection.TransportFactory, codec protocol.Codec, navigator navigation.Navigator, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		scopes: make(map[router.Scope]mount),
	}
	a.registry = router.NewRegistry(cfg.Dispatch, logger)
	a.manager = connection.NewManager(cfg.Connection, factory, codec, a.registry, logger)
	a.nav = navigation.NewController(navigator, a, logger)
	return a
}

// Start binds the controller to the phase events and opens the connection.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	a.mu.Unlock()

	for _, name := range navigation.PhaseEvents() {
		if _, err := a.registry.Bind(name, appScope, a.nav.OnPhaseEvent); err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
	}

	conn, err := a.manager.Acquire(ctx, a.cfg.Endpoint)
	if err != nil {
		a.registry.UnbindScope(appScope)
		a.mu.Lock()
		a.started = false
		a.mu.Unlock()
		return err
	}
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	if err := a.adopt(ctx, conn); err != nil {
		a.logger.Warn("failed to move scope references", "error", err)
	}

	a.logger.Info("app started", "endpoint", a.cfg.Endpoint, "phase", a.nav.Phase().String())
	return nil
}

// Stop unbinds every scope and closes the connection.
// A stopped App cannot be started again.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.started = false
	a.conn = nil
	scopes := a.scopes
	a.scopes = make(map[router.Scope]mount)
	a.mu.Unlock()

	for scope := range scopes {
		a.registry.UnbindScope(scope)
	}
	a.registry.UnbindScope(appScope)

	return a.manager.Close(ctx)
}

// BindPageEvents mounts a page: it binds handlers under scope and takes a
// reference on the connection. The scope is attached to the current page
// and unbound when the controller routes away from it.
func (a *App) BindPageEvents(ctx context.Context, scope router.Scope, handlers map[string]router.Handler) error {
	return a.bind(ctx, scope, handlers, true)
}

// BindSessionEvents binds handlers that outlive page changes, such as
// connection status listeners. They stay until UnbindPageEvents or Stop.
func (a *App) BindSessionEvents(ctx context.Context, scope router.Scope, handlers map[string]router.Handler) error {
	return a.bind(ctx, scope, handlers, false)
}

func (a *App) bind(ctx context.Context, scope router.Scope, handlers map[string]router.Handler, page bool) error {
	if scope == appScope {
		return fmt.Errorf("%w: %s", ErrReservedScope, scope)
	}
	if scope == "" {
		return router.ErrEmptyScope
	}

	a.mu.Lock()
	if _, ok := a.scopes[scope]; ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrScopeMounted, scope)
	}
	a.mu.Unlock()

	conn, err := a.manager.Acquire(ctx, a.cfg.Endpoint)
	if err != nil {
		return err
	}
	if err := a.adopt(ctx, conn); err != nil {
		a.manager.Release(conn)
		return err
	}

	// Sorted for a stable registration order across events.
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := a.registry.Bind(name, scope, handlers[name]); err != nil {
			a.registry.UnbindScope(scope)
			a.manager.Release(conn)
			return fmt.Errorf("bind %s: %w", name, err)
		}
	}

	var route navigation.Route
	if page {
		route = a.nav.Phase().Route()
	}

	a.mu.Lock()
	if _, ok := a.scopes[scope]; ok {
		a.mu.Unlock()
		a.manager.Release(conn)
		return fmt.Errorf("%w: %s", ErrScopeMounted, scope)
	}
	a.scopes[scope] = mount{route: route, conn: conn}
	a.mu.Unlock()

	a.logger.Debug("events bound",
		"scope", string(scope),
		"route", string(route),
		"events", len(names),
	)
	return nil
}

// UnbindPageEvents unmounts a page. It removes every binding owned by scope
// and gives back its connection reference. Unknown scopes are a no-op.
func (a *App) UnbindPageEvents(scope router.Scope) int {
	a.mu.Lock()
	m, ok := a.scopes[scope]
	if ok {
		delete(a.scopes, scope)
	}
	a.mu.Unlock()

	if !ok {
		return 0
	}

	n := a.registry.UnbindScope(scope)
	if err := a.manager.Release(m.conn); err != nil {
		a.logger.Warn("release failed", "scope", string(scope), "error", err)
	}

	a.logger.Debug("page events unbound",
		"scope", string(scope),
		"route", string(m.route),
		"bindings", n,
	)
	return n
}

// UnbindPage unmounts every scope attached to route.
func (a *App) UnbindPage(route navigation.Route) int {
	a.mu.Lock()
	var scopes []router.Scope
	for scope, m := range a.scopes {
		if m.route == route {
			scopes = append(scopes, scope)
		}
	}
	a.mu.Unlock()

	total := 0
	for _, scope := range scopes {
		total += a.UnbindPageEvents(scope)
	}
	return total
}

// Navigate requests a page change on behalf of a page.
func (a *App) Navigate(ctx context.Context, route navigation.Route) error {
	return a.nav.Navigate(ctx, route)
}

// Phase returns the current phase.
func (a *App) Phase() navigation.Phase {
	return a.nav.Phase()
}

// Send writes an event to the backend.
func (a *App) Send(name string, payload any) error {
	return a.manager.Send(name, payload)
}

// Handshake introduces the client to the lobby.
func (a *App) Handshake() error {
	return a.Send(protocol.EventHandshake, nil)
}

// CreateRoom asks the lobby for a new room.
func (a *App) CreateRoom() error {
	return a.Send(protocol.EventCreateRoom, nil)
}

// JoinRoom asks the lobby to join roomID.
func (a *App) JoinRoom(roomID string) error {
	return a.Send(protocol.EventJoinRoom, protocol.JoinRoomParams{RoomID: roomID})
}

// LeaveRoom leaves the current room.
func (a *App) LeaveRoom() error {
	return a.Send(protocol.EventLeaveRoom, nil)
}

// Reconnect reopens the connection after the reconnect budget ran out,
// restoring one reference for the app and one per mounted scope.
// It is a no-op while the connection is live.
func (a *App) Reconnect(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return ErrNotStarted
	}
	held := a.conn
	a.mu.Unlock()

	if conn := a.manager.Current(); conn != nil && conn == held {
		if s := conn.Status(); s == connection.StatusConnected || s == connection.StatusConnecting {
			return nil
		}
	}

	conn, err := a.manager.Acquire(ctx, a.cfg.Endpoint)
	if err != nil {
		return err
	}
	defer a.manager.Release(conn)

	if err := a.adopt(ctx, conn); err != nil {
		return err
	}

	a.logger.Info("reconnected after give-up", "conn_id", conn.ID())
	return nil
}

// adopt moves the app's reference and every mounted scope's reference onto
// conn. It runs when the manager hands out a new Conn, such as after the
// previous one gave up reconnecting.
func (a *App) adopt(ctx context.Context, conn *connection.Conn) error {
	a.mu.Lock()
	moveApp := a.started && a.conn != nil && a.conn != conn
	var scopes []router.Scope
	for scope, m := range a.scopes {
		if m.conn != conn {
			scopes = append(scopes, scope)
		}
	}
	a.mu.Unlock()

	n := len(scopes)
	if moveApp {
		n++
	}
	if n == 0 {
		return nil
	}

	for i := 0; i < n; i++ {
		got, err := a.manager.Acquire(ctx, a.cfg.Endpoint)
		if err != nil {
			for ; i > 0; i-- {
				a.manager.Release(conn)
			}
			return err
		}
		if got != conn {
			a.manager.Release(got)
			for ; i > 0; i-- {
				a.manager.Release(conn)
			}
			return fmt.Errorf("adopt %s: %w", conn.ID(), connection.ErrAlreadyClosed)
		}
	}

	var stale []*connection.Conn
	a.mu.Lock()
	if moveApp {
		if a.conn != conn {
			stale = append(stale, a.conn)
			a.conn = conn
		} else {
			stale = append(stale, conn)
		}
	}
	for _, scope := range scopes {
		m, ok := a.scopes[scope]
		if !ok || m.conn == conn {
			// Unmounted meanwhile; give the extra reference back.
			stale = append(stale, conn)
			continue
		}
		stale = append(stale, m.conn)
		m.conn = conn
		a.scopes[scope] = m
	}
	a.mu.Unlock()

	for _, c := range stale {
		a.manager.Release(c)
	}

	a.logger.Debug("references moved", "conn_id", conn.ID(), "holders", n)
	return nil
}

// Connected reports whether the connection is up.
func (a *App) Connected() bool {
	conn := a.manager.Current()
	return conn != nil && conn.Status() == connection.StatusConnected
}

// Stats returns current statistics.
func (a *App) Stats() Stats {
	a.mu.Lock()
	scopes := len(a.scopes)
	a.mu.Unlock()

	return Stats{
		Connection: a.manager.Stats(),
		Registry:   a.registry.Stats(),
		Navigation: a.nav.Stats(),
		Scopes:     scopes,
	}
}
