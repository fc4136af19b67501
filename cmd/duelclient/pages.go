package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/duel-client/internal/app"
	"github.com/rickgao/duel-client/internal/navigation"
	"github.com/rickgao/duel-client/internal/protocol"
	"github.com/rickgao/duel-client/internal/router"
)

var errRoundsPlayed = errors.New("requested rounds played")

// Backend event names the pages listen for.
const (
	eventHandshakeSuccess  = "handshake_success"
	eventCreateRoomSuccess = "create_room_success"
	eventCreateRoomFail    = "create_room_fail"
	eventJoinRoomFail      = "join_room_fail"
	eventOpponentLeave     = "opponent_leave"
	eventNewTurn           = "new_turn"
	eventUseItem           = "use_item"
)

// headlessPages stands in for the presentation layer: every route mounts a
// page that binds its events under a fresh scope and logs what it sees.
type headlessPages struct {
	app    *app.App
	logger *slog.Logger
	roomID string
	rounds int

	requests chan navigation.Route
	retry    chan struct{}
	finished chan struct{}
	finish   sync.Once

	mu     sync.Mutex
	played int
}

func newHeadlessPages(roomID string, rounds int, logger *slog.Logger) *headlessPages {
	return &headlessPages{
		logger:   logger.With("component", "pages"),
		roomID:   roomID,
		rounds:   rounds,
		requests: make(chan navigation.Route, 1),
		retry:    make(chan struct{}, 1),
		finished: make(chan struct{}),
	}
}

// Navigate mounts the page for route.
func (p *headlessPages) Navigate(ctx context.Context, route navigation.Route) error {
	p.logger.Info("navigate", "route", string(route))
	return p.mount(ctx, route)
}

// run starts the client and serves page requests until ctx is done or the
// requested rounds are played.
func (p *headlessPages) run(ctx context.Context) error {
	if err := p.app.Start(ctx); err != nil {
		return err
	}
	if err := p.app.BindSessionEvents(ctx, "session", map[string]router.Handler{
		protocol.EventConnect:         p.onConnect,
		protocol.EventDisconnect:      p.onLifecycle,
		protocol.EventReconnecting:    p.onLifecycle,
		protocol.EventError:           p.onLifecycle,
		protocol.EventReconnectFailed: p.onReconnectFailed,
	}); err != nil {
		return err
	}
	if err := p.app.Handshake(); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if err := p.mount(ctx, navigation.RouteStart); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.finished:
			return errRoundsPlayed
		case route := <-p.requests:
			if err := p.app.Navigate(ctx, route); err != nil {
				p.logger.Warn("navigation request rejected", "route", string(route), "error", err)
			}
		case <-p.retry:
			if err := p.app.Reconnect(ctx); err != nil {
				return err
			}
			if err := p.app.Handshake(); err != nil {
				return fmt.Errorf("handshake: %w", err)
			}
		}
	}
}

func (p *headlessPages) roundsPlayed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played
}

func (p *headlessPages) mount(ctx context.Context, route navigation.Route) error {
	page := route.Page()
	scope := router.Scope(page + "-" + uuid.NewString()[:8])

	var handlers map[string]router.Handler
	switch route {
	case navigation.RouteStart:
		handlers = map[string]router.Handler{
			eventHandshakeSuccess:  p.logEvent(page),
			eventCreateRoomSuccess: p.onRoomCreated,
			eventCreateRoomFail:    p.onLobbyRefused,
			eventJoinRoomFail:      p.onLobbyRefused,
		}
	case navigation.RouteMatch:
		handlers = map[string]router.Handler{
			eventOpponentLeave: p.logEvent(page),
		}
	case navigation.RouteGame:
		handlers = map[string]router.Handler{
			eventNewTurn:       p.logEvent(page),
			eventUseItem:       p.logEvent(page),
			eventOpponentLeave: p.logEvent(page),
		}
	case navigation.RouteEnd:
		handlers = map[string]router.Handler{}
	}

	if err := p.app.BindPageEvents(ctx, scope, handlers); err != nil {
		return fmt.Errorf("mount %s: %w", page, err)
	}

	switch route {
	case navigation.RouteStart:
		return p.enterLobby()
	case navigation.RouteEnd:
		p.roundOver()
	}
	return nil
}

func (p *headlessPages) enterLobby() error {
	if p.roomID != "" {
		p.logger.Info("joining room", "room_id", p.roomID)
		return p.app.JoinRoom(p.roomID)
	}
	p.logger.Info("creating room")
	return p.app.CreateRoom()
}

// roundOver counts a finished match and asks to play again when rounds remain.
func (p *headlessPages) roundOver() {
	p.mu.Lock()
	p.played++
	played := p.played
	p.mu.Unlock()

	p.logger.Info("round over", "played", played, "rounds", p.rounds)

	if p.rounds > 0 && played >= p.rounds {
		p.finish.Do(func() { close(p.finished) })
		return
	}

	select {
	case p.requests <- navigation.RouteStart:
	default:
	}
}

func (p *headlessPages) logEvent(page string) router.Handler {
	return func(ctx context.Context, ev protocol.Event) error {
		p.logger.Info("event received", "page", page, "event", ev.Name, "bytes", len(ev.Payload))
		return nil
	}
}

func (p *headlessPages) onRoomCreated(ctx context.Context, ev protocol.Event) error {
	var room struct {
		RoomID string `json:"roomid"`
	}
	if err := ev.Decode(&room); err != nil {
		return fmt.Errorf("decode room: %w", err)
	}
	p.logger.Info("room created, waiting for opponent", "room_id", room.RoomID)
	return nil
}

func (p *headlessPages) onLobbyRefused(ctx context.Context, ev protocol.Event) error {
	p.logger.Warn("lobby request refused", "event", ev.Name, "room_id", p.roomID)
	return nil
}

func (p *headlessPages) onConnect(ctx context.Context, ev protocol.Event) error {
	var info protocol.Lifecycle
	if err := ev.Decode(&info); err != nil {
		return err
	}
	p.logger.Info("connected", "conn_id", info.ConnID, "attempt", info.Attempt)

	// A reconnected socket is a new session on the backend.
	if info.Attempt > 0 {
		return p.app.Handshake()
	}
	return nil
}

func (p *headlessPages) onLifecycle(ctx context.Context, ev protocol.Event) error {
	var info protocol.Lifecycle
	if err := ev.Decode(&info); err != nil {
		return err
	}
	p.logger.Info("connection status",
		"event", ev.Name,
		"status", info.Status,
		"attempt", info.Attempt,
		"error", info.Error,
	)
	return nil
}

func (p *headlessPages) onReconnectFailed(ctx context.Context, ev protocol.Event) error {
	var info protocol.Lifecycle
	if err := ev.Decode(&info); err != nil {
		return err
	}
	p.logger.Error("connection lost", "error", info.Error)

	select {
	case p.retry <- struct{}{}:
	default:
	}
	return nil
}
