package navigation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rickgao/duel-client/internal/protocol"
)

// Errors
var (
	ErrUnknownRoute = errors.New("unknown route")
)

// Phase is the client's position in the game flow.
type Phase int32

const (
	PhaseStart Phase = iota
	PhaseMatching
	PhaseInGame
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseMatching:
		return "matching"
	case PhaseInGame:
		return "in_game"
	case PhaseEnded:
		return "ended"
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// Route returns the page route shown during the phase.
func (p Phase) Route() Route {
	switch p {
	case PhaseMatching:
		return RouteMatch
	case PhaseInGame:
		return RouteGame
	case PhaseEnded:
		return RouteEnd
	}
	return RouteStart
}

// Route is a page path.
type Route string

const (
	RouteStart Route = "/start"
	RouteMatch Route = "/match"
	RouteGame  Route = "/game"
	RouteEnd   Route = "/end"
)

// Page returns the page name for the route ("start", "match", ...).
func (r Route) Page() string {
	return strings.TrimPrefix(string(r), "/")
}

// ParseRoute resolves a path or page name to a Route. The root path
// redirects to the start page.
func ParseRoute(s string) (Route, error) {
	path := strings.TrimSpace(s)
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" || path == "/" {
		return RouteStart, nil
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	switch r := Route(strings.ToLower(path)); r {
	case RouteStart, RouteMatch, RouteGame, RouteEnd:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRoute, s)
}

// Transition is one edge of the phase graph.
type Transition struct {
	From  Phase
	Event string
	To    Phase
	Route Route
}

// transitions is the fixed phase graph.
var transitions = []Transition{
	{From: PhaseStart, Event: protocol.EventMatchFound, To: PhaseMatching, Route: RouteMatch},
	{From: PhaseMatching, Event: protocol.EventGameStart, To: PhaseInGame, Route: RouteGame},
	{From: PhaseInGame, Event: protocol.EventGameOver, To: PhaseEnded, Route: RouteEnd},
	{From: PhaseEnded, Event: protocol.EventRestart, To: PhaseStart, Route: RouteStart},
}

// Transitions returns a copy of the phase graph.
func Transitions() []Transition {
	out := make([]Transition, len(transitions))
	copy(out, transitions)
	return out
}

// PhaseEvents returns the event names that drive transitions.
func PhaseEvents() []string {
	names := make([]string, len(transitions))
	for i, t := range transitions {
		names[i] = t.Event
	}
	return names
}

// Navigator routes the presentation layer to a page.
type Navigator interface {
	Navigate(ctx context.Context, route Route) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, route Route) error

// Navigate calls f(ctx, route).
func (f NavigatorFunc) Navigate(ctx context.Context, route Route) error {
	return f(ctx, route)
}

// PageUnbinder removes the event bindings of the page shown at route.
type PageUnbinder interface {
	UnbindPage(route Route) int
}

// UnexpectedTransitionError reports an event or navigation request with no
// transition from the current phase.
type UnexpectedTransitionError struct {
	Phase Phase
	Event string // Set for server events
	Route Route  // Set for page navigation requests
}

func (e *UnexpectedTransitionError) Error() string {
	if e.Event != "" {
		return fmt.Sprintf("no transition from %s on %q", e.Phase, e.Event)
	}
	return fmt.Sprintf("no transition from %s to %s", e.Phase, e.Route)
}

// ControllerStats provides statistics about the controller.
type ControllerStats struct {
	Phase       Phase
	Transitions int64
	Ignored     int64 // Unexpected events and navigation requests
	NavFailures int64
}
