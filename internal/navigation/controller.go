package navigation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/duel-client/internal/protocol"
)

// Controller follows server events through the phase graph and drives page
// navigation. The Navigator must not call back into the controller
// synchronously.
type Controller struct {
	nav    Navigator
	pages  PageUnbinder
	logger *slog.Logger

	// Serializes transitions so teardown and routing happen in order.
	mu    sync.Mutex
	phase atomic.Int32

	// Stats
	transitions atomic.Int64
	ignored     atomic.Int64
	navFailures atomic.Int64
}

// NewController creates a controller in PhaseStart. pages may be nil.
func NewController(nav Navigator, pages PageUnbinder, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		nav:    nav,
		pages:  pages,
		logger: logger.With("component", "navigation"),
	}
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	return Phase(c.phase.Load())
}

// OnPhaseEvent applies the transition for ev from the current phase.
// Events with no transition are logged and ignored; only navigation
// failures are returned.
func (c *Controller) OnPhaseEvent(ctx context.Context, ev protocol.Event) error {
	_, err := c.Apply(ctx, ev.Name)

	var unexpected *UnexpectedTransitionError
	if errors.As(err, &unexpected) {
		c.logger.Warn("unexpected phase event",
			"phase", unexpected.Phase.String(),
			"event", ev.Name,
		)
		return nil
	}
	return err
}

// Apply looks up the transition for event from the current phase and
// performs it.
func (c *Controller) Apply(ctx context.Context, event string) (Transition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.Phase()
	for _, t := range transitions {
		if t.From == from && t.Event == event {
			return t, c.perform(ctx, t)
		}
	}

	c.ignored.Add(1)
	return Transition{}, &UnexpectedTransitionError{Phase: from, Event: event}
}

// Navigate handles a navigation request from a page. It applies the
// transition from the current phase whose route matches. Navigating to the
// current page is a no-op.
func (c *Controller) Navigate(ctx context.Context, route Route) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.Phase()
	if from.Route() == route {
		return nil
	}
	for _, t := range transitions {
		if t.From == from && t.Route == route {
			return c.perform(ctx, t)
		}
	}

	c.ignored.Add(1)
	c.logger.Warn("unexpected navigation request",
		"phase", from.String(),
		"route", string(route),
	)
	return &UnexpectedTransitionError{Phase: from, Route: route}
}

// Stats returns current statistics.
func (c *Controller) Stats() ControllerStats {
	return ControllerStats{
		Phase:       c.Phase(),
		Transitions: c.transitions.Load(),
		Ignored:     c.ignored.Load(),
		NavFailures: c.navFailures.Load(),
	}
}

// perform tears down the page being left, commits the phase, then routes.
// Caller holds c.mu.
func (c *Controller) perform(ctx context.Context, t Transition) error {
	leaving := t.From.Route()
	if c.pages != nil {
		n := c.pages.UnbindPage(leaving)
		c.logger.Debug("page unbound", "route", string(leaving), "bindings", n)
	}

	c.phase.Store(int32(t.To))
	c.transitions.Add(1)

	c.logger.Info("phase changed",
		"from", t.From.String(),
		"to", t.To.String(),
		"event", t.Event,
		"route", string(t.Route),
	)

	if c.nav == nil {
		return nil
	}
	if err := c.nav.Navigate(ctx, t.Route); err != nil {
		c.navFailures.Add(1)
		c.logger.Error("navigation failed", "route", string(t.Route), "error", err)
		return fmt.Errorf("navigate %s: %w", t.Route, err)
	}
	return nil
}
