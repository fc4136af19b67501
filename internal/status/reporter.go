package status

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/duel-client/internal/app"
)

// Source provides the statistics to sample.
type Source interface {
	Stats() app.Stats
}

// Handler receives each report.
type Handler interface {
	HandleReport(report Report)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(Report)

func (f HandlerFunc) HandleReport(r Report) {
	f(r)
}

// Config holds reporter configuration.
type Config struct {
	Interval time.Duration // Report interval (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
	}
}

// Report is one sample.
type Report struct {
	At    time.Time
	Stats app.Stats

	// Deltas since the previous report
	Dispatched    int64
	HandlerErrors int64
	SlowHandlers  int64
	Reconnects    int64
}

// Reporter periodically samples a Source.
type Reporter struct {
	cfg     Config
	source  Source
	handler Handler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	prev    app.Stats
	reports atomic.Int64
}

// New creates a new Reporter. handler may be nil.
func New(cfg Config, source Source, handler Handler, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logger,
	}
}

// Start begins the reporting loop.
func (r *Reporter) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("status reporter started", "interval", r.cfg.Interval)

	return nil
}

// Stop gracefully shuts down the reporter.
func (r *Reporter) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("status reporter stopped", "reports", r.reports.Load())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reports returns the number of reports produced.
func (r *Reporter) Reports() int64 {
	return r.reports.Load()
}

// run is the main reporting loop.
func (r *Reporter) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.report()
		}
	}
}

// report samples the source and hands the result to the handler.
func (r *Reporter) report() Report {
	stats := r.source.Stats()

	r.mu.Lock()
	prev := r.prev
	r.prev = stats
	r.mu.Unlock()

	rep := Report{
		At:            time.Now(),
		Stats:         stats,
		Dispatched:    stats.Registry.Dispatched - prev.Registry.Dispatched,
		HandlerErrors: stats.Registry.HandlerErrors - prev.Registry.HandlerErrors,
		SlowHandlers:  stats.Registry.SlowHandlers - prev.Registry.SlowHandlers,
		Reconnects:    stats.Connection.ReconnectAttempts - prev.Connection.ReconnectAttempts,
	}
	r.reports.Add(1)

	r.logger.Info("status",
		"connection", stats.Connection.Status.String(),
		"phase", stats.Navigation.Phase.String(),
		"scopes", stats.Scopes,
		"bindings", stats.Registry.Bindings,
		"dispatched", rep.Dispatched,
		"queue_depth", stats.Connection.Queue.Depth,
	)
	if rep.HandlerErrors > 0 || rep.SlowHandlers > 0 {
		r.logger.Warn("handlers misbehaving",
			"handler_errors", rep.HandlerErrors,
			"slow_handlers", rep.SlowHandlers,
		)
	}

	if r.handler != nil {
		r.handler.HandleReport(rep)
	}
	return rep
}
