package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rickgao/duel-client/internal/protocol"
	"golang.org/x/sync/singleflight"
)

// Manager owns the process's single backend connection.
type Manager struct {
	cfg     ManagerConfig
	factory TransportFactory
	codec   protocol.Codec
	sink    Dispatcher
	logger  *slog.Logger

	// Deduplicates concurrent Acquire calls for the same endpoint.
	group singleflight.Group

	// Serializes replacing and opening the connection across endpoints.
	openMu sync.Mutex

	mu     sync.Mutex
	cur    *Conn
	closed bool

	wg sync.WaitGroup

	// Stats
	statsMu           sync.Mutex
	opens             int64
	reconnectAttempts int64
	framesReceived    int64
	decodeErrors      int64
}

// NewManager creates a new Connection Manager. Decoded events and lifecycle
// events are delivered to sink, one at a time.
func NewManager(cfg ManagerConfig, factory TransportFactory, codec protocol.Codec, sink Dispatcher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:     cfg,
		factory: factory,
		codec:   codec,
		sink:    sink,
		logger:  logger,
	}
}

// Acquire returns the live connection for endpoint, opening one if needed.
// A live connection to a different endpoint is closed first.
// Each successful call holds a reference on the returned Conn that
// Release gives back.
func (m *Manager) Acquire(ctx context.Context, endpoint string) (*Conn, error) {
	if endpoint == "" {
		return nil, ErrNoEndpoint
	}

	v, err, _ := m.group.Do(endpoint, func() (interface{}, error) {
		return m.acquire(ctx, endpoint)
	})
	if err != nil {
		return nil, err
	}
	conn := v.(*Conn)

	m.mu.Lock()
	defer m.mu.Unlock()
	// Replaced by another endpoint before the caller could take a reference.
	if m.closed || m.cur != conn {
		return nil, fmt.Errorf("acquire %s: %w", endpoint, ErrAlreadyClosed)
	}
	conn.refs++

	return conn, nil
}

// Release gives back one reference on conn and closes it when none remain.
// References on a Conn that has since been replaced never affect the
// current one. Calling it with no outstanding references is a no-op.
func (m *Manager) Release(conn *Conn) error {
	if conn == nil {
		return nil
	}

	m.mu.Lock()
	if conn.refs == 0 {
		m.mu.Unlock()
		return nil
	}
	conn.refs--
	if conn.refs > 0 {
		m.mu.Unlock()
		return nil
	}
	if m.cur == conn {
		m.cur = nil
	}
	m.mu.Unlock()

	return conn.close()
}

// Close tears down the connection regardless of references and waits for
// the manager's goroutines. The manager cannot be used afterwards.
// It must not be called from an event handler.
func (m *Manager) Close(ctx context.Context) error {
	m.logger.Info("stopping connection manager")

	m.mu.Lock()
	m.closed = true
	conn := m.cur
	m.cur = nil
	m.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.close()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("connection manager stopped")
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
	}

	return err
}

// Current returns the connection, or nil if none has been acquired.
func (m *Manager) Current() *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Send writes an event through the current connection.
func (m *Manager) Send(name string, payload any) error {
	conn := m.Current()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(name, payload)
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	conn := m.cur
	stats := ManagerStats{Status: StatusDisconnected}
	if conn != nil {
		stats.Refs = conn.refs
	}
	m.mu.Unlock()

	if conn != nil {
		stats.Status = conn.Status()
		stats.Endpoint = conn.Endpoint()
		stats.ConnID = conn.ID()
		stats.Queue = conn.queue.Stats()
	}

	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	stats.Opens = m.opens
	stats.ReconnectAttempts = m.reconnectAttempts
	stats.FramesReceived = m.framesReceived
	stats.DecodeErrors = m.decodeErrors

	return stats
}

// acquire does the work of Acquire for a single caller per endpoint.
// Callers for different endpoints run one at a time.
func (m *Manager) acquire(ctx context.Context, endpoint string) (*Conn, error) {
	m.openMu.Lock()
	defer m.openMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrAlreadyClosed
	}
	stale := m.cur
	if stale != nil && stale.endpoint == endpoint && stale.live() {
		m.mu.Unlock()
		return stale, nil
	}
	m.cur = nil
	m.mu.Unlock()

	if stale != nil {
		m.logger.Info("replacing connection",
			"old_endpoint", stale.endpoint,
			"old_status", stale.Status(),
			"endpoint", endpoint,
		)
		stale.close()
	}

	conn := newConn(endpoint, m.codec, m.cfg.QueueSize, m.logger)

	t, err := m.open(ctx, endpoint)
	if err != nil {
		conn.cancel()
		m.logger.Warn("connect failed", "endpoint", endpoint, "error", err)
		return nil, &ConnectionError{Endpoint: endpoint, Attempts: 1, Err: err}
	}
	conn.attach(t)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.close()
		return nil, ErrAlreadyClosed
	}
	m.cur = conn
	m.wg.Add(2)
	m.mu.Unlock()

	conn.emit(protocol.EventConnect, 0, nil)

	go m.readLoop(conn, t)
	go m.drainLoop(conn)

	conn.logger.Info("connected")
	return conn, nil
}

// open creates and connects a transport within ConnectTimeout.
func (m *Manager) open(ctx context.Context, endpoint string) (Transport, error) {
	m.statsMu.Lock()
	m.opens++
	m.statsMu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	t := m.factory(endpoint)
	if err := t.Connect(dialCtx); err != nil {
		t.Close()
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %w", ErrTimeout, m.cfg.ConnectTimeout, err)
		}
		return nil, err
	}
	return t, nil
}

// readLoop moves frames from one transport into the Conn's queue.
func (m *Manager) readLoop(conn *Conn, t Transport) {
	defer m.wg.Done()

	for {
		select {
		case <-conn.ctx.Done():
			return

		case err := <-t.Errors():
			m.drainFrames(conn, t)
			if !conn.detach(t) {
				return
			}
			conn.logger.Warn("connection lost", "error", err)
			t.Close()
			conn.emit(protocol.EventDisconnect, 0, err)

			m.wg.Add(1)
			go m.reconnect(conn)
			return

		case frame, ok := <-t.Messages():
			if !ok {
				return
			}
			m.handleFrame(conn, frame)
		}
	}
}

// drainFrames queues frames the transport read before it failed.
func (m *Manager) drainFrames(conn *Conn, t Transport) {
	for {
		select {
		case frame, ok := <-t.Messages():
			if !ok {
				return
			}
			m.handleFrame(conn, frame)
		default:
			return
		}
	}
}

// handleFrame decodes one frame and queues the event.
func (m *Manager) handleFrame(conn *Conn, frame Frame) {
	m.statsMu.Lock()
	m.framesReceived++
	m.statsMu.Unlock()

	ev, err := m.codec.Decode(frame.Data)
	if err != nil {
		m.statsMu.Lock()
		m.decodeErrors++
		m.statsMu.Unlock()
		conn.logger.Warn("failed to decode frame", "error", err, "size", len(frame.Data))
		return
	}
	ev.ReceivedAt = frame.ReceivedAt

	conn.logger.Debug("frame received", "event", ev.Name)
	conn.queue.Push(ev)
}

// drainLoop dispatches queued events one at a time until the Conn ends.
func (m *Manager) drainLoop(conn *Conn) {
	defer m.wg.Done()

	for {
		ev, ok := conn.queue.Pop()
		if !ok {
			return
		}
		m.sink.Dispatch(context.Background(), ev)
	}
}

// reconnect re-establishes the transport with exponential backoff.
func (m *Manager) reconnect(conn *Conn) {
	defer m.wg.Done()

	b := &backoff.Backoff{
		Min:    m.cfg.ReconnectBaseWait,
		Max:    m.cfg.ReconnectMaxWait,
		Factor: 2,
	}

	for attempt := 1; attempt <= m.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-conn.ctx.Done():
			return
		case <-time.After(b.Duration()):
		}

		m.statsMu.Lock()
		m.reconnectAttempts++
		m.statsMu.Unlock()

		conn.logger.Info("attempting reconnection", "attempt", attempt)
		conn.emit(protocol.EventReconnecting, attempt, nil)

		t, err := m.open(conn.ctx, conn.endpoint)
		if err != nil {
			if conn.ctx.Err() != nil {
				return
			}
			conn.logger.Warn("reconnection failed", "attempt", attempt, "error", err)
			conn.emit(protocol.EventError, attempt, err)
			continue
		}

		if !conn.attach(t) {
			t.Close()
			return
		}

		conn.logger.Info("reconnected", "attempt", attempt)
		conn.emit(protocol.EventConnect, attempt, nil)

		m.wg.Add(1)
		go m.readLoop(conn, t)
		return
	}

	lost := &ConnectionError{
		Endpoint: conn.endpoint,
		Attempts: m.cfg.MaxReconnectAttempts,
		Err:      ErrConnectionLost,
	}
	conn.logger.Error("reconnect budget exhausted", "attempts", m.cfg.MaxReconnectAttempts)
	conn.giveUp(lost)
}
