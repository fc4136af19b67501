package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/rickgao/duel-client/internal/protocol"
)

// Conn is the single logical channel to the backend. Its identity survives
// reconnects: the underlying transport is replaced, the Conn is not.
type Conn struct {
	id       uuid.UUID
	endpoint string
	codec    protocol.Codec
	logger   *slog.Logger

	// Inbound events, drained one at a time by the manager.
	queue *Queue[protocol.Event]

	// Canceled when the Conn is closed or gives up reconnecting.
	ctx    context.Context
	cancel context.CancelFunc

	// Outstanding Acquire references, guarded by Manager.mu.
	refs int

	mu        sync.RWMutex
	status    Status
	transport Transport
	finished  bool
}

func newConn(endpoint string, codec protocol.Codec, queueSize int, logger *slog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New()
	return &Conn{
		id:       id,
		endpoint: endpoint,
		codec:    codec,
		logger:   logger.With("conn_id", id.String(), "endpoint", endpoint),
		queue:    NewQueue[protocol.Event](queueSize),
		ctx:      ctx,
		cancel:   cancel,
		status:   StatusConnecting,
	}
}

// ID returns the connection identifier.
func (c *Conn) ID() string {
	return c.id.String()
}

// Endpoint returns the backend address this Conn is bound to.
func (c *Conn) Endpoint() string {
	return c.endpoint
}

// Status returns the current status.
func (c *Conn) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Send encodes an event with the configured codec and writes it to the backend.
func (c *Conn) Send(name string, payload any) error {
	c.mu.RLock()
	status := c.status
	t := c.transport
	c.mu.RUnlock()

	if status != StatusConnected || t == nil {
		return ErrNotConnected
	}

	data, err := c.codec.Encode(name, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := t.Send(data); err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	return nil
}

// live reports whether the Conn is connected or recovering.
func (c *Conn) live() bool {
	s := c.Status()
	return s == StatusConnected || s == StatusConnecting
}

// attach installs t as the active transport. Returns false if the Conn was closed meanwhile.
func (c *Conn) attach(t Transport) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finished {
		return false
	}
	c.transport = t
	c.status = StatusConnected
	return true
}

// detach marks the Conn as recovering after an unexpected closure.
// Returns false if the Conn is already being closed.
func (c *Conn) detach(t Transport) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finished || c.transport != t {
		return false
	}
	c.transport = nil
	c.status = StatusConnecting
	return true
}

// emit queues a reserved lifecycle event behind any frames already received.
func (c *Conn) emit(name string, attempt int, err error) {
	info := protocol.Lifecycle{
		Endpoint: c.endpoint,
		ConnID:   c.ID(),
		Status:   c.Status().String(),
		Attempt:  attempt,
	}
	if err != nil {
		info.Error = err.Error()
	}
	c.queue.Push(protocol.NewLifecycleEvent(name, info))
}

// close tears the Conn down deliberately and emits a final disconnect.
func (c *Conn) close() error {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return nil
	}
	c.finished = true
	c.status = StatusClosing
	t := c.transport
	c.transport = nil
	c.mu.Unlock()

	c.cancel()

	var err error
	if t != nil {
		err = t.Close()
	}

	c.mu.Lock()
	c.status = StatusDisconnected
	c.mu.Unlock()

	c.emit(protocol.EventDisconnect, 0, nil)
	c.queue.Close()

	c.logger.Info("connection closed")
	return err
}

// giveUp ends a Conn whose reconnect budget is exhausted.
func (c *Conn) giveUp(lost error) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	c.status = StatusDisconnected
	c.mu.Unlock()

	c.cancel()
	c.emit(protocol.EventReconnectFailed, 0, lost)
	c.queue.Close()
}
