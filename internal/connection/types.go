package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/duel-client/internal/protocol"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrTimeout         = errors.New("connect timeout")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrConnectionLost  = errors.New("connection lost")
	ErrNoEndpoint      = errors.New("endpoint is empty")
)

// Status is the state of a Conn.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusClosing
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusClosing:
		return "closing"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// ConnectionError reports that a connection could not be established,
// or could not be re-established within the retry budget.
type ConnectionError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s (attempts %d): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Frame wraps raw message data with receive timestamp.
type Frame struct {
	Data       []byte    // Raw message bytes from the transport
	ReceivedAt time.Time // Local timestamp when the read returned
}

// Dispatcher receives decoded events. The Event Registry implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev protocol.Event)
}

// TransportFactory creates an unconnected transport for an endpoint.
type TransportFactory func(endpoint string) Transport

// ClientConfig configures a WebSocket transport.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., ws://game.example.com:6444/ws)
	HandshakeTimeout time.Duration // Upper bound on the WebSocket handshake
	PingInterval     time.Duration // Interval between keepalive pings
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Inbound frame channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 5 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	ConnectTimeout       time.Duration // Bound on establishing a connection
	ReconnectBaseWait    time.Duration // Base wait time for reconnection
	ReconnectMaxWait     time.Duration // Max wait time for reconnection
	MaxReconnectAttempts int           // Consecutive failed attempts before giving up
	QueueSize            int           // Initial inbound queue capacity
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ConnectTimeout:       5 * time.Second,
		ReconnectBaseWait:    500 * time.Millisecond,
		ReconnectMaxWait:     10 * time.Second,
		MaxReconnectAttempts: 5,
		QueueSize:            256,
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	Status            Status
	Endpoint          string
	ConnID            string
	Refs              int
	Opens             int64 // Transports opened, including reconnects
	ReconnectAttempts int64
	FramesReceived    int64
	DecodeErrors      int64
	Queue             QueueStats
}
