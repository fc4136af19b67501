package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultEndpoint             = "ws://localhost:6444"
	DefaultProtocol             = "envelope"
	DefaultConnectTimeout       = 5 * time.Second
	DefaultHandshakeTimeout     = 5 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultReconnectBaseDelay   = 500 * time.Millisecond
	DefaultReconnectMaxDelay    = 10 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultQueueSize            = 256
	DefaultHandlerBudget        = 100 * time.Millisecond
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultStatusInterval       = 30 * time.Second
)

func (c *ClientConfig) applyDefaults() {
	// Server defaults
	if c.Server.Endpoint == "" {
		c.Server.Endpoint = DefaultEndpoint
	}
	if c.Server.Protocol == "" {
		c.Server.Protocol = DefaultProtocol
	}

	// Connection defaults
	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = DefaultPingTimeout
	}
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.MaxReconnectAttempts == 0 {
		c.Connection.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Connection.QueueSize == 0 {
		c.Connection.QueueSize = DefaultQueueSize
	}

	// Dispatch defaults
	if c.Dispatch.HandlerBudget == 0 {
		c.Dispatch.HandlerBudget = DefaultHandlerBudget
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	// Status defaults
	if c.Status.Interval == 0 {
		c.Status.Interval = DefaultStatusInterval
	}
}
