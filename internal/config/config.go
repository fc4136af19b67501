package config

import "time"

// ClientConfig is the root configuration for a game client.
type ClientConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Connection ConnectionConfig `yaml:"connection"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Logging    LoggingConfig    `yaml:"logging"`
	Health     HealthConfig     `yaml:"health"`
	Status     StatusConfig     `yaml:"status"`
}

// ServerConfig identifies the realtime backend.
type ServerConfig struct {
	Endpoint string `yaml:"endpoint"` // WebSocket URL (e.g., ws://localhost:6444)
	Protocol string `yaml:"protocol"` // Wire format: "event" or "envelope"
}

// ConnectionConfig holds Connection Manager and transport settings.
type ConnectionConfig struct {
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	QueueSize            int           `yaml:"queue_size"`
}

// DispatchConfig holds Event Registry settings.
type DispatchConfig struct {
	HandlerBudget time.Duration `yaml:"handler_budget"` // Warn when a handler runs longer
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// HealthConfig holds the health/debug HTTP server settings.
type HealthConfig struct {
	Addr string `yaml:"addr"` // Listen address; empty disables the server
}

// StatusConfig holds periodic status report settings.
type StatusConfig struct {
	Interval time.Duration `yaml:"interval"` // Report interval; negative disables reports
}
