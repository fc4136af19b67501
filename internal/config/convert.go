package config

import (
	"github.com/rickgao/duel-client/internal/app"
	"github.com/rickgao/duel-client/internal/connection"
	"github.com/rickgao/duel-client/internal/router"
	"github.com/rickgao/duel-client/internal/status"
)

// App returns the settings for app.New.
func (c *ClientConfig) App() app.Config {
	return app.Config{
		Endpoint: c.Server.Endpoint,
		Connection: connection.ManagerConfig{
			ConnectTimeout:       c.Connection.ConnectTimeout,
			ReconnectBaseWait:    c.Connection.ReconnectBaseDelay,
			ReconnectMaxWait:     c.Connection.ReconnectMaxDelay,
			MaxReconnectAttempts: c.Connection.MaxReconnectAttempts,
			QueueSize:            c.Connection.QueueSize,
		},
		Dispatch: router.RegistryConfig{
			HandlerBudget: c.Dispatch.HandlerBudget,
		},
	}
}

// Transport returns the WebSocket transport settings. The URL is filled in
// per endpoint by the transport factory.
func (c *ClientConfig) Transport() connection.ClientConfig {
	return connection.ClientConfig{
		HandshakeTimeout: c.Connection.HandshakeTimeout,
		PingInterval:     c.Connection.PingInterval,
		PingTimeout:      c.Connection.PingTimeout,
		WriteTimeout:     c.Connection.WriteTimeout,
		BufferSize:       c.Connection.QueueSize,
	}
}

// Reporter returns the status reporter settings.
func (c *ClientConfig) Reporter() status.Config {
	return status.Config{Interval: c.Status.Interval}
}
