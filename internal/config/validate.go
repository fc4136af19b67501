package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rickgao/duel-client/internal/protocol"
)

// Validate checks that all required fields are set and values are valid.
func (c *ClientConfig) Validate() error {
	if err := validateEndpoint(c.Server.Endpoint); err != nil {
		return err
	}
	if _, err := protocol.NewCodec(c.Server.Protocol); err != nil {
		return fmt.Errorf("server.protocol: %w", err)
	}

	if c.Connection.ConnectTimeout <= 0 {
		return errors.New("connection.connect_timeout must be > 0")
	}
	if c.Connection.ReconnectBaseDelay > c.Connection.ReconnectMaxDelay {
		return errors.New("connection.reconnect_base_delay must be <= reconnect_max_delay")
	}
	if c.Connection.MaxReconnectAttempts < 1 {
		return errors.New("connection.max_reconnect_attempts must be >= 1")
	}
	if c.Connection.QueueSize < 1 {
		return errors.New("connection.queue_size must be >= 1")
	}
	if c.Connection.PingTimeout < c.Connection.PingInterval {
		return errors.New("connection.ping_timeout must be >= ping_interval")
	}

	if c.Dispatch.HandlerBudget < 0 {
		return errors.New("dispatch.handler_budget must be >= 0")
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return errors.New("server.endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("server.endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server.endpoint must use ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("server.endpoint: host is required")
	}
	return nil
}
