package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *RelayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Connection.validate("connection"); err != nil {
		return err
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
		if c.Journal.FlushInterval <= 0 {
			return errors.New("journal.flush_interval must be > 0")
		}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}

	return nil
}

func (c *ConnectionConfig) validate(prefix string) error {
	if c.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%s.port must be between 1 and 65535, got %d", prefix, c.Port)
	}
	if c.Protocol != "ws" && c.Protocol != "wss" {
		return fmt.Errorf("%s.protocol must be ws or wss, got %q", prefix, c.Protocol)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%s.heartbeat_interval must be > 0", prefix)
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("%s.heartbeat_timeout must be > 0", prefix)
	}
	if c.BaseReconnectDelay <= 0 {
		return fmt.Errorf("%s.base_reconnect_delay must be > 0", prefix)
	}
	if c.MaxReconnectDelay < c.BaseReconnectDelay {
		return fmt.Errorf("%s.max_reconnect_delay (%v) cannot be less than base_reconnect_delay (%v)", prefix, c.MaxReconnectDelay, c.BaseReconnectDelay)
	}
	if c.MaxReconnectAttempts < 1 {
		return fmt.Errorf("%s.max_reconnect_attempts must be >= 1", prefix)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("%s.queue_capacity must be >= 0", prefix)
	}
	if c.SendBufferSize < 1 {
		return fmt.Errorf("%s.send_buffer_size must be >= 1", prefix)
	}
	if c.ReadBufferSize < 1 {
		return fmt.Errorf("%s.read_buffer_size must be >= 1", prefix)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	if db.ConnectAttempts < 1 {
		return fmt.Errorf("%s.connect_attempts must be >= 1", prefix)
	}
	return nil
}
