package config

import (
	"time"

	"github.com/rickgao/adw-relay/internal/connection"
	"github.com/rickgao/adw-relay/internal/heartbeat"
	"github.com/rickgao/adw-relay/internal/reconnect"
)

// Default values for optional configuration fields.
const (
	DefaultHost                 = connection.DefaultHost
	DefaultPort                 = connection.DefaultPort
	DefaultProtocol             = connection.DefaultProtocol
	DefaultPath                 = connection.DefaultPath
	DefaultHeartbeatInterval    = heartbeat.DefaultInterval
	DefaultHeartbeatTimeout     = heartbeat.DefaultTimeout
	DefaultBaseReconnectDelay   = reconnect.DefaultBaseDelay
	DefaultMaxReconnectDelay    = reconnect.DefaultMaxDelay
	DefaultMaxReconnectAttempts = reconnect.DefaultMaxAttempts
	DefaultWriteTimeout         = 5 * time.Second
	DefaultSendBufferSize       = 256
	DefaultReadBufferSize       = 1000
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultConnectAttempts      = 5
	DefaultBatchSize            = 100
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 1000
	DefaultServerPort           = 8090
	DefaultLogLevel             = "info"
)

// ApplyDefaults fills zero-valued optional fields.
func (c *RelayConfig) ApplyDefaults() {
	// Connection defaults
	conn := &c.Connection
	if conn.Host == "" {
		conn.Host = DefaultHost
	}
	if conn.Port == 0 {
		conn.Port = DefaultPort
	}
	if conn.Protocol == "" {
		conn.Protocol = DefaultProtocol
	}
	if conn.Path == "" {
		conn.Path = DefaultPath
	}
	if conn.HeartbeatInterval == 0 {
		conn.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if conn.HeartbeatTimeout == 0 {
		conn.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if conn.BaseReconnectDelay == 0 {
		conn.BaseReconnectDelay = DefaultBaseReconnectDelay
	}
	if conn.MaxReconnectDelay == 0 {
		conn.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if conn.MaxReconnectAttempts == 0 {
		conn.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if conn.WriteTimeout == 0 {
		conn.WriteTimeout = DefaultWriteTimeout
	}
	if conn.SendBufferSize == 0 {
		conn.SendBufferSize = DefaultSendBufferSize
	}
	if conn.ReadBufferSize == 0 {
		conn.ReadBufferSize = DefaultReadBufferSize
	}

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}
	applyDBDefaults(&c.Journal.Database)

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
	if db.ConnectAttempts == 0 {
		db.ConnectAttempts = DefaultConnectAttempts
	}
}
