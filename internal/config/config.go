package config

import (
	"log/slog"
	"time"

	"github.com/rickgao/adw-relay/internal/connection"
)

// RelayConfig is the root configuration for a relay instance.
type RelayConfig struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Connection ConnectionConfig `yaml:"connection"`
	Journal    JournalConfig    `yaml:"journal"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// InstanceConfig identifies this relay.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ConnectionConfig holds the trigger server endpoint and reliability settings.
type ConnectionConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Protocol string `yaml:"protocol"` // ws or wss
	Path     string `yaml:"path"`

	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout     time.Duration `yaml:"heartbeat_timeout"`
	BaseReconnectDelay   time.Duration `yaml:"base_reconnect_delay"`
	MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	QueueCapacity        int           `yaml:"queue_capacity"` // 0 = unbounded

	WriteTimeout   time.Duration `yaml:"write_timeout"`
	SendBufferSize int           `yaml:"send_buffer_size"`
	ReadBufferSize int           `yaml:"read_buffer_size"`
}

// JournalConfig holds the optional Postgres transition journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Name            string `yaml:"name"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"ssl_mode"`
	MaxConns        int    `yaml:"max_conns"`
	MinConns        int    `yaml:"min_conns"`
	ConnectAttempts int    `yaml:"connect_attempts"`
}

// ServerConfig holds the HTTP status surface settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(l.Level))
	return level, err
}

// ToManagerConfig converts the YAML section into a connection.Config.
func (c ConnectionConfig) ToManagerConfig() connection.Config {
	return connection.Config{
		Host:                 c.Host,
		Port:                 c.Port,
		Protocol:             c.Protocol,
		Path:                 c.Path,
		HeartbeatInterval:    c.HeartbeatInterval,
		HeartbeatTimeout:     c.HeartbeatTimeout,
		BaseReconnectDelay:   c.BaseReconnectDelay,
		MaxReconnectDelay:    c.MaxReconnectDelay,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		QueueCapacity:        c.QueueCapacity,
		Client: connection.ClientConfig{
			WriteTimeout:   c.WriteTimeout,
			SendBufferSize: c.SendBufferSize,
			ReadBufferSize: c.ReadBufferSize,
		},
	}
}
