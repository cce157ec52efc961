package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/rickgao/adw-relay/internal/health"
	"github.com/rickgao/adw-relay/internal/heartbeat"
	"github.com/rickgao/adw-relay/internal/reconnect"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrHeartbeatTimeout = errors.New("heartbeat timeout (no pong)")
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	ErrInvalidConfig    = errors.New("invalid connection config")
	ErrProtocol         = errors.New("protocol error")
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
	StateFailed       State = "FAILED"
)

// Wire message types handled by the manager itself.
const (
	TypePing = "ping"
	TypePong = "pong"
)

// Envelope is an application message. The manager never looks inside Data.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Heartbeat is a ping or pong frame. Pongs echo the ping's timestamp.
type Heartbeat struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // epoch-ms
}

// inboundFrame is the subset of an inbound frame the manager inspects.
type inboundFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Status is a point-in-time snapshot of the manager.
type Status struct {
	State         State         `json:"state"`
	Health        health.Health `json:"health"`
	LatencyMs     int64         `json:"latencyMs"`
	QueuedCount   int           `json:"queuedCount"`
	AttemptNumber int           `json:"attemptNumber"`
	LastError     string        `json:"lastError,omitempty"`
	SessionID     string        `json:"sessionId,omitempty"`
	ConnectedAt   *time.Time    `json:"connectedAt,omitempty"`
	Dropped       int64         `json:"dropped"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., ws://localhost:8002/ws)
	HandshakeTimeout time.Duration // Dial + upgrade deadline
	WriteTimeout     time.Duration // Write deadline for sends
	SendBufferSize   int           // Outbound frames accepted before Send reports ErrSendBufferFull
	ReadBufferSize   int           // Inbound message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		SendBufferSize:   256,
		ReadBufferSize:   1000,
	}
}

// Config configures the Connection Manager.
type Config struct {
	Host     string
	Port     int
	Protocol string // "ws" or "wss"
	Path     string

	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	BaseReconnectDelay   time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	QueueCapacity        int // 0 = unbounded, otherwise drop-oldest

	Client ClientConfig
}

// Default values for the manager configuration.
const (
	DefaultHost     = "localhost"
	DefaultPort     = 8002
	DefaultProtocol = "ws"
	DefaultPath     = "/ws"
)

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:                 DefaultHost,
		Port:                 DefaultPort,
		Protocol:             DefaultProtocol,
		Path:                 DefaultPath,
		HeartbeatInterval:    heartbeat.DefaultInterval,
		HeartbeatTimeout:     heartbeat.DefaultTimeout,
		BaseReconnectDelay:   reconnect.DefaultBaseDelay,
		MaxReconnectDelay:    reconnect.DefaultMaxDelay,
		MaxReconnectAttempts: reconnect.DefaultMaxAttempts,
		Client:               DefaultClientConfig(),
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig. QueueCapacity
// is left alone since 0 means unbounded.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.Protocol == "" {
		c.Protocol = d.Protocol
	}
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.BaseReconnectDelay == 0 {
		c.BaseReconnectDelay = d.BaseReconnectDelay
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = d.MaxReconnectDelay
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.Client.HandshakeTimeout == 0 {
		c.Client.HandshakeTimeout = d.Client.HandshakeTimeout
	}
	if c.Client.WriteTimeout == 0 {
		c.Client.WriteTimeout = d.Client.WriteTimeout
	}
	if c.Client.SendBufferSize == 0 {
		c.Client.SendBufferSize = d.Client.SendBufferSize
	}
	if c.Client.ReadBufferSize == 0 {
		c.Client.ReadBufferSize = d.Client.ReadBufferSize
	}
	return c
}

// Validate checks that all values are usable. Errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Protocol != "ws" && c.Protocol != "wss" {
		return fmt.Errorf("protocol must be ws or wss, got %q", c.Protocol)
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be > 0")
	}
	if c.HeartbeatTimeout <= 0 {
		return errors.New("heartbeat timeout must be > 0")
	}
	if c.BaseReconnectDelay <= 0 {
		return errors.New("base reconnect delay must be > 0")
	}
	if c.MaxReconnectDelay < c.BaseReconnectDelay {
		return fmt.Errorf("max reconnect delay (%v) cannot be less than base delay (%v)", c.MaxReconnectDelay, c.BaseReconnectDelay)
	}
	if c.MaxReconnectAttempts < 1 {
		return fmt.Errorf("max reconnect attempts must be >= 1, got %d", c.MaxReconnectAttempts)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("queue capacity must be >= 0, got %d", c.QueueCapacity)
	}
	if c.Client.SendBufferSize < 1 {
		return errors.New("client send buffer size must be >= 1")
	}
	if c.Client.ReadBufferSize < 1 {
		return errors.New("client read buffer size must be >= 1")
	}
	return nil
}

// URL returns the WebSocket endpoint.
func (c Config) URL() string {
	u := url.URL{
		Scheme: c.Protocol,
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   c.Path,
	}
	return u.String()
}

func (c Config) clientConfig() ClientConfig {
	cc := c.Client
	cc.URL = c.URL()
	return cc
}

func (c Config) heartbeatConfig() heartbeat.Config {
	return heartbeat.Config{
		Interval: c.HeartbeatInterval,
		Timeout:  c.HeartbeatTimeout,
	}
}

func (c Config) reconnectPolicy() reconnect.Policy {
	p := reconnect.DefaultPolicy()
	p.BaseDelay = c.BaseReconnectDelay
	p.MaxDelay = c.MaxReconnectDelay
	p.MaxAttempts = c.MaxReconnectAttempts
	return p
}
