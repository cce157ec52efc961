package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/adw-relay/internal/version"
)

// Client represents a single WebSocket connection to the trigger server.
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Send hands a text frame to the write loop without blocking.
	// A nil error means the frame was accepted for dispatch.
	Send(data []byte) error

	// Unsent returns frames accepted by Send that never reached the
	// socket, oldest first. Call it after Close has returned.
	Unsent() [][]byte

	// Messages returns a channel of ALL inbound text frames.
	// Each message includes a local timestamp for when it was received.
	Messages() <-chan TimestampedMessage

	// Errors returns a channel of connection errors. At most one error is
	// delivered per connection.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// ClientFactory builds a Client for each connection attempt.
type ClientFactory func(cfg ClientConfig, logger *slog.Logger) Client

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	// Outbound frames, drained by writeLoop
	outbound   chan []byte
	unsent     [][]byte
	writerDone chan struct{}

	// State
	mu        sync.RWMutex
	connected bool
	closed    bool
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.ReadBufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
		outbound:   make(chan []byte, cfg.SendBufferSize),
		writerDone: make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	// Answer protocol-level pings from the server
	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	go c.readLoop()
	go c.writeLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

// Close gracefully closes the connection and waits for the write loop to
// stop, so Unsent is final once it returns.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	// Signal goroutines to stop
	close(c.done)

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err := conn.Close()
		<-c.writerDone
		return err
	}

	return nil
}

// Send queues a text frame for the write loop.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return ErrNotConnected
	}

	select {
	case c.outbound <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Unsent drains the frames the write loop never wrote. The frame whose
// write failed, if any, comes first.
func (c *client) Unsent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.unsent
	c.unsent = nil
	for {
		select {
		case data := <-c.outbound:
			out = append(out, data)
		default:
			return out
		}
	}
}

// Messages returns the messages channel.
func (c *client) Messages() <-chan TimestampedMessage {
	return c.messages
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// readLoop reads messages from the WebSocket and sends them to the messages channel.
func (c *client) readLoop() {
	defer c.markDisconnected()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		msgType, data, err := c.conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			c.fail(err)
			return
		}
		if msgType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text frame", "type", msgType)
			continue
		}

		msg := TimestampedMessage{
			Data:       data,
			ReceivedAt: receivedAt,
		}

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		default:
			c.logger.Warn("message buffer full, dropping message")
		}
	}
}

// writeLoop writes queued frames in order. Frames still buffered when it
// stops are left for Unsent.
func (c *client) writeLoop() {
	defer close(c.writerDone)

	for {
		// Close wins over pending frames.
		select {
		case <-c.done:
			return
		default:
		}

		select {
		case <-c.done:
			return
		case data := <-c.outbound:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.mu.Lock()
				c.connected = false
				c.unsent = append(c.unsent, data)
				c.mu.Unlock()
				c.fail(err)
				return
			}
		}
	}
}

// fail reports err unless Close() has been called.
func (c *client) fail(err error) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.errors <- err:
	default:
	}
}

func (c *client) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}
