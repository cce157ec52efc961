package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/adw-relay/internal/broadcast"
	"github.com/rickgao/adw-relay/internal/clock"
	"github.com/rickgao/adw-relay/internal/health"
	"github.com/rickgao/adw-relay/internal/heartbeat"
	"github.com/rickgao/adw-relay/internal/queue"
	"github.com/rickgao/adw-relay/internal/reconnect"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock sets the time source for heartbeats and reconnect delays.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) {
		m.clock = clk
	}
}

// WithClientFactory replaces the gorilla/websocket transport.
func WithClientFactory(f ClientFactory) Option {
	return func(m *Manager) {
		m.newClient = f
	}
}

// WithRand sets the jitter source; r must return values in [0, 1).
func WithRand(r func() float64) Option {
	return func(m *Manager) {
		m.rand = r
	}
}

// Manager maintains one WebSocket connection.
//
// State is guarded by a single mutex. Events raised while it is held are
// queued and published after it is released, by whichever goroutine is
// not already publishing, so handlers always observe committed state and
// may call back into the Manager.
type Manager struct {
	cfg       Config
	logger    *slog.Logger
	clock     clock.Clock
	newClient ClientFactory
	rand      func() float64
	events    *broadcast.Broadcaster

	heartbeat *heartbeat.Monitor
	reconnect *reconnect.Scheduler
	queue     *queue.Queue
	health    *health.Monitor

	mu          sync.Mutex
	state       State
	epoch       clock.Epoch
	client      Client
	stopPump    chan struct{}
	cancelDial  context.CancelFunc
	session     string
	connectedAt time.Time
	lastErr     error
	lastHealth  health.Health

	// Closed transports whose unwritten frames have not been requeued yet.
	// Nothing is flushed while this is non-zero.
	returning int

	outbox      []broadcast.Event
	after       []func()
	dispatching bool

	status atomic.Pointer[Status]
}

// NewManager creates a disconnected Manager. Zero-valued config fields take
// their defaults; an invalid config returns an error wrapping ErrInvalidConfig.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:        cfg,
		logger:     slog.Default(),
		clock:      clock.New(),
		newClient:  NewClient,
		state:      StateDisconnected,
		lastHealth: health.Unknown,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "connection")
	m.events = broadcast.New(m.logger)

	policy := cfg.reconnectPolicy()
	policy.Rand = m.rand

	m.queue = queue.New(cfg.QueueCapacity)
	m.health = health.NewMonitor()
	m.reconnect = reconnect.NewScheduler(policy, m.clock, m.do, m.logger)
	m.heartbeat = heartbeat.NewMonitor(cfg.heartbeatConfig(), m.clock, m.do, heartbeat.Handlers{
		SendPing: m.sendPingLocked,
		Timeout:  m.heartbeatTimeoutLocked,
	}, m.logger)

	m.publishStatusLocked()
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Connect starts connecting. It is a no-op while CONNECTED or CONNECTING.
// From RECONNECTING or FAILED it starts a new episode and dials immediately.
func (m *Manager) Connect() {
	m.do(func() {
		switch m.state {
		case StateConnected, StateConnecting:
			return
		}

		m.reconnect.Reset()
		m.setStateLocked(StateConnecting, nil)
		m.dialLocked()
	})
}

// Disconnect stops the heartbeat, cancels any pending reconnect, closes the
// transport and moves to DISCONNECTED. Queued messages are kept, along with
// any the transport had accepted but not yet written.
func (m *Manager) Disconnect() {
	m.do(func() {
		m.heartbeat.Stop()
		m.reconnect.Reset()
		m.epoch.Bump()
		m.dropClientLocked()
		m.setStateLocked(StateDisconnected, nil)
	})
}

// Send dispatches payload when connected and nothing is queued ahead of
// it, and queues it otherwise. It never blocks on the network.
func (m *Manager) Send(payload []byte) {
	m.do(func() {
		m.sendLocked(payload)
	})
}

// SendMessage encodes {"type": typ, "data": data} and sends it. The only
// error is an encoding failure.
func (m *Manager) SendMessage(typ string, data any) error {
	env := Envelope{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode %s data: %w", typ, err)
		}
		env.Data = raw
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", typ, err)
	}
	m.Send(payload)
	return nil
}

// Status returns the latest snapshot without taking the manager lock.
func (m *Manager) Status() Status {
	return *m.status.Load()
}

// On registers a handler for one event kind.
func (m *Manager) On(kind broadcast.Kind, h broadcast.Handler) broadcast.Subscription {
	return m.events.On(kind, h)
}

// OnAll registers a handler for every event.
func (m *Manager) OnAll(h broadcast.Handler) broadcast.Subscription {
	return m.events.OnAll(h)
}

// Off removes a handler.
func (m *Manager) Off(id broadcast.Subscription) bool {
	return m.events.Off(id)
}

// OnStateChanged registers a typed state handler.
func (m *Manager) OnStateChanged(fn func(StateChanged)) broadcast.Subscription {
	return m.events.On(KindStateChanged, func(ev broadcast.Event) {
		fn(ev.(StateChanged))
	})
}

// OnHealthChanged registers a typed health handler.
func (m *Manager) OnHealthChanged(fn func(HealthChanged)) broadcast.Subscription {
	return m.events.On(KindHealthChanged, func(ev broadcast.Event) {
		fn(ev.(HealthChanged))
	})
}

// OnMessage registers a typed inbound message handler.
func (m *Manager) OnMessage(fn func(MessageReceived)) broadcast.Subscription {
	return m.events.On(KindMessageReceived, func(ev broadcast.Event) {
		fn(ev.(MessageReceived))
	})
}

// do runs fn under the lock, then runs deferred transport work and
// publishes queued events outside of it.
func (m *Manager) do(fn func()) {
	m.mu.Lock()
	fn()
	m.publishStatusLocked()
	after := m.after
	m.after = nil
	if m.dispatching {
		m.mu.Unlock()
		runAll(after)
		return
	}
	m.dispatching = true
	m.mu.Unlock()

	runAll(after)

	for {
		m.mu.Lock()
		events := m.outbox
		m.outbox = nil
		if len(events) == 0 {
			m.dispatching = false
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		for _, ev := range events {
			m.events.Publish(ev)
		}
	}
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

func (m *Manager) emitLocked(ev broadcast.Event) {
	m.outbox = append(m.outbox, ev)
}

func (m *Manager) setStateLocked(to State, cause error) {
	from := m.state
	if from == to {
		return
	}
	m.state = to

	attrs := []any{
		"from", from,
		"to", to,
		"attempt", m.reconnect.Attempts(),
	}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	m.logger.Info("connection state changed", attrs...)

	m.emitLocked(StateChanged{
		From:    from,
		To:      to,
		Attempt: m.reconnect.Attempts(),
		Err:     cause,
		At:      m.clock.Now(),
	})
	m.checkHealthLocked()
}

func (m *Manager) checkHealthLocked() {
	h := m.health.Health(m.state == StateConnected)
	if h == m.lastHealth {
		return
	}

	m.emitLocked(HealthChanged{
		From:      m.lastHealth,
		To:        h,
		LatencyMs: m.health.Average().Milliseconds(),
		At:        m.clock.Now(),
	})
	m.lastHealth = h
}

func (m *Manager) publishStatusLocked() {
	st := Status{
		State:         m.state,
		Health:        m.health.Health(m.state == StateConnected),
		LatencyMs:     m.health.Average().Milliseconds(),
		QueuedCount:   m.queue.Len(),
		AttemptNumber: m.reconnect.Attempts(),
		SessionID:     m.session,
		Dropped:       m.queue.Stats().TotalDropped,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	if m.state == StateConnected {
		at := m.connectedAt
		st.ConnectedAt = &at
	}
	m.status.Store(&st)
}

// dialLocked starts a connection attempt for the current state.
func (m *Manager) dialLocked() {
	tok := m.epoch.Bump()
	m.cancelDialLocked()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel

	c := m.newClient(m.cfg.clientConfig(), m.logger)
	m.logger.Debug("dialing", "url", m.cfg.URL(), "attempt", m.reconnect.Attempts())

	go func() {
		err := c.Connect(ctx)
		m.do(func() {
			m.handleDialLocked(tok, c, err)
		})
	}()
}

func (m *Manager) handleDialLocked(tok uint64, c Client, err error) {
	if !m.epoch.Valid(tok) {
		// Superseded by Disconnect or a manual Connect.
		m.after = append(m.after, func() { c.Close() })
		return
	}
	m.cancelDialLocked()

	if err != nil {
		m.logger.Warn("connection attempt failed",
			"url", m.cfg.URL(),
			"attempt", m.reconnect.Attempts(),
			"error", err,
		)
		m.lastErr = err
		m.after = append(m.after, func() { c.Close() })
		m.scheduleReconnectLocked(err)
		return
	}

	m.client = c
	m.session = uuid.NewString()
	m.connectedAt = m.clock.Now()
	m.lastErr = nil
	m.reconnect.Reset()
	m.health.Reset()

	stop := make(chan struct{})
	m.stopPump = stop
	go m.pump(tok, c, stop)

	m.logger.Info("connected", "url", m.cfg.URL(), "session", m.session)
	m.setStateLocked(StateConnected, nil)
	m.heartbeat.Start()
	m.flushLocked()
}

// scheduleReconnectLocked tears down the transport and arms the next
// attempt, or moves to FAILED once the ceiling is reached.
func (m *Manager) scheduleReconnectLocked(cause error) {
	m.heartbeat.Stop()
	m.dropClientLocked()

	if _, ok := m.reconnect.Schedule(m.reconnectNowLocked); !ok {
		m.lastErr = fmt.Errorf("%w: %v", ErrRetriesExhausted, cause)
		m.logger.Error("giving up on connection",
			"url", m.cfg.URL(),
			"max_attempts", m.cfg.MaxReconnectAttempts,
			"error", cause,
		)
		m.setStateLocked(StateFailed, m.lastErr)
		return
	}
	m.setStateLocked(StateReconnecting, cause)
}

func (m *Manager) reconnectNowLocked() {
	if m.state != StateReconnecting {
		return
	}
	m.dialLocked()
}

func (m *Manager) handleLossLocked(tok uint64, err error) {
	if !m.epoch.Valid(tok) || m.state != StateConnected {
		return
	}
	m.epoch.Bump()
	m.lastErr = err
	m.logger.Warn("connection lost", "session", m.session, "error", err)
	m.scheduleReconnectLocked(err)
}

func (m *Manager) heartbeatTimeoutLocked() {
	m.handleLossLocked(m.epoch.Current(), ErrHeartbeatTimeout)
}

// dropClientLocked stops the pump and closes the transport after unlock.
func (m *Manager) dropClientLocked() {
	m.cancelDialLocked()
	if m.stopPump != nil {
		close(m.stopPump)
		m.stopPump = nil
	}
	if c := m.client; c != nil {
		m.returning++
		m.after = append(m.after, func() {
			if err := c.Close(); err != nil {
				m.logger.Debug("close transport", "error", err)
			}
			unsent := c.Unsent()
			m.do(func() {
				m.requeueLocked(unsent)
			})
		})
		m.client = nil
	}
	m.session = ""
	m.health.Reset()
}

// requeueLocked puts frames a closed transport never wrote back at the
// head of the queue. Heartbeat frames are discarded.
func (m *Manager) requeueLocked(frames [][]byte) {
	m.returning--

	var payloads [][]byte
	for _, data := range frames {
		if !isHeartbeatFrame(data) {
			payloads = append(payloads, data)
		}
	}

	if len(payloads) > 0 {
		dropped := m.queue.Requeue(payloads, m.clock.Now())
		stats := m.queue.Stats()
		m.logger.Warn("requeued unsent messages",
			"count", len(payloads),
			"dropped", dropped,
			"queued", stats.Count,
		)
		m.emitLocked(QueueChanged{Count: stats.Count, Dropped: stats.TotalDropped})
	}

	if m.returning == 0 && m.state == StateConnected {
		m.flushLocked()
	}
}

func isHeartbeatFrame(data []byte) bool {
	var f inboundFrame
	if json.Unmarshal(data, &f) != nil {
		return false
	}
	return f.Type == TypePing || f.Type == TypePong
}

func (m *Manager) cancelDialLocked() {
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
}

// pump forwards transport output into the manager until stop is closed.
func (m *Manager) pump(tok uint64, c Client, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case msg := <-c.Messages():
			m.do(func() {
				m.handleFrameLocked(tok, msg)
			})
		case err := <-c.Errors():
			m.do(func() {
				m.handleLossLocked(tok, err)
			})
			return
		}
	}
}

func (m *Manager) handleFrameLocked(tok uint64, msg TimestampedMessage) {
	if !m.epoch.Valid(tok) {
		return
	}

	var f inboundFrame
	if err := json.Unmarshal(msg.Data, &f); err != nil {
		perr := fmt.Errorf("%w: %v", ErrProtocol, err)
		m.logger.Warn("malformed frame", "error", perr, "size", len(msg.Data))
		m.emitLocked(ProtocolError{Err: perr, Data: msg.Data})
		return
	}

	switch f.Type {
	case TypePong:
		now := m.clock.Now()
		rtt, ok := m.heartbeat.HandlePong(f.Timestamp, now)
		if !ok {
			return
		}
		m.health.Add(health.Sample{Latency: rtt, Timestamp: now})
		m.logger.Debug("pong", "rtt", rtt, "avg", m.health.Average())
		m.checkHealthLocked()

	case TypePing:
		if err := m.writeLocked(Heartbeat{Type: TypePong, Timestamp: f.Timestamp}); err != nil {
			m.logger.Debug("failed to answer ping", "error", err)
		}

	default:
		m.emitLocked(MessageReceived{
			Type:       f.Type,
			Data:       msg.Data,
			ReceivedAt: msg.ReceivedAt,
		})
	}
}

func (m *Manager) sendPingLocked(ts int64) error {
	// Retry anything a full send buffer left behind.
	m.flushLocked()
	return m.writeLocked(Heartbeat{Type: TypePing, Timestamp: ts})
}

// writeLocked sends a control frame, bypassing the queue.
func (m *Manager) writeLocked(v any) error {
	if m.client == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.client.Send(data)
}

func (m *Manager) sendLocked(payload []byte) {
	if m.state == StateConnected && m.client != nil {
		m.flushLocked()
		if m.queue.Len() == 0 && m.returning == 0 {
			err := m.client.Send(payload)
			if err == nil {
				return
			}
			m.logger.Debug("send failed, queueing", "error", err)
		}
	}
	m.enqueueLocked(payload)
}

func (m *Manager) enqueueLocked(payload []byte) {
	msg, dropped := m.queue.Enqueue(payload, m.clock.Now())
	stats := m.queue.Stats()
	if dropped {
		m.logger.Warn("queue full, dropped oldest message",
			"limit", stats.Limit,
			"dropped_total", stats.TotalDropped,
		)
	}
	m.logger.Debug("message queued", "sequence", msg.Sequence, "queued", stats.Count, "state", m.state)
	m.emitLocked(QueueChanged{Count: stats.Count, Dropped: stats.TotalDropped})
}

// flushLocked dispatches queued messages in order until the queue is empty
// or the transport refuses one. It waits while an earlier transport's
// unwritten frames are still on their way back.
func (m *Manager) flushLocked() {
	if m.client == nil || m.returning > 0 || m.queue.Len() == 0 {
		return
	}

	c := m.client
	n, err := m.queue.Flush(func(msg queue.Message) error {
		return c.Send(msg.Payload)
	})
	if n > 0 {
		stats := m.queue.Stats()
		m.logger.Info("flushed queued messages", "count", n, "remaining", stats.Count)
		m.emitLocked(QueueChanged{Count: stats.Count, Dropped: stats.TotalDropped})
	}
	if err != nil {
		m.logger.Warn("queue flush interrupted", "remaining", m.queue.Len(), "error", err)
	}
}
