package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/adw-relay/internal/broadcast"
	"github.com/rickgao/adw-relay/internal/clock"
)

var errRefused = errors.New("connection refused")

// fakeClient is an in-memory Client.
type fakeClient struct {
	connectErr error

	mu       sync.Mutex
	sent     [][]byte
	held     [][]byte // accepted but not yet written
	hold     bool
	sendErr  error
	closed   bool
	messages chan TimestampedMessage
	errors   chan error
}

func newFakeClient(connectErr error) *fakeClient {
	return &fakeClient{
		connectErr: connectErr,
		messages:   make(chan TimestampedMessage, 16),
		errors:     make(chan error, 1),
	}
}

func (c *fakeClient) Connect(ctx context.Context) error { return c.connectErr }

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.hold {
		c.held = append(c.held, data)
		return nil
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeClient) Unsent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.held
	c.held = nil
	return out
}

// holdSends makes Send accept frames without writing them, like a write
// loop that has fallen behind.
func (c *fakeClient) holdSends() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hold = true
}

func (c *fakeClient) Messages() <-chan TimestampedMessage { return c.messages }
func (c *fakeClient) Errors() <-chan error                { return c.errors }
func (c *fakeClient) IsConnected() bool                   { return c.connectErr == nil }

func (c *fakeClient) setSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// sentOfType returns payloads sent with the given envelope type.
func (c *fakeClient) sentOfType(typ string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out [][]byte
	for _, data := range c.sent {
		var f inboundFrame
		if json.Unmarshal(data, &f) == nil && f.Type == typ {
			out = append(out, data)
		}
	}
	return out
}

// appSent returns payloads that are not heartbeat frames, as strings.
func (c *fakeClient) appSent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for _, data := range c.sent {
		var f inboundFrame
		if json.Unmarshal(data, &f) == nil && (f.Type == TypePing || f.Type == TypePong) {
			continue
		}
		out = append(out, string(data))
	}
	return out
}

func (c *fakeClient) deliver(data string) {
	c.messages <- TimestampedMessage{Data: []byte(data), ReceivedAt: time.Now()}
}

// fakeDialer hands out fakeClients; each dial consumes the next result.
// Dials past the end of results succeed.
type fakeDialer struct {
	mu      sync.Mutex
	results []error
	always  error
	clients []*fakeClient
}

func (d *fakeDialer) factory(cfg ClientConfig, logger *slog.Logger) Client {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.always
	if len(d.results) > 0 {
		err = d.results[0]
		d.results = d.results[1:]
	}
	c := newFakeClient(err)
	d.clients = append(d.clients, c)
	return c
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

func (d *fakeDialer) last() *fakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.clients) == 0 {
		return nil
	}
	return d.clients[len(d.clients)-1]
}

// recorder collects events from a Manager.
type recorder struct {
	mu     sync.Mutex
	states []StateChanged
	health []HealthChanged
	msgs   []MessageReceived
	queue  []QueueChanged
	protos []ProtocolError
}

func record(m *Manager) *recorder {
	r := &recorder{}
	m.OnStateChanged(func(ev StateChanged) {
		r.mu.Lock()
		r.states = append(r.states, ev)
		r.mu.Unlock()
	})
	m.OnHealthChanged(func(ev HealthChanged) {
		r.mu.Lock()
		r.health = append(r.health, ev)
		r.mu.Unlock()
	})
	m.OnMessage(func(ev MessageReceived) {
		r.mu.Lock()
		r.msgs = append(r.msgs, ev)
		r.mu.Unlock()
	})
	m.On(KindQueueChanged, func(ev broadcast.Event) {
		r.mu.Lock()
		r.queue = append(r.queue, ev.(QueueChanged))
		r.mu.Unlock()
	})
	m.On(KindProtocolError, func(ev broadcast.Event) {
		r.mu.Lock()
		r.protos = append(r.protos, ev.(ProtocolError))
		r.mu.Unlock()
	})
	return r
}

// path returns the recorded states as a From->To path.
func (r *recorder) path() []State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.states) == 0 {
		return nil
	}
	path := []State{r.states[0].From}
	for _, ev := range r.states {
		path = append(path, ev.To)
	}
	return path
}

func (r *recorder) countTo(s State) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, ev := range r.states {
		if ev.To == s {
			n++
		}
	}
	return n
}

type harness struct {
	t      *testing.T
	clock  *clock.Fake
	dialer *fakeDialer
	mgr    *Manager
	events *recorder
}

func newHarness(t *testing.T, cfg Config, dialer *fakeDialer) *harness {
	t.Helper()
	if dialer == nil {
		dialer = &fakeDialer{}
	}
	clk := clock.NewFake(time.UnixMilli(1_700_000_000_000))

	mgr, err := NewManager(cfg,
		WithClock(clk),
		WithClientFactory(dialer.factory),
		WithRand(func() float64 { return 0.5 }), // no jitter
	)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	return &harness{
		t:      t,
		clock:  clk,
		dialer: dialer,
		mgr:    mgr,
		events: record(mgr),
	}
}

func testConfig() Config {
	return Config{Host: "localhost", Port: 8002}
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) waitState(s State) {
	h.t.Helper()
	eventually(h.t, "state "+string(s), func() bool {
		return h.mgr.Status().State == s
	})
}

// waitReconnectTimer waits for exactly one pending timer (the reconnect
// delay) and returns its delay.
func (h *harness) waitReconnectTimer() time.Duration {
	h.t.Helper()
	var delay time.Duration
	eventually(h.t, "reconnect timer", func() bool {
		pending := h.clock.Pending()
		if len(pending) != 1 {
			return false
		}
		delay = pending[0]
		return true
	})
	return delay
}
