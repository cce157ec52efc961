package connection

import (
	"time"

	"github.com/rickgao/adw-relay/internal/broadcast"
	"github.com/rickgao/adw-relay/internal/health"
)

// Event kinds published by the manager.
const (
	KindStateChanged    broadcast.Kind = "state_changed"
	KindHealthChanged   broadcast.Kind = "health_changed"
	KindMessageReceived broadcast.Kind = "message_received"
	KindQueueChanged    broadcast.Kind = "queue_changed"
	KindProtocolError   broadcast.Kind = "protocol_error"
)

// StateChanged reports a lifecycle transition. Err is set when the
// transition was caused by a failure; a transition to StateFailed carries
// ErrRetriesExhausted.
type StateChanged struct {
	From    State
	To      State
	Attempt int
	Err     error
	At      time.Time
}

// HealthChanged reports a new health classification.
type HealthChanged struct {
	From      health.Health
	To        health.Health
	LatencyMs int64
	At        time.Time
}

// MessageReceived carries an inbound application frame, unmodified.
type MessageReceived struct {
	Type       string
	Data       []byte
	ReceivedAt time.Time
}

// QueueChanged reports the number of messages waiting for a connection.
type QueueChanged struct {
	Count   int
	Dropped int64 // total dropped by the capacity limit
}

// ProtocolError reports an inbound frame that could not be decoded.
type ProtocolError struct {
	Err  error
	Data []byte
}

func (StateChanged) Kind() broadcast.Kind    { return KindStateChanged }
func (HealthChanged) Kind() broadcast.Kind   { return KindHealthChanged }
func (MessageReceived) Kind() broadcast.Kind { return KindMessageReceived }
func (QueueChanged) Kind() broadcast.Kind    { return KindQueueChanged }
func (ProtocolError) Kind() broadcast.Kind   { return KindProtocolError }
