// Package broadcast fans events out to subscribers synchronously, in
// registration order.
//
// Publish iterates over the subscriber list as it was when Publish was
// called, so handlers may subscribe or unsubscribe (themselves or others)
// without skipping or repeating delivery to anyone else. A panicking
// handler is logged and does not affect the remaining handlers.
package broadcast

import (
	"log/slog"
	"sync"
)

// Kind identifies an event type.
type Kind string

// Event is a typed notification.
type Event interface {
	Kind() Kind
}

// Handler receives events.
type Handler func(Event)

// Subscription identifies a registered handler.
type Subscription uint64

type subscriber struct {
	id      Subscription
	kind    Kind
	all     bool
	handler Handler
}

// Broadcaster is safe for concurrent use.
type Broadcaster struct {
	logger *slog.Logger

	mu   sync.Mutex
	next Subscription
	subs []subscriber // replaced, never mutated in place
}

// New creates an empty Broadcaster.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{logger: logger}
}

// On registers h for events of the given kind.
func (b *Broadcaster) On(kind Kind, h Handler) Subscription {
	return b.add(subscriber{kind: kind, handler: h})
}

// OnAll registers h for every event.
func (b *Broadcaster) OnAll(h Handler) Subscription {
	return b.add(subscriber{all: true, handler: h})
}

// Off removes a subscription. It reports whether it was registered.
func (b *Broadcaster) Off(id Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id != id {
			continue
		}
		subs := make([]subscriber, 0, len(b.subs)-1)
		subs = append(subs, b.subs[:i]...)
		subs = append(subs, b.subs[i+1:]...)
		b.subs = subs
		return true
	}
	return false
}

// Len returns the number of subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers ev to every matching subscriber and returns the number
// of handlers that panicked.
func (b *Broadcaster) Publish(ev Event) int {
	b.mu.Lock()
	snapshot := b.subs
	b.mu.Unlock()

	failures := 0
	for _, s := range snapshot {
		if !s.all && s.kind != ev.Kind() {
			continue
		}
		if !b.deliver(s, ev) {
			failures++
		}
	}
	return failures
}

func (b *Broadcaster) add(s subscriber) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	s.id = b.next

	subs := make([]subscriber, 0, len(b.subs)+1)
	subs = append(subs, b.subs...)
	subs = append(subs, s)
	b.subs = subs

	return s.id
}

func (b *Broadcaster) deliver(s subscriber, ev Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				"subscription", s.id,
				"event", ev.Kind(),
				"panic", r,
			)
			ok = false
		}
	}()

	s.handler(ev)
	return true
}
