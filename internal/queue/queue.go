// Package queue buffers outbound messages submitted while the connection
// is down and replays them in submission order.
package queue

import (
	"sync"
	"time"
)

// Message is a queued outbound payload.
type Message struct {
	Payload    []byte
	EnqueuedAt time.Time
	Sequence   uint64 // assigned at enqueue, defines delivery order
}

// Queue is a FIFO ring buffer that doubles its backing array when it
// reaches 70% full. With a non-zero limit it holds at most limit messages
// and evicts the oldest on overflow.
type Queue struct {
	mu       sync.Mutex
	buf      []Message
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	limit    int // 0 = unbounded
	nextSeq  uint64

	// Stats
	totalEnqueued   int64
	totalDispatched int64
	totalDropped    int64
	totalRequeued   int64
	resizeCount     int
}

// Stats contains queue statistics.
type Stats struct {
	Count           int
	Capacity        int
	Limit           int
	TotalEnqueued   int64
	TotalDispatched int64
	TotalDropped    int64
	TotalRequeued   int64
	ResizeCount     int
}

const initialCapacity = 16

// New creates a queue holding at most limit messages (0 = unbounded).
func New(limit int) *Queue {
	if limit < 0 {
		limit = 0
	}
	capacity := initialCapacity
	if limit > 0 && limit < capacity {
		capacity = limit
	}
	return &Queue{
		buf:      make([]Message, capacity),
		capacity: capacity,
		limit:    limit,
	}
}

// Enqueue appends payload with the next sequence number. It reports
// whether the oldest message was dropped to make room.
func (q *Queue) Enqueue(payload []byte, now time.Time) (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := false
	if q.limit > 0 && q.count >= q.limit {
		q.popLocked()
		q.totalDropped++
		dropped = true
	}

	threshold := (q.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold && (q.limit == 0 || q.capacity < q.limit) {
		q.grow()
	}
	if q.count == q.capacity {
		q.grow()
	}

	q.nextSeq++
	msg := Message{
		Payload:    payload,
		EnqueuedAt: now,
		Sequence:   q.nextSeq,
	}
	q.buf[q.tail] = msg
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	q.totalEnqueued++

	return msg, dropped
}

// Drain removes and returns all messages in ascending sequence order.
func (q *Queue) Drain() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}

	result := make([]Message, 0, q.count)
	for q.count > 0 {
		result = append(result, q.popLocked())
	}
	q.totalDispatched += int64(len(result))
	return result
}

// Flush hands messages to dispatch in order, removing each one only after
// dispatch returns nil. It stops at the first error, leaving that message
// at the head. It returns the number of messages removed. dispatch must
// not call back into the Queue.
func (q *Queue) Flush(dispatch func(Message) error) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for q.count > 0 {
		if err := dispatch(q.buf[q.head]); err != nil {
			return n, err
		}
		q.popLocked()
		q.totalDispatched++
		n++
	}
	return n, nil
}

// Requeue puts payloads back at the head, in the given order, ahead of
// everything already queued. Sequence numbers are reassigned across the
// whole queue so delivery order still ascends. With a limit, the oldest
// messages are dropped to fit; the number dropped is returned.
func (q *Queue) Requeue(payloads [][]byte, now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(payloads) == 0 {
		return 0
	}

	msgs := make([]Message, 0, len(payloads)+q.count)
	for _, p := range payloads {
		msgs = append(msgs, Message{Payload: p, EnqueuedAt: now})
	}
	for q.count > 0 {
		msgs = append(msgs, q.popLocked())
	}
	q.totalRequeued += int64(len(payloads))

	dropped := 0
	if q.limit > 0 && len(msgs) > q.limit {
		dropped = len(msgs) - q.limit
		msgs = msgs[dropped:]
		q.totalDropped += int64(dropped)
	}

	for q.capacity < len(msgs) {
		q.grow()
	}
	q.head, q.tail = 0, 0
	for _, msg := range msgs {
		q.nextSeq++
		msg.Sequence = q.nextSeq
		q.buf[q.tail] = msg
		q.tail = (q.tail + 1) % q.capacity
		q.count++
	}
	return dropped
}

// Peek returns the oldest message without removing it.
func (q *Queue) Peek() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return Message{}, false
	}
	return q.buf[q.head], true
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Limit returns the configured cap (0 = unbounded).
func (q *Queue) Limit() int {
	return q.limit
}

// Stats returns queue statistics.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Count:           q.count,
		Capacity:        q.capacity,
		Limit:           q.limit,
		TotalEnqueued:   q.totalEnqueued,
		TotalDispatched: q.totalDispatched,
		TotalDropped:    q.totalDropped,
		TotalRequeued:   q.totalRequeued,
		ResizeCount:     q.resizeCount,
	}
}

// popLocked removes the head. Must be called with lock held and count > 0.
func (q *Queue) popLocked() Message {
	msg := q.buf[q.head]
	q.buf[q.head] = Message{} // Clear reference for GC
	q.head = (q.head + 1) % q.capacity
	q.count--
	return msg
}

// grow doubles the buffer capacity, bounded by limit. Must be called with lock held.
func (q *Queue) grow() {
	newCapacity := q.capacity * 2
	if q.limit > 0 && newCapacity > q.limit {
		newCapacity = q.limit
	}
	if newCapacity <= q.capacity {
		return
	}
	newBuf := make([]Message, newCapacity)

	if q.count > 0 {
		if q.head < q.tail {
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}

	q.buf = newBuf
	q.head = 0
	q.tail = q.count
	q.capacity = newCapacity
	q.resizeCount++
}
