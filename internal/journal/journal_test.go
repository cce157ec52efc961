package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/adw-relay/internal/connection"
	"github.com/rickgao/adw-relay/internal/health"
)

// fakeDB records batches and answers every Exec with tag.
type fakeDB struct {
	mu      sync.Mutex
	batches [][]*pgx.QueuedQuery
	execs   []string
	tag     string
	err     error
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.execs = append(db.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), db.err
}

func (db *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.batches = append(db.batches, b.QueuedQueries)

	tag := db.tag
	if tag == "" {
		tag = "INSERT 0 1"
	}
	return &fakeResults{tag: pgconn.NewCommandTag(tag), err: db.err}
}

func (db *fakeDB) rows() []*pgx.QueuedQuery {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*pgx.QueuedQuery
	for _, b := range db.batches {
		out = append(out, b...)
	}
	return out
}

func (db *fakeDB) batchCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.batches)
}

type fakeResults struct {
	tag pgconn.CommandTag
	err error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) { return r.tag, r.err }
func (r *fakeResults) Query() (pgx.Rows, error)         { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row                { return nil }
func (r *fakeResults) Close() error                     { return nil }

var at = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func TestTransform_StateChanged(t *testing.T) {
	row, ok := transform(connection.StateChanged{
		From:    connection.StateConnected,
		To:      connection.StateReconnecting,
		Attempt: 1,
		Err:     connection.ErrHeartbeatTimeout,
		At:      at,
	})
	if !ok {
		t.Fatal("expected state change to be journaled")
	}

	if row.Kind != "state_changed" {
		t.Errorf("Kind = %s, want state_changed", row.Kind)
	}
	if row.From != "CONNECTED" || row.To != "RECONNECTING" {
		t.Errorf("From/To = %s/%s, want CONNECTED/RECONNECTING", row.From, row.To)
	}
	if row.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", row.Attempt)
	}
	if row.Error == nil || *row.Error != connection.ErrHeartbeatTimeout.Error() {
		t.Errorf("Error = %v, want heartbeat timeout", row.Error)
	}
	if !row.OccurredAt.Equal(at) {
		t.Errorf("OccurredAt = %v, want %v", row.OccurredAt, at)
	}
}

func TestTransform_HealthChanged(t *testing.T) {
	row, ok := transform(connection.HealthChanged{
		From:      health.Healthy,
		To:        health.Degraded,
		LatencyMs: 180,
		At:        at,
	})
	if !ok {
		t.Fatal("expected health change to be journaled")
	}

	if row.Kind != "health_changed" || row.To != "DEGRADED" || row.LatencyMs != 180 {
		t.Errorf("row = %+v", row)
	}
	if row.Error != nil {
		t.Errorf("Error = %v, want nil", *row.Error)
	}
}

func TestTransform_IgnoresOtherEvents(t *testing.T) {
	if _, ok := transform(connection.MessageReceived{Type: "trigger"}); ok {
		t.Error("messages should not be journaled")
	}
	if _, ok := transform(connection.QueueChanged{Count: 3}); ok {
		t.Error("queue changes should not be journaled")
	}
}

func TestJournal_FlushOnStop(t *testing.T) {
	db := &fakeDB{}
	j := New(Config{InstanceID: "relay-a", BatchSize: 100, FlushInterval: time.Hour}, db, nil)

	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	j.Handle(connection.StateChanged{From: connection.StateDisconnected, To: connection.StateConnecting, At: at})
	j.Handle(connection.StateChanged{From: connection.StateConnecting, To: connection.StateConnected, At: at})
	j.Handle(connection.MessageReceived{Type: "ignored"})

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := j.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	rows := db.rows()
	if len(rows) != 2 {
		t.Fatalf("inserted %d rows, want 2", len(rows))
	}
	args := rows[1].Arguments
	if args[1] != "relay-a" {
		t.Errorf("instance_id = %v, want relay-a", args[1])
	}
	if args[3] != "CONNECTING" || args[4] != "CONNECTED" {
		t.Errorf("from/to = %v/%v, want CONNECTING/CONNECTED", args[3], args[4])
	}

	stats := j.Stats()
	if stats.Inserts != 2 || stats.Flushes != 1 {
		t.Errorf("stats = %+v, want 2 inserts in 1 flush", stats)
	}
}

func TestJournal_FlushesFullBatch(t *testing.T) {
	db := &fakeDB{}
	j := New(Config{BatchSize: 2, FlushInterval: time.Hour}, db, nil)

	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer j.Stop(context.Background())

	j.Handle(connection.HealthChanged{From: health.Unknown, To: health.Healthy, At: at})
	j.Handle(connection.HealthChanged{From: health.Healthy, To: health.Degraded, At: at})

	deadline := time.Now().Add(time.Second)
	for db.batchCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(db.rows()); got != 2 {
		t.Errorf("inserted %d rows before Stop, want 2", got)
	}
}

func TestJournal_FlushInterval(t *testing.T) {
	db := &fakeDB{}
	j := New(Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, db, nil)

	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer j.Stop(context.Background())

	j.Handle(connection.StateChanged{From: connection.StateConnected, To: connection.StateReconnecting, At: at})

	deadline := time.Now().Add(time.Second)
	for db.batchCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(db.rows()); got != 1 {
		t.Errorf("inserted %d rows, want 1", got)
	}
}

func TestJournal_Conflicts(t *testing.T) {
	db := &fakeDB{tag: "INSERT 0 0"}
	j := New(Config{BatchSize: 100, FlushInterval: time.Hour}, db, nil)

	j.add(eventRow{Kind: "state_changed"})
	j.flush()

	stats := j.Stats()
	if stats.Conflicts != 1 || stats.Inserts != 0 {
		t.Errorf("stats = %+v, want 1 conflict", stats)
	}
}

func TestJournal_InsertError(t *testing.T) {
	db := &fakeDB{err: errors.New("connection reset")}
	j := New(Config{BatchSize: 100, FlushInterval: time.Hour}, db, nil)

	j.add(eventRow{Kind: "state_changed"})
	j.flush()

	stats := j.Stats()
	if stats.Errors != 1 || stats.Flushes != 0 {
		t.Errorf("stats = %+v, want 1 error and no flushes", stats)
	}
}

func TestJournal_DropsWhenBufferFull(t *testing.T) {
	j := New(Config{BufferSize: 1}, &fakeDB{}, nil)

	// Not started, so nothing drains the buffer.
	j.Handle(connection.StateChanged{To: connection.StateConnecting})
	j.Handle(connection.StateChanged{To: connection.StateConnected})

	if got := j.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestJournal_EnsureSchema(t *testing.T) {
	db := &fakeDB{}
	j := New(Config{}, db, nil)

	if err := j.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if len(db.execs) != 1 || db.execs[0] != Schema {
		t.Errorf("execs = %v, want the schema", db.execs)
	}
}

func TestJournal_DefaultsApplied(t *testing.T) {
	j := New(Config{}, nil, nil)

	if j.cfg.BatchSize != 100 || j.cfg.BufferSize != 1000 || j.cfg.FlushInterval != time.Second {
		t.Errorf("cfg = %+v, want defaults", j.cfg)
	}
}
